package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationContext_Intent(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.SetIntent("improve my cholesterol")
	conv.SetIntent("something else entirely")

	assert.Equal(t, "improve my cholesterol", conv.Intent(), "only the first intent sticks")
}

func TestConversationContext_History(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.AddMessage("user", "hello", "")
	conv.AddMessage("assistant", "hi there", "Synthesis")
	conv.AddMessage("user", "how are my labs?", "")

	msg, ok := conv.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "how are my labs?", msg.Content)

	msg, ok = conv.LastUserMessage()
	require.True(t, ok)
	assert.Equal(t, "how are my labs?", msg.Content)

	msg, ok = conv.LastMessageFrom("Synthesis")
	require.True(t, ok)
	assert.Equal(t, "hi there", msg.Content)

	_, ok = conv.LastMessageFrom("Nobody")
	assert.False(t, ok)
}

func TestConversationContext_ToolCacheInvalidation(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.StoreTool("get_biomarkers|{}", "LDL high")
	v, ok := conv.CachedTool("get_biomarkers|{}")
	require.True(t, ok)
	assert.Equal(t, "LDL high", v)
	assert.Equal(t, 1, conv.ToolCacheSize())

	version := conv.BumpDataVersion()
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, 0, conv.ToolCacheSize())

	_, ok = conv.CachedTool("get_biomarkers|{}")
	assert.False(t, ok, "stale results must never be served after a data change")
}

func TestConversationContext_DomainSignals(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.RequireDomains([]string{"nutrition", "sleep"})
	assert.Equal(t, []string{"nutrition", "sleep"}, conv.PendingDomains())

	conv.SignalDomain(DomainSignal{Domain: "nutrition", Status: DomainCompleted})
	assert.True(t, conv.DomainDone("nutrition"))
	assert.Equal(t, []string{"sleep"}, conv.PendingDomains())

	// A completed domain is not re-owed when required again.
	conv.RequireDomains([]string{"nutrition", "fitness"})
	assert.Equal(t, []string{"sleep", "fitness"}, conv.PendingDomains())

	conv.SignalDomain(DomainSignal{Domain: "sleep", Status: DomainCompleted})
	conv.SignalDomain(DomainSignal{Domain: "fitness", Status: DomainCompleted})
	assert.Empty(t, conv.PendingDomains())

	conv.ClearPlanDomains()
	assert.Empty(t, conv.PendingDomains())
}

func TestConversationContext_OfferLifecycle(t *testing.T) {
	t.Run("confirm", func(t *testing.T) {
		conv := NewConversationContext("s1")

		conv.RegisterOffer("comprehensive_plan", []string{"Nutritionist", "FitnessCoach"})
		st := conv.State()
		assert.Equal(t, StageAwaitingConfirmation, st.Stage)
		assert.Equal(t, "comprehensive_plan", st.PendingOffer)
		assert.Empty(t, st.ConfirmedTargets)

		conv.ConfirmOffer()
		st = conv.State()
		assert.Equal(t, StagePlanDelivery, st.Stage)
		assert.Empty(t, st.PendingOffer)
		assert.Equal(t, []string{"Nutritionist", "FitnessCoach"}, st.ConfirmedTargets)
		assert.Equal(t, "plan", st.Focus)
	})

	t.Run("decline", func(t *testing.T) {
		conv := NewConversationContext("s1")

		conv.RegisterOffer("comprehensive_plan", []string{"Nutritionist"})
		conv.ClearOffer()

		st := conv.State()
		assert.Equal(t, StageDiagnosis, st.Stage)
		assert.Empty(t, st.PendingOffer)
		assert.Empty(t, st.ConfirmedTargets)
	})

	t.Run("confirm without offer is a no-op", func(t *testing.T) {
		conv := NewConversationContext("s1")

		conv.ConfirmOffer()

		st := conv.State()
		assert.Equal(t, StageTriage, st.Stage)
		assert.Empty(t, st.ConfirmedTargets)
	})

	t.Run("re-registering drops prior confirmed targets", func(t *testing.T) {
		conv := NewConversationContext("s1")

		conv.RegisterOffer("plan_a", []string{"Nutritionist"})
		conv.ConfirmOffer()
		conv.RegisterOffer("plan_b", []string{"SleepDoctor"})

		st := conv.State()
		assert.Equal(t, StageAwaitingConfirmation, st.Stage)
		assert.Empty(t, st.ConfirmedTargets)
	})
}

func TestConversationContext_Widgets(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.AddWidget(Widget{Type: "meal_plan", Payload: map[string]any{"origin": "Nutritionist"}})

	assert.True(t, conv.WidgetStaged("meal_plan", "Nutritionist"))
	assert.False(t, conv.WidgetStaged("meal_plan", "FitnessCoach"))
	assert.False(t, conv.WidgetStaged("workout_plan", "Nutritionist"))

	drained := conv.DrainWidgets()
	require.Len(t, drained, 1)
	assert.Equal(t, "meal_plan", drained[0].Type)

	assert.Empty(t, conv.DrainWidgets(), "drain clears the buffer")
	assert.False(t, conv.WidgetStaged("meal_plan", "Nutritionist"))
}

func TestConversationContext_Hops(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.BeginTurn()
	assert.Equal(t, 0, conv.HopCount())
	assert.Equal(t, 1, conv.NextHop())
	assert.Equal(t, 2, conv.NextHop())

	conv.BeginTurn()
	assert.Equal(t, 0, conv.HopCount(), "hop counter resets per turn")
}

func TestConversationContext_Findings(t *testing.T) {
	conv := NewConversationContext("s1")

	conv.AddFinding("Physician", "LDL elevated")
	conv.AddFinding("Guardrail", "FOCUS=wellbeing")
	conv.AddFinding("Physician", "glucose normal")

	f, ok := conv.LastFindingFrom("Physician")
	require.True(t, ok)
	assert.Equal(t, "glucose normal", f.Text)

	_, ok = conv.LastFindingFrom("Planner")
	assert.False(t, ok)

	assert.Len(t, conv.Findings(), 3)
}

func TestConversationState_Clone(t *testing.T) {
	st := ConversationState{
		Stage:        StageAwaitingConfirmation,
		PendingOffer: "comprehensive_plan",
		OfferTargets: []string{"Nutritionist"},
	}

	clone := st.Clone()
	clone.OfferTargets[0] = "mutated"

	assert.Equal(t, "Nutritionist", st.OfferTargets[0])
}
