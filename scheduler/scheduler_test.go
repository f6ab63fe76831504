package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/internal/testutil"
	"github.com/hupe1980/coachmesh/registry"
)

func newTestRegistry(t *testing.T, entries ...registry.Entry) *registry.Registry {
	t.Helper()

	reg := registry.New(func(o *registry.Options) {
		o.Safety = "Guardrail"
		o.Synthesis = "Synthesis"
		o.Triage = "Planner"
	})

	for _, e := range entries {
		require.NoError(t, reg.Register(e))
	}

	return reg
}

func passThroughGuardrail() *testutil.ScriptedWorker {
	return &testutil.ScriptedWorker{WorkerName: "Guardrail", Steps: [][]string{{"Planner"}}}
}

func TestScheduler_SequentialFlow(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner", Steps: [][]string{{"Physician"}}}
	physician := &testutil.ScriptedWorker{WorkerName: "Physician", Steps: [][]string{{"Synthesis"}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "all done"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: physician, Domain: "medical"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	conv.AddMessage("user", "how are my labs?", "")

	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "all done", result.FinalText)
	assert.Equal(t, 1, guardrail.Runs())
	assert.Equal(t, 1, planner.Runs())
	assert.Equal(t, 1, physician.Runs())
	assert.Equal(t, 1, synthesis.Runs())
	assert.Equal(t, 3, conv.HopCount())
}

func TestScheduler_SafetyStopEndsTurn(t *testing.T) {
	guardrail := &testutil.ScriptedWorker{
		WorkerName: "Guardrail",
		Steps:      [][]string{{core.StopSentinel}},
		OnRun: func(conv *core.ConversationContext) {
			conv.AddMessage("assistant", "please call emergency services", "Guardrail")
		},
	}
	planner := &testutil.ScriptedWorker{WorkerName: "Planner"}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "please call emergency services", result.FinalText)
	assert.Equal(t, 0, planner.Runs(), "nothing runs after a safety stop")
	assert.Equal(t, 0, synthesis.Runs())
}

func TestScheduler_SafetyErrorNonFatal(t *testing.T) {
	guardrail := &testutil.ScriptedWorker{WorkerName: "Guardrail", Err: errors.New("guardrail down")}
	planner := &testutil.ScriptedWorker{WorkerName: "Planner", Steps: [][]string{{"Synthesis"}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "still answered"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "still answered", result.FinalText)
	assert.Equal(t, 1, synthesis.Runs())
}

func TestScheduler_EmptyHandoffIsTerminal(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{
		WorkerName: "Planner",
		Steps:      [][]string{{}},
		OnRun: func(conv *core.ConversationContext) {
			conv.AddMessage("assistant", "nothing more to do", "Planner")
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "nothing more to do", result.FinalText)
	assert.Equal(t, 0, synthesis.Runs())
}

func TestScheduler_LoopGuardForcesSynthesis(t *testing.T) {
	guardrail := passThroughGuardrail()
	// Planner and Physician ping-pong forever without the guard.
	planner := &testutil.ScriptedWorker{WorkerName: "Planner", Steps: [][]string{{"Physician"}}}
	physician := &testutil.ScriptedWorker{WorkerName: "Physician", Steps: [][]string{{"Planner"}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "synthesized anyway"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: physician, Domain: "medical"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "synthesized anyway", result.FinalText)
	assert.Equal(t, 1, synthesis.Runs())
	assert.LessOrEqual(t, planner.Runs(), 3)
	assert.LessOrEqual(t, physician.Runs(), 3)

	var found bool
	for _, f := range conv.Findings() {
		if f.Origin == "scheduler" && strings.Contains(f.Text, "loop prevention activated") {
			found = true
		}
	}
	assert.True(t, found, "loop guard leaves an explanatory finding")
}

func TestScheduler_HopBudgetExhaustion(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{
		WorkerName: "Planner",
		Steps:      [][]string{{"Planner"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.AddMessage("assistant", "partial progress", "Planner")
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg, func(o *Options) {
		o.HopBudget = 4
		o.LoopThreshold = 100
	}).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, 4, conv.HopCount())
	assert.Equal(t, "partial progress", result.FinalText, "budget exhaustion returns the best effort so far")
	assert.Contains(t, strings.Join(result.Trace, "\n"), "hop budget exhausted")
}

func TestScheduler_UnknownWorkerSubstitution(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner", Steps: [][]string{{"Ghost"}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "fail-safe reply"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "fail-safe reply", result.FinalText)
	assert.Contains(t, strings.Join(result.Trace, "\n"), `unknown worker "Ghost"`)
}

func TestScheduler_WorkerErrorRoutesToSynthesis(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner", Steps: [][]string{{"Physician"}}}
	physician := &testutil.ScriptedWorker{WorkerName: "Physician", Err: errors.New("backend unavailable")}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "degraded but present"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: physician, Domain: "medical"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "degraded but present", result.FinalText)
	assert.Equal(t, 1, synthesis.Runs())
}

func TestScheduler_ParallelDispatchWithDependencyCompletion(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{
		WorkerName: "Planner",
		Steps:      [][]string{{"Nutritionist", "SleepDoctor"}},
	}
	nutritionist := &testutil.ScriptedWorker{
		WorkerName: "Nutritionist",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.SignalDomain(core.DomainSignal{Domain: "nutrition", Status: core.DomainCompleted})
		},
	}
	// The sleep specialist only fulfills its domain on the second pass, so
	// the first merge still owes the sleep domain.
	var sleepRuns atomic.Int64
	sleepDoctor := &testutil.ScriptedWorker{
		WorkerName: "SleepDoctor",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			if sleepRuns.Add(1) == 2 {
				conv.SignalDomain(core.DomainSignal{Domain: "sleep", Status: core.DomainCompleted})
			}
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "combined plan"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: nutritionist, Domain: "nutrition"},
		registry.Entry{Worker: sleepDoctor, Domain: "sleep"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "combined plan", result.FinalText)
	assert.Equal(t, 1, nutritionist.Runs())
	assert.Equal(t, 2, sleepDoctor.Runs(), "owner re-added while its domain is pending")
	assert.Equal(t, 1, synthesis.Runs(), "synthesis held back until all domains completed")
	assert.Empty(t, conv.PendingDomains())

	trace := strings.Join(result.Trace, "\n")
	assert.Contains(t, trace, "holding back Synthesis")
	assert.Contains(t, trace, "re-adding SleepDoctor")
}

func TestScheduler_LoopGuardOverridesPendingDomains(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{
		WorkerName: "Planner",
		Steps:      [][]string{{"Nutritionist", "SleepDoctor"}},
	}
	nutritionist := &testutil.ScriptedWorker{
		WorkerName: "Nutritionist",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.SignalDomain(core.DomainSignal{Domain: "nutrition", Status: core.DomainCompleted})
		},
	}
	// Never completes its domain, always asks to run again.
	sleepDoctor := &testutil.ScriptedWorker{WorkerName: "SleepDoctor", Steps: [][]string{{"SleepDoctor"}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "forced out of the loop"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: nutritionist, Domain: "nutrition"},
		registry.Entry{Worker: sleepDoctor, Domain: "sleep"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "forced out of the loop", result.FinalText)
	assert.Equal(t, 3, sleepDoctor.Runs())
	assert.Equal(t, 1, synthesis.Runs())
	assert.Equal(t, []string{"sleep"}, conv.PendingDomains(), "the stuck domain stays owed for the next turn")
}

func TestScheduler_StrayStopDroppedFromMergedSet(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{
		WorkerName: "Planner",
		Steps:      [][]string{{"Nutritionist", "SleepDoctor"}},
	}
	nutritionist := &testutil.ScriptedWorker{WorkerName: "Nutritionist", Steps: [][]string{{"Synthesis"}}}
	sleepDoctor := &testutil.ScriptedWorker{WorkerName: "SleepDoctor", Steps: [][]string{{core.StopSentinel}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "merged"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: nutritionist, Domain: "nutrition"},
		registry.Entry{Worker: sleepDoctor, Domain: "sleep"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	// Domain completion is signalled by neither specialist, so disable the
	// dependency hold-back by not requiring domains: signal both as done.
	conv.SignalDomain(core.DomainSignal{Domain: "nutrition", Status: core.DomainCompleted})
	conv.SignalDomain(core.DomainSignal{Domain: "sleep", Status: core.DomainCompleted})

	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "merged", result.FinalText)
	assert.Equal(t, 1, synthesis.Runs())
}

func TestScheduler_PlanDeliveryEntrySet(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner"}
	nutritionist := &testutil.ScriptedWorker{
		WorkerName: "Nutritionist",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.SignalDomain(core.DomainSignal{Domain: "nutrition", Status: core.DomainCompleted})
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "your plan"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: nutritionist, Domain: "nutrition"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	conv.RegisterOffer("comprehensive_plan", []string{"Nutritionist"})
	conv.ConfirmOffer()

	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "your plan", result.FinalText)
	assert.Equal(t, 0, planner.Runs(), "confirmed targets bypass triage")
	assert.Equal(t, 1, nutritionist.Runs())
}

func TestScheduler_DirectSynthesisFocus(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner"}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "quick answer"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	st := conv.State()
	st.Focus = "other"
	conv.SetState(st)

	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "quick answer", result.FinalText)
	assert.Equal(t, 0, planner.Runs())
}

func TestScheduler_SpeculativeRunClaimed(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner"}
	nutritionist := &testutil.ScriptedWorker{
		WorkerName: "Nutritionist",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.SignalDomain(core.DomainSignal{Domain: "nutrition", Status: core.DomainCompleted})
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis", Reply: "speculated"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: nutritionist, Domain: "nutrition", Speculative: true},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	conv.RegisterOffer("comprehensive_plan", []string{"Nutritionist"})
	conv.ConfirmOffer()

	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, "speculated", result.FinalText)
	assert.Equal(t, 1, nutritionist.Runs(), "claimed speculative run is not re-executed")

	trace := strings.Join(result.Trace, "\n")
	assert.Contains(t, trace, "speculative start Nutritionist")
	assert.Contains(t, trace, "claiming speculative run of Nutritionist")
}

func TestScheduler_SpeculationDisabled(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner"}
	nutritionist := &testutil.ScriptedWorker{
		WorkerName: "Nutritionist",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.SignalDomain(core.DomainSignal{Domain: "nutrition", Status: core.DomainCompleted})
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: nutritionist, Domain: "nutrition", Speculative: true},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	conv.RegisterOffer("comprehensive_plan", []string{"Nutritionist"})
	conv.ConfirmOffer()

	result, err := New(reg, func(o *Options) {
		o.Speculation = false
	}).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, 1, nutritionist.Runs())
	assert.NotContains(t, strings.Join(result.Trace, "\n"), "speculative start")
}

func TestScheduler_NonSpeculativeEntryNeverSpeculated(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner"}
	physician := &testutil.ScriptedWorker{
		WorkerName: "Physician",
		Steps:      [][]string{{"Synthesis"}},
		OnRun: func(conv *core.ConversationContext) {
			conv.SignalDomain(core.DomainSignal{Domain: "medical", Status: core.DomainCompleted})
		},
	}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: physician, Domain: "medical"},
		registry.Entry{Worker: synthesis},
	)

	conv := core.NewConversationContext("s1")
	conv.RegisterOffer("checkup", []string{"Physician"})
	conv.ConfirmOffer()

	result, err := New(reg).RunTurn(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, 1, physician.Runs())
	assert.NotContains(t, strings.Join(result.Trace, "\n"), "speculative start")
}

func TestScheduler_CancelledContext(t *testing.T) {
	guardrail := passThroughGuardrail()
	planner := &testutil.ScriptedWorker{WorkerName: "Planner", Steps: [][]string{{"Planner"}}}
	synthesis := &testutil.StopWorker{WorkerName: "Synthesis"}

	reg := newTestRegistry(t,
		registry.Entry{Worker: guardrail},
		registry.Entry{Worker: planner},
		registry.Entry{Worker: synthesis},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conv := core.NewConversationContext("s1")
	_, err := New(reg).RunTurn(ctx, conv)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeResults(t *testing.T) {
	tests := []struct {
		name     string
		results  [][]string
		expected []string
	}{
		{
			name:     "union preserves first-seen order",
			results:  [][]string{{"A", "B"}, {"B", "C"}},
			expected: []string{"A", "B", "C"},
		},
		{
			name:     "stray stop dropped from mixed set",
			results:  [][]string{{"A"}, {core.StopSentinel}},
			expected: []string{"A"},
		},
		{
			name:     "pure stop set survives",
			results:  [][]string{{core.StopSentinel}},
			expected: []string{core.StopSentinel},
		},
		{
			name:     "empty results",
			results:  [][]string{nil, {}},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mergeResults(tt.results))
		})
	}
}
