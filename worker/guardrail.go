package worker

import (
	"context"
	"strings"

	"github.com/hupe1980/coachmesh/core"
)

const emergencyReply = "This sounds like it could be a medical emergency. Please contact your local " +
	"emergency services or a crisis line right away - I'm not able to help with urgent situations."

// GuardrailOptions holds configuration overrides for the guardrail worker.
type GuardrailOptions struct {
	// EmergencyTerms trigger the stop sentinel with an emergency reply.
	EmergencyTerms []string
	// WellbeingTerms seed the focus classification with a wellbeing status
	// line.
	WellbeingTerms []string
	// Next is the handoff returned on the non-emergency path. The scheduler
	// derives the real entry set itself; this keeps the worker contract's
	// no-empty-list rule.
	Next []string
}

// Guardrail is the fixed safety worker invoked first and synchronously every
// turn. Its stop sentinel ends the turn immediately with its own message as
// the reply.
type Guardrail struct {
	emergencyTerms []string
	wellbeingTerms []string
	next           []string
}

// NewGuardrail constructs the safety worker with the default term lists.
func NewGuardrail(optFns ...func(o *GuardrailOptions)) *Guardrail {
	opts := GuardrailOptions{
		EmergencyTerms: []string{"chest pain", "can't breathe", "cannot breathe", "suicid", "overdose", "emergency"},
		WellbeingTerms: []string{"stressed", "anxious", "overwhelmed", "burned out", "burnout"},
		Next:           []string{PlannerName},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Guardrail{
		emergencyTerms: opts.EmergencyTerms,
		wellbeingTerms: opts.WellbeingTerms,
		next:           opts.Next,
	}
}

// Name implements core.Worker.
func (g *Guardrail) Name() string { return GuardrailName }

// Run implements core.Worker.
func (g *Guardrail) Run(_ context.Context, conv *core.ConversationContext) ([]string, error) {
	msg, ok := conv.LastUserMessage()
	if !ok {
		return g.next, nil
	}

	lower := strings.ToLower(msg.Content)

	for _, term := range g.emergencyTerms {
		if strings.Contains(lower, term) {
			conv.AddMessage("assistant", emergencyReply, GuardrailName)
			conv.Tracef("%s: emergency term matched, stopping turn", GuardrailName)
			return []string{core.StopSentinel}, nil
		}
	}

	for _, term := range g.wellbeingTerms {
		if strings.Contains(lower, term) {
			conv.AddFinding(GuardrailName, "FOCUS=wellbeing")
			// Running after classification and before routing, the override
			// takes effect this turn; the next classification resets it.
			st := conv.State()
			st.Focus = "wellbeing"
			conv.SetState(st)
			conv.Tracef("%s: wellbeing signal", GuardrailName)
			break
		}
	}

	return g.next, nil
}
