// Package conversation derives the (stage, intent, focus, pending offer)
// tuple from the latest user utterance and prior state. Routing decisions are
// made elsewhere; this package only maintains the state machine and the
// offer/confirm protocol.
package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/logging"
	"github.com/hupe1980/coachmesh/registry"
)

// DomainMatcher maps an utterance to the subset of offer targets it names.
// Used to narrow a multi-domain offer when the user asks for part of it.
type DomainMatcher func(utterance string, offerTargets []string) []string

// RegistryMatcher builds a DomainMatcher that recognizes a target when the
// utterance mentions the specialist domain the target owns.
func RegistryMatcher(reg *registry.Registry) DomainMatcher {
	return func(utterance string, targets []string) []string {
		lower := strings.ToLower(utterance)
		var out []string
		for _, t := range targets {
			domain := reg.DomainOf(t)
			if domain != "" && strings.Contains(lower, domain) {
				out = append(out, t)
			}
		}
		return out
	}
}

// Options holds configuration overrides for the state machine.
type Options struct {
	// Logger receives classification degrade events.
	Logger logging.Logger
	// Matcher narrows multi-domain offers on partial confirmation.
	Matcher DomainMatcher
}

// StateMachine updates conversation state from user input and an external
// classification.
type StateMachine struct {
	classifier core.Classifier
	logger     logging.Logger
	matcher    DomainMatcher
}

// NewStateMachine constructs a state machine over the given classifier.
func NewStateMachine(classifier core.Classifier, optFns ...func(o *Options)) *StateMachine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &StateMachine{
		classifier: classifier,
		logger:     opts.Logger,
		matcher:    opts.Matcher,
	}
}

// Update consumes the prior state and the raw input, producing a new state.
// Classification failures degrade to the documented defaults and never
// surface to the caller.
func (m *StateMachine) Update(ctx context.Context, conv *core.ConversationContext, userText string) {
	st := conv.State()

	cls, err := m.classifier.Classify(ctx, userText, stateSnapshot(st))
	if err != nil {
		cls = core.DefaultClassification()
		conv.Tracef("classifier degraded to defaults: %v", err)
		m.logger.Warn("classifier failed, using defaults", "error", err)
	}

	if st.Stage == core.StageAwaitingConfirmation && st.PendingOffer != "" {
		m.resolveOffer(conv, st, userText, cls)
		return
	}

	st.Intent = cls.Intent
	st.Focus = cls.Focus
	if st.Stage != core.StageAwaitingConfirmation && st.Stage != core.StagePlanDelivery {
		st.Stage = core.StageTriage
	}
	conv.SetState(st)
}

// resolveOffer maps the input onto {confirmed, declined, partial-domain
// request, unclear} while an offer is pending.
func (m *StateMachine) resolveOffer(conv *core.ConversationContext, st core.ConversationState, userText string, cls core.Classification) {
	switch cls.ConfirmationStatus {
	case core.ConfirmationYes:
		conv.ConfirmOffer()
	case core.ConfirmationNo:
		conv.ClearOffer()
	default:
		if m.matcher != nil {
			narrowed := m.matcher(userText, st.OfferTargets)
			if len(narrowed) > 0 && len(narrowed) < len(st.OfferTargets) {
				// The user asked for part of the offer: re-register the
				// narrower offer and confirm it immediately.
				conv.RegisterOffer(st.PendingOffer, narrowed)
				conv.ConfirmOffer()
				return
			}
		}
		// Unclear: keep waiting, do not advance the stage.
		conv.Tracef("offer %s unresolved, awaiting confirmation", st.PendingOffer)
	}
}

func stateSnapshot(st core.ConversationState) string {
	return fmt.Sprintf("stage=%s focus=%s intent=%s pending_offer=%s", st.Stage, st.Focus, st.Intent, st.PendingOffer)
}
