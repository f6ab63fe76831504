package core

// Stage identifies where a conversation currently sits in its lifecycle.
type Stage string

const (
	// StageTriage is the initial stage for every new topic.
	StageTriage Stage = "triage"
	// StageDiagnosis indicates specialists are investigating without a
	// committed plan.
	StageDiagnosis Stage = "diagnosis"
	// StageAwaitingConfirmation indicates an offer was presented and the
	// engine is waiting for the user to confirm or decline it.
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	// StagePlanDelivery indicates a confirmed plan is being produced.
	StagePlanDelivery Stage = "plan_delivery"
)

// Confirmation status values produced by the intent classifier.
const (
	ConfirmationYes  = "yes"
	ConfirmationNo   = "no"
	ConfirmationNone = "none"
)

// ConversationState is the (stage, intent, focus, pending offer) tuple that
// routing and worker tone decisions are derived from.
//
// Invariants:
//   - A non-empty PendingOffer implies Stage == StageAwaitingConfirmation.
//   - ConfirmedTargets is non-empty only when Stage == StagePlanDelivery.
type ConversationState struct {
	Stage            Stage    `json:"stage"`
	Intent           string   `json:"intent"`
	Focus            string   `json:"focus"`
	PendingOffer     string   `json:"pending_offer,omitempty"`
	OfferTargets     []string `json:"offer_targets,omitempty"`
	ConfirmedTargets []string `json:"confirmed_targets,omitempty"`
}

// Clone returns a deep copy of the state safe for independent mutation.
func (s ConversationState) Clone() ConversationState {
	c := s
	c.OfferTargets = append([]string(nil), s.OfferTargets...)
	c.ConfirmedTargets = append([]string(nil), s.ConfirmedTargets...)
	return c
}
