package core

import "context"

// Classification is the structured interpretation of a user utterance.
type Classification struct {
	Focus              string  `json:"focus"`
	Intent             string  `json:"intent"`
	ConfirmationStatus string  `json:"confirmation_status"`
	Urgency            string  `json:"urgency"`
	Emotion            string  `json:"emotion"`
	Confidence         float64 `json:"confidence"`
}

// DefaultClassification is the documented degrade path when the classifier
// is unreachable or returns garbage. Classification failures never propagate
// to the user.
func DefaultClassification() Classification {
	return Classification{
		Focus:              "diagnosis",
		Intent:             "diagnosis",
		ConfirmationStatus: ConfirmationNone,
		Urgency:            "medium",
		Emotion:            "neutral",
	}
}

// Classifier interprets the latest user utterance given a snapshot of the
// conversation state. Implementations are treated as remote and possibly
// unreliable; callers fall back to DefaultClassification on error.
type Classifier interface {
	Classify(ctx context.Context, utterance, stateSnapshot string) (Classification, error)
}
