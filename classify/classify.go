// Package classify provides intent/focus classifier implementations. The
// classifier is treated as a remote, possibly-unreliable capability; callers
// degrade to core.DefaultClassification on any error.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/model"
)

const classifierInstructions = "You are a conversation intent classifier for a health assistant. " +
	"Analyze the User Message given the Context. Respond with JSON ONLY. Fields: " +
	"'focus' (diagnosis, plan, wellbeing, progress, acceleration, or other), " +
	"'intent' (diagnosis, plan, answer, other), " +
	"'confirmation_status' (yes, no, clarifying, none), " +
	"'urgency' (low, medium, high), " +
	"'emotion' (neutral, stressed, anxious, upbeat), " +
	"'confidence' (0.0-1.0). Do not add commentary."

// Static always returns the documented default classification. It is the
// offline fallback and the zero-dependency option for tests.
type Static struct{}

// Classify implements core.Classifier.
func (Static) Classify(_ context.Context, _, _ string) (core.Classification, error) {
	return core.DefaultClassification(), nil
}

// ModelClassifier asks a Generator to interpret the utterance and parses the
// JSON reply.
type ModelClassifier struct {
	gen model.Generator
}

// NewModelClassifier builds a classifier over the given generator.
func NewModelClassifier(gen model.Generator) *ModelClassifier {
	return &ModelClassifier{gen: gen}
}

// Classify implements core.Classifier. Any generation or parse failure is
// surfaced as an error; the state machine substitutes the default.
func (m *ModelClassifier) Classify(ctx context.Context, utterance, stateSnapshot string) (core.Classification, error) {
	if stateSnapshot == "" {
		stateSnapshot = "(none)"
	}

	prompt := fmt.Sprintf(
		"User message:\n%s\n\nContext:\n%s\n\nRespond with JSON exactly in this shape:\n"+
			`{"focus":"...", "intent":"...", "confirmation_status":"...", "urgency":"...", "emotion":"...", "confidence":0.0}`,
		strings.TrimSpace(utterance), strings.TrimSpace(stateSnapshot),
	)

	raw, err := m.gen.Generate(ctx, classifierInstructions, prompt)
	if err != nil {
		return core.Classification{}, fmt.Errorf("classifier generation: %w", err)
	}

	return parse(raw)
}

// parse extracts a Classification from a model reply, tolerating markdown
// code fences around the JSON.
func parse(raw string) (core.Classification, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if !gjson.Valid(cleaned) {
		return core.Classification{}, fmt.Errorf("classifier returned invalid JSON: %q", raw)
	}

	parsed := gjson.Parse(cleaned)
	focus := parsed.Get("focus").String()
	if focus == "" {
		return core.Classification{}, fmt.Errorf("classifier reply missing focus: %q", raw)
	}

	c := core.Classification{
		Focus:              focus,
		Intent:             parsed.Get("intent").String(),
		ConfirmationStatus: parsed.Get("confirmation_status").String(),
		Urgency:            parsed.Get("urgency").String(),
		Emotion:            parsed.Get("emotion").String(),
		Confidence:         parsed.Get("confidence").Float(),
	}

	if c.ConfirmationStatus == "" {
		c.ConfirmationStatus = core.ConfirmationNone
	}

	return c, nil
}
