package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/model"
)

const synthesisInstructions = `You are the final voice of a health coaching service.
Compose a single warm, clear reply to the user from the internal findings below.
Do not mention internal workers or routing. If an offer is pending, end the reply
by asking the user to confirm it. Keep medical advice cautious and actionable.`

// Synthesis is the terminal worker of every non-emergency turn. It folds the
// accumulated findings into one user-facing reply and stops the turn.
type Synthesis struct {
	gen model.Generator
}

// NewSynthesis constructs the synthesizer. A nil generator falls back to a
// deterministic composed reply, which keeps the mesh runnable offline.
func NewSynthesis(gen model.Generator) *Synthesis {
	return &Synthesis{gen: gen}
}

// Name implements core.Worker.
func (s *Synthesis) Name() string { return SynthesisName }

// Run implements core.Worker.
func (s *Synthesis) Run(ctx context.Context, conv *core.ConversationContext) ([]string, error) {
	reply := s.compose(conv)

	if s.gen != nil {
		generated, err := s.gen.Generate(ctx, synthesisInstructions, s.prompt(conv))
		if err != nil {
			conv.Tracef("%s: generation failed, using composed reply: %v", SynthesisName, err)
		} else if strings.TrimSpace(generated) != "" {
			reply = generated
		}
	}

	conv.AddMessage("assistant", reply, SynthesisName)

	return []string{core.StopSentinel}, nil
}

// prompt renders the turn's material for the generator: the user's question,
// the findings gathered by the mesh and any offer awaiting confirmation.
func (s *Synthesis) prompt(conv *core.ConversationContext) string {
	var b strings.Builder

	if msg, ok := conv.LastUserMessage(); ok {
		fmt.Fprintf(&b, "User message: %s\n\n", msg.Content)
	}

	findings := conv.Findings()
	if len(findings) > 0 {
		b.WriteString("Findings:\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Origin, f.Text)
		}
		b.WriteString("\n")
	}

	if st := conv.State(); st.PendingOffer != "" {
		fmt.Fprintf(&b, "Pending offer: %s (ask the user to confirm)\n", st.PendingOffer)
	}

	return b.String()
}

// compose is the offline fallback reply built from the turn's findings.
func (s *Synthesis) compose(conv *core.ConversationContext) string {
	var parts []string

	for _, f := range conv.Findings() {
		if f.Origin == GuardrailName || f.Origin == PlannerName {
			continue
		}
		parts = append(parts, f.Text)
	}

	var b strings.Builder
	if len(parts) > 0 {
		b.WriteString("Here's what I found: ")
		b.WriteString(strings.Join(parts, " "))
	} else {
		b.WriteString("I've looked into your question.")
	}

	if st := conv.State(); st.PendingOffer != "" {
		fmt.Fprintf(&b, " I can put together a %s for you - would you like that?",
			strings.ReplaceAll(st.PendingOffer, "_", " "))
	}

	return b.String()
}
