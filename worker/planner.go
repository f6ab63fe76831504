package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/registry"
)

// ComprehensivePlanOffer is the offer label for a multi-domain plan.
const ComprehensivePlanOffer = "comprehensive_plan"

// PlannerOptions holds configuration overrides for the planner.
type PlannerOptions struct {
	// Keywords maps utterance keywords to specialist domains.
	Keywords map[string]string
}

// DefaultDomainKeywords returns the built-in keyword -> domain mapping used
// to detect which specialists a plan request covers.
func DefaultDomainKeywords() map[string]string {
	return map[string]string{
		"cholesterol": DomainNutrition,
		"diet":        DomainNutrition,
		"meal":        DomainNutrition,
		"nutrition":   DomainNutrition,
		"food":        DomainNutrition,
		"sleep":       DomainSleep,
		"insomnia":    DomainSleep,
		"fitness":     DomainFitness,
		"workout":     DomainFitness,
		"exercise":    DomainFitness,
		"stress":      DomainMindfulness,
		"meditation":  DomainMindfulness,
		"mindfulness": DomainMindfulness,
		"biomarker":   DomainMedical,
		"blood":       DomainMedical,
		"lab":         DomainMedical,
	}
}

// Planner is the triage worker: it interprets the conversation focus and
// either fans out to specialists, registers a plan offer, or routes a
// diagnosis to the physician.
type Planner struct {
	reg      *registry.Registry
	keywords map[string]string
}

// NewPlanner constructs the triage worker over the mesh registry.
func NewPlanner(reg *registry.Registry, optFns ...func(o *PlannerOptions)) *Planner {
	opts := PlannerOptions{Keywords: DefaultDomainKeywords()}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Planner{reg: reg, keywords: opts.Keywords}
}

// Name implements core.Worker.
func (p *Planner) Name() string { return PlannerName }

// Run implements core.Worker.
func (p *Planner) Run(_ context.Context, conv *core.ConversationContext) ([]string, error) {
	st := conv.State()

	if st.Stage == core.StagePlanDelivery && len(st.ConfirmedTargets) > 0 {
		return append([]string(nil), st.ConfirmedTargets...), nil
	}

	switch st.Focus {
	case "plan":
		return p.routePlan(conv)
	case "wellbeing":
		return []string{MindfulnessCoachName}, nil
	case "progress", "acceleration":
		return []string{FitnessCoachName}, nil
	default:
		return []string{PhysicianName}, nil
	}
}

// routePlan fans out directly when the request names concrete domains;
// otherwise it registers a comprehensive offer for the user to confirm.
func (p *Planner) routePlan(conv *core.ConversationContext) ([]string, error) {
	domains := p.detectDomains(conv)

	if len(domains) > 0 {
		targets := p.owners(domains)
		if len(targets) > 0 {
			conv.AddFinding(PlannerName, fmt.Sprintf("plan request covers %s", strings.Join(domains, ", ")))
			conv.Tracef("%s: handoff -> %v", PlannerName, targets)
			return targets, nil
		}
	}

	// No concrete domain named: offer a comprehensive plan over all
	// specialist coaches and wait for confirmation.
	offerDomains := []string{DomainNutrition, DomainFitness, DomainSleep, DomainMindfulness}
	targets := p.owners(offerDomains)
	conv.RegisterOffer(ComprehensivePlanOffer, targets)
	for _, d := range offerDomains {
		conv.SignalDomain(core.DomainSignal{Domain: d, Status: core.DomainOffered})
	}
	conv.AddFinding(PlannerName, fmt.Sprintf("offered %s covering %s - awaiting confirmation", ComprehensivePlanOffer, strings.Join(offerDomains, ", ")))

	return []string{SynthesisName}, nil
}

// detectDomains scans the latest user message and the session intent for
// domain keywords, preserving first-seen order.
func (p *Planner) detectDomains(conv *core.ConversationContext) []string {
	var text string
	if msg, ok := conv.LastUserMessage(); ok {
		text = msg.Content
	}
	lower := strings.ToLower(text + " " + conv.Intent())

	var domains []string
	seen := map[string]bool{}
	for keyword, domain := range p.keywords {
		if strings.Contains(lower, keyword) && !seen[domain] {
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	return domains
}

func (p *Planner) owners(domains []string) []string {
	var out []string
	for _, d := range domains {
		if owner, ok := p.reg.OwnerOf(d); ok {
			out = append(out, owner)
		}
	}
	return out
}
