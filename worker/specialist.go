package worker

import (
	"context"
	"fmt"

	"github.com/hupe1980/coachmesh/capability"
	"github.com/hupe1980/coachmesh/core"
)

// Call names an external data capability a specialist consults during a run.
type Call struct {
	Name string
	Args map[string]any
}

// Specialist is a domain worker: it pulls its external data through the
// conversation's tool cache, records findings, optionally stages a widget,
// signals domain completion and hands off.
type Specialist struct {
	name       string
	domain     string
	caller     capability.Caller
	calls      []Call
	next       []string
	widgetType string
}

// WithCalls sets the external calls the specialist makes each run.
func WithCalls(calls ...Call) func(s *Specialist) {
	return func(s *Specialist) {
		s.calls = calls
	}
}

// WithNext overrides the default handoff to the synthesizer.
func WithNext(names ...string) func(s *Specialist) {
	return func(s *Specialist) {
		s.next = names
	}
}

// WithWidgetType makes the specialist stage a widget of the given type on
// each successful run.
func WithWidgetType(widgetType string) func(s *Specialist) {
	return func(s *Specialist) {
		s.widgetType = widgetType
	}
}

// NewSpecialist constructs a domain worker.
func NewSpecialist(name, domain string, caller capability.Caller, optFns ...func(s *Specialist)) *Specialist {
	s := &Specialist{
		name:   name,
		domain: domain,
		caller: caller,
		next:   []string{SynthesisName},
	}

	for _, fn := range optFns {
		fn(s)
	}

	return s
}

// Name implements core.Worker.
func (s *Specialist) Name() string { return s.name }

// Domain returns the specialist's owned domain.
func (s *Specialist) Domain() string { return s.domain }

// Run implements core.Worker.
func (s *Specialist) Run(ctx context.Context, conv *core.ConversationContext) ([]string, error) {
	caller := capability.WithCache(conv, s.caller)

	for _, call := range s.calls {
		result, err := caller.Call(ctx, call.Name, call.Args)
		if err != nil {
			return nil, fmt.Errorf("%s: call %s: %w", s.name, call.Name, err)
		}
		conv.AddFinding(s.name, fmt.Sprintf("%s: %s", call.Name, result))
	}

	if s.widgetType != "" {
		s.stageWidget(conv)
	}

	conv.SetFlag(s.domain+"_ready", true)
	conv.SignalDomain(core.DomainSignal{Domain: s.domain, Status: core.DomainCompleted})
	conv.Tracef("%s: handoff -> %v", s.name, s.next)

	return append([]string(nil), s.next...), nil
}

// stageWidget adds this run's widget unless an identical one is already
// staged for the turn. Parallel specialists share the widget buffer, so the
// dedupe key includes the origin.
func (s *Specialist) stageWidget(conv *core.ConversationContext) {
	if conv.WidgetStaged(s.widgetType, s.name) {
		return
	}

	conv.AddWidget(core.Widget{
		Type: s.widgetType,
		Payload: map[string]any{
			"origin": s.name,
			"domain": s.domain,
		},
	})
}
