// Package registry holds the fixed mapping from worker name to worker
// capability. The routing topology is not user-programmable: a small named
// set of workers plus one terminal synthesizer.
package registry

import (
	"fmt"
	"strings"

	"github.com/hupe1980/coachmesh/core"
)

// Entry describes one registered worker.
type Entry struct {
	// Worker is the executable capability.
	Worker core.Worker
	// Domain is the specialist domain this worker owns, empty for
	// non-specialists.
	Domain string
	// Speculative marks the worker as eligible for speculative
	// pre-execution: read-mostly, idempotent, and producing no user-visible
	// output before routing is confirmed.
	Speculative bool
	// Description is prose used for peer cross-references only, never for
	// scheduling logic.
	Description string
}

// Options names the three special roles of the mesh.
type Options struct {
	// Safety is the guardrail worker invoked first every turn.
	Safety string
	// Synthesis is the terminal synthesizer and routing fail-safe default.
	Synthesis string
	// Triage is the default entry worker.
	Triage string
}

// Registry is the fixed worker mapping. It is populated once at construction
// time and read-only afterwards, so lookups need no locking.
type Registry struct {
	entries map[string]Entry
	order   []string

	safety    string
	synthesis string
	triage    string
}

// New constructs an empty registry with the given role names.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		entries:   map[string]Entry{},
		safety:    opts.Safety,
		synthesis: opts.Synthesis,
		triage:    opts.Triage,
	}
}

// Register adds a worker entry. Registering the same name twice is a wiring
// bug and fails loudly.
func (r *Registry) Register(e Entry) error {
	if e.Worker == nil {
		return fmt.Errorf("registry: nil worker")
	}
	name := e.Worker.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("registry: worker %q already registered", name)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the worker registered under name.
func (r *Registry) Resolve(name string) (core.Worker, bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.Worker, true
}

// EntryFor returns the full entry registered under name.
func (r *Registry) EntryFor(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// OwnerOf returns the worker name owning the given specialist domain.
func (r *Registry) OwnerOf(domain string) (string, bool) {
	for _, name := range r.order {
		if r.entries[name].Domain == domain {
			return name, true
		}
	}
	return "", false
}

// DomainOf returns the specialist domain owned by the named worker, if any.
func (r *Registry) DomainOf(name string) string {
	return r.entries[name].Domain
}

// Names returns all registered worker names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// SafetyName returns the guardrail worker name.
func (r *Registry) SafetyName() string { return r.safety }

// SynthesisName returns the terminal synthesizer name.
func (r *Registry) SynthesisName() string { return r.synthesis }

// TriageName returns the default entry worker name.
func (r *Registry) TriageName() string { return r.triage }

// PeerPrompt renders the cross-reference prose handed to content generation.
// It is UX material only; the scheduler never reads it.
func (r *Registry) PeerPrompt() string {
	var b strings.Builder
	b.WriteString("You are part of a collaborative mesh. Here are your peers and their capabilities:\n")
	for _, name := range r.order {
		e := r.entries[name]
		if e.Description == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, e.Description)
	}
	return b.String()
}
