// Package model defines the opaque content-generation boundary. Worker
// content generation is an external, swappable capability; the orchestration
// engine only depends on the Generator interface.
package model

import (
	"context"
	"fmt"
)

// Generator produces text for a prompt under the given instructions. It is
// the single call boundary to a language model provider.
type Generator interface {
	Generate(ctx context.Context, instructions, prompt string) (string, error)
}

// Info contains metadata about a generator implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "static", etc.
}

// Static is a deterministic in-memory Generator for tests and offline use.
// It returns the canned response registered for a prompt, or the fallback.
type Static struct {
	Fallback  string
	responses map[string]string
}

// NewStatic constructs a Static generator with the given fallback text.
func NewStatic(fallback string) *Static {
	return &Static{Fallback: fallback, responses: map[string]string{}}
}

// AddResponse registers a canned completion for an exact prompt.
func (s *Static) AddResponse(prompt, response string) { s.responses[prompt] = response }

// Generate implements Generator.
func (s *Static) Generate(_ context.Context, _, prompt string) (string, error) {
	if r, ok := s.responses[prompt]; ok {
		return r, nil
	}
	if s.Fallback == "" {
		return "", fmt.Errorf("static generator: no response for prompt")
	}
	return s.Fallback, nil
}

// Info implements a metadata accessor matching the provider adapters.
func (s *Static) Info() Info { return Info{Name: "static", Provider: "static"} }
