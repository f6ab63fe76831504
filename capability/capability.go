// Package capability defines the boundary to external read-only data
// lookups. Workers never talk to data sources directly; they go through a
// Caller, optionally wrapped with the per-conversation result cache.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownCall is returned when a caller has no handler for a call name.
var ErrUnknownCall = errors.New("unknown capability call")

// Caller performs one external read-only call. All calls are assumed
// cacheable: the external surface is queries only.
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// Func adapts a plain function to the Caller interface.
type Func func(ctx context.Context, name string, args map[string]any) (string, error)

// Call implements Caller.
func (f Func) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	return f(ctx, name, args)
}

// StaticSource is an in-memory Caller keyed by call name. It backs the CLI
// demo data set and tests.
type StaticSource struct {
	data map[string]string
}

// NewStaticSource builds a StaticSource over the given name -> result map.
func NewStaticSource(data map[string]string) *StaticSource {
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return &StaticSource{data: copied}
}

// Call implements Caller.
func (s *StaticSource) Call(_ context.Context, name string, _ map[string]any) (string, error) {
	v, ok := s.data[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCall, name)
	}
	return v, nil
}
