// Package testutil provides scripted workers and context helpers for tests.
package testutil

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/coachmesh/core"
)

// ScriptedWorker replays a fixed sequence of handoffs. Each Run consumes the
// next scripted step; past the end the last step repeats. An optional OnRun
// hook mutates the context before the handoff is returned.
type ScriptedWorker struct {
	WorkerName string
	Steps      [][]string
	Err        error
	OnRun      func(conv *core.ConversationContext)

	runs atomic.Int64
}

var _ core.Worker = (*ScriptedWorker)(nil)

// Name implements core.Worker.
func (w *ScriptedWorker) Name() string { return w.WorkerName }

// Run implements core.Worker.
func (w *ScriptedWorker) Run(_ context.Context, conv *core.ConversationContext) ([]string, error) {
	n := int(w.runs.Add(1)) - 1

	if w.OnRun != nil {
		w.OnRun(conv)
	}

	if w.Err != nil {
		return nil, w.Err
	}

	if len(w.Steps) == 0 {
		return []string{core.StopSentinel}, nil
	}
	if n >= len(w.Steps) {
		n = len(w.Steps) - 1
	}
	return append([]string(nil), w.Steps[n]...), nil
}

// Runs reports how many times the worker has executed.
func (w *ScriptedWorker) Runs() int { return int(w.runs.Load()) }

// StopWorker is a terminal worker that records a reply and stops.
type StopWorker struct {
	WorkerName string
	Reply      string

	runs atomic.Int64
}

var _ core.Worker = (*StopWorker)(nil)

// Name implements core.Worker.
func (w *StopWorker) Name() string { return w.WorkerName }

// Run implements core.Worker.
func (w *StopWorker) Run(_ context.Context, conv *core.ConversationContext) ([]string, error) {
	w.runs.Add(1)
	reply := w.Reply
	if reply == "" {
		reply = "done"
	}
	conv.AddMessage("assistant", reply, w.WorkerName)
	return []string{core.StopSentinel}, nil
}

// Runs reports how many times the worker has executed.
func (w *StopWorker) Runs() int { return int(w.runs.Load()) }
