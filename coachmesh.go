// Package coachmesh provides a high-level façade over the orchestration
// engine (sessions, response cache, state machine & scheduler) enabling rapid
// construction of a multi-specialist coaching service. Most applications
// interact with this package by:
//  1. Creating a CoachMesh via New() with a data Caller (optionally a model
//     Generator and a custom classifier)
//  2. Calling Ask() per user turn, threading the returned session id
//  3. Calling InvalidateData() whenever the underlying data sources change
//
// The façade delegates turn processing to orchestrator.Orchestrator while
// keeping setup ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a real
// Generator, a model-backed classifier and a structured logger.
package coachmesh

import (
	"context"

	"github.com/hupe1980/coachmesh/capability"
	"github.com/hupe1980/coachmesh/classify"
	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/logging"
	"github.com/hupe1980/coachmesh/metrics"
	"github.com/hupe1980/coachmesh/model"
	"github.com/hupe1980/coachmesh/orchestrator"
	"github.com/hupe1980/coachmesh/session"
	"github.com/hupe1980/coachmesh/worker"
)

// Options configures the CoachMesh instance.
type Options struct {
	// Generator backs worker content generation. Nil keeps the deterministic
	// offline composition.
	Generator model.Generator

	// Classifier interprets user utterances. Defaults to the static
	// classifier, which always yields the documented defaults.
	Classifier core.Classifier

	// Engine passes configuration through to the orchestrator (hop budget,
	// loop threshold, timeouts, cache sizing).
	Engine []func(o *orchestrator.Options)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Metrics receives engine instrumentation; may be nil.
	Metrics *metrics.Metrics
}

// CoachMesh is the high-level façade aggregating the default worker mesh and
// the orchestration engine.
type CoachMesh struct {
	orch *orchestrator.Orchestrator
}

// New creates a CoachMesh over the given data source with optional overrides.
func New(caller capability.Caller, optFns ...func(o *Options)) (*CoachMesh, error) {
	opts := Options{
		Classifier: classify.Static{},
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	reg, err := worker.DefaultMesh(caller, opts.Generator)
	if err != nil {
		return nil, err
	}

	engineOpts := append([]func(o *orchestrator.Options){
		func(o *orchestrator.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		},
	}, opts.Engine...)

	orch, err := orchestrator.New(reg, opts.Classifier, engineOpts...)
	if err != nil {
		return nil, err
	}

	return &CoachMesh{orch: orch}, nil
}

// Ask processes one user turn. An empty sessionID starts a new session; the
// response echoes the id to continue the conversation.
func (m *CoachMesh) Ask(ctx context.Context, sessionID, input string) (orchestrator.TurnResponse, error) {
	return m.orch.ProcessTurn(ctx, orchestrator.TurnRequest{
		SessionID: sessionID,
		Input:     input,
	})
}

// InvalidateData bumps every session's data version so no stale cached result
// outlives a data source change.
func (m *CoachMesh) InvalidateData() { m.orch.InvalidateData() }

// Sessions lists active sessions.
func (m *CoachMesh) Sessions() []session.Info { return m.orch.Sessions() }

// DeleteSession removes a session outright.
func (m *CoachMesh) DeleteSession(id string) { m.orch.DeleteSession(id) }
