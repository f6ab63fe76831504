// Package orchestrator is the engine façade: session lookup, response cache,
// state machine update and the scheduler run, assembled into a single
// ProcessTurn entry point.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/coachmesh/cache"
	"github.com/hupe1980/coachmesh/config"
	"github.com/hupe1980/coachmesh/conversation"
	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/logging"
	"github.com/hupe1980/coachmesh/metrics"
	"github.com/hupe1980/coachmesh/registry"
	"github.com/hupe1980/coachmesh/scheduler"
	"github.com/hupe1980/coachmesh/session"
)

const timeoutReply = "I'm sorry, that took longer than expected. Please try asking again."

// Options holds configuration overrides for the orchestrator.
type Options struct {
	// HopBudget bounds scheduler iterations per turn.
	HopBudget int
	// LoopThreshold is the repeat count tripping the loop guard.
	LoopThreshold int
	// PoolSize bounds concurrently executing workers.
	PoolSize int
	// Speculation toggles speculative pre-execution.
	Speculation bool

	// SessionTTL is the idle window before a session is evicted.
	SessionTTL time.Duration
	// TurnTimeout is the wall-clock deadline per turn. Zero disables it.
	TurnTimeout time.Duration

	// ResponseCacheTTL is how long cached replies stay valid.
	ResponseCacheTTL time.Duration
	// ResponseCacheSize bounds the response cache entry count.
	ResponseCacheSize int

	// Logger receives engine events.
	Logger logging.Logger
	// Metrics receives engine instrumentation; may be nil.
	Metrics *metrics.Metrics
}

// FromConfig applies a loaded configuration as orchestrator options.
func FromConfig(cfg config.Config) func(o *Options) {
	return func(o *Options) {
		o.HopBudget = cfg.HopBudget
		o.LoopThreshold = cfg.LoopThreshold
		o.PoolSize = cfg.PoolSize
		o.Speculation = cfg.Speculation
		o.SessionTTL = cfg.SessionTTL
		o.TurnTimeout = cfg.TurnTimeout
		o.ResponseCacheTTL = cfg.ResponseCacheTTL
		o.ResponseCacheSize = cfg.ResponseCacheSize
	}
}

// TurnRequest is one user turn. An empty SessionID starts a new session.
type TurnRequest struct {
	SessionID string
	Input     string
}

// TurnResponse is the outcome of one processed turn.
type TurnResponse struct {
	SessionID string
	Reply     string
	Widgets   []core.Widget
	Trace     []string
	CacheHit  bool
}

// Orchestrator processes turns against the mesh.
type Orchestrator struct {
	reg     *registry.Registry
	store   *session.Store
	machine *conversation.StateMachine
	sched   *scheduler.Scheduler
	cache   *cache.ResponseCache

	turnTimeout time.Duration
	logger      logging.Logger
	metrics     *metrics.Metrics
}

// New wires the engine from a registry and a classifier.
func New(reg *registry.Registry, classifier core.Classifier, optFns ...func(o *Options)) (*Orchestrator, error) {
	cfg := config.Default()
	opts := Options{
		HopBudget:         cfg.HopBudget,
		LoopThreshold:     cfg.LoopThreshold,
		PoolSize:          cfg.PoolSize,
		Speculation:       cfg.Speculation,
		SessionTTL:        cfg.SessionTTL,
		TurnTimeout:       cfg.TurnTimeout,
		ResponseCacheTTL:  cfg.ResponseCacheTTL,
		ResponseCacheSize: cfg.ResponseCacheSize,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	respCache, err := cache.New(func(o *cache.Options) {
		o.Capacity = opts.ResponseCacheSize
		o.TTL = opts.ResponseCacheTTL
	})
	if err != nil {
		return nil, err
	}

	store := session.NewStore(func(o *session.Options) {
		o.IdleTimeout = opts.SessionTTL
		o.Logger = opts.Logger
	})

	machine := conversation.NewStateMachine(classifier, func(o *conversation.Options) {
		o.Logger = opts.Logger
		o.Matcher = conversation.RegistryMatcher(reg)
	})

	sched := scheduler.New(reg, func(o *scheduler.Options) {
		o.HopBudget = opts.HopBudget
		o.LoopThreshold = opts.LoopThreshold
		o.PoolSize = opts.PoolSize
		o.Speculation = opts.Speculation
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	return &Orchestrator{
		reg:         reg,
		store:       store,
		machine:     machine,
		sched:       sched,
		cache:       respCache,
		turnTimeout: opts.TurnTimeout,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}, nil
}

// ProcessTurn runs one full user turn. An empty session id allocates a fresh
// session; the id is echoed back so the caller can continue the conversation.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conv, err := o.store.BeginTurn(sessionID)
	if err != nil {
		return TurnResponse{}, err
	}
	defer o.store.EndTurn(sessionID)

	if o.metrics != nil {
		o.metrics.TurnsTotal.Inc()
	}

	conv.SetIntent(req.Input)

	if entry, ok := o.cache.Get(sessionID, conv.DataVersion(), req.Input); ok {
		conv.Tracef("response cache hit")
		conv.AddMessage("user", req.Input, "")
		conv.AddMessage("assistant", entry.FinalText, o.reg.SynthesisName())
		if o.metrics != nil {
			o.metrics.ResponseCacheHits.Inc()
		}
		o.logger.Debug("turn served from response cache", "session_id", sessionID)
		return TurnResponse{
			SessionID: sessionID,
			Reply:     entry.FinalText,
			Widgets:   entry.Widgets,
			Trace:     conv.Trace(),
			CacheHit:  true,
		}, nil
	}

	conv.AddMessage("user", req.Input, "")
	o.machine.Update(ctx, conv, req.Input)

	runCtx := ctx
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	result, err := o.sched.RunTurn(runCtx, conv)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return o.partialResponse(sessionID, conv, result), nil
		}
		return TurnResponse{}, err
	}

	o.cache.Put(sessionID, conv.DataVersion(), req.Input, cache.Entry{
		FinalText: result.FinalText,
		Widgets:   result.Widgets,
	})

	return TurnResponse{
		SessionID: sessionID,
		Reply:     result.FinalText,
		Widgets:   result.Widgets,
		Trace:     result.Trace,
	}, nil
}

// partialResponse salvages what the mesh produced before the deadline. A
// synthesized message counts as a usable partial reply; otherwise the user
// gets an apology. Partial replies are never cached.
func (o *Orchestrator) partialResponse(sessionID string, conv *core.ConversationContext, result scheduler.TurnResult) TurnResponse {
	reply := timeoutReply
	if msg, ok := conv.LastMessageFrom(o.reg.SynthesisName()); ok {
		reply = msg.Content
	}

	o.logger.Warn("turn deadline exceeded, returning partial reply", "session_id", sessionID)
	conv.Tracef("turn deadline exceeded, partial reply")

	return TurnResponse{
		SessionID: sessionID,
		Reply:     reply,
		Widgets:   result.Widgets,
		Trace:     conv.Trace(),
	}
}

// InvalidateData bumps the data version of every live session, clearing each
// tool cache and orphaning response-cache entries keyed under old versions.
func (o *Orchestrator) InvalidateData() {
	o.store.BumpDataVersions()
	o.logger.Info("data versions bumped, caches invalidated")
}

// Sessions lists active sessions.
func (o *Orchestrator) Sessions() []session.Info {
	return o.store.Sessions()
}

// DeleteSession removes a session outright.
func (o *Orchestrator) DeleteSession(id string) {
	o.store.Delete(id)
}

// CacheStats returns cumulative response cache counters.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}
