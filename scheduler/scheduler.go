// Package scheduler implements the turn-processing loop of the mesh: entry
// worker selection, sequential/parallel/speculative execution, routing
// interpretation, loop safety and dependency completion.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/logging"
	"github.com/hupe1980/coachmesh/metrics"
	"github.com/hupe1980/coachmesh/registry"
)

// Predictor names the workers worth starting speculatively for the given
// state, before the deterministic routing decision is known. Only registry
// entries marked Speculative are actually started.
type Predictor func(st core.ConversationState) []string

// ConfirmedTargetsPredictor is the default predictor: during plan delivery
// the confirmed specialist set is known ahead of routing.
func ConfirmedTargetsPredictor(st core.ConversationState) []string {
	if st.Stage == core.StagePlanDelivery {
		return st.ConfirmedTargets
	}
	return nil
}

// Options holds configuration overrides for the scheduler.
type Options struct {
	// HopBudget bounds scheduler iterations per turn.
	HopBudget int
	// LoopThreshold is the repeat count after which routing is forced to
	// the synthesis worker.
	LoopThreshold int
	// PoolSize bounds concurrently executing workers.
	PoolSize int
	// Speculation toggles speculative pre-execution of predicted workers.
	Speculation bool
	// Predictor selects speculative candidates.
	Predictor Predictor
	// DirectSynthesisFoci are foci that route straight to synthesis with no
	// specialist fan-out.
	DirectSynthesisFoci []string
	// Logger receives scheduling events.
	Logger logging.Logger
	// Metrics receives scheduler instrumentation; may be nil.
	Metrics *metrics.Metrics
}

// Scheduler runs one turn of the mesh over a shared conversation context.
type Scheduler struct {
	reg *registry.Registry

	hopBudget     int
	loopThreshold int
	speculation   bool
	predictor     Predictor
	directFoci    map[string]bool

	pool    chan struct{}
	logger  logging.Logger
	metrics *metrics.Metrics
}

// TurnResult is the outcome of one full scheduler run.
type TurnResult struct {
	FinalText string
	Widgets   []core.Widget
	Trace     []string
}

// New constructs a scheduler over the given registry.
func New(reg *registry.Registry, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		HopBudget:           15,
		LoopThreshold:       3,
		PoolSize:            8,
		Speculation:         true,
		Predictor:           ConfirmedTargetsPredictor,
		DirectSynthesisFoci: []string{"other", "answer"},
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	direct := make(map[string]bool, len(opts.DirectSynthesisFoci))
	for _, f := range opts.DirectSynthesisFoci {
		direct[f] = true
	}

	return &Scheduler{
		reg:           reg,
		hopBudget:     opts.HopBudget,
		loopThreshold: opts.LoopThreshold,
		speculation:   opts.Speculation,
		predictor:     opts.Predictor,
		directFoci:    direct,
		pool:          make(chan struct{}, opts.PoolSize),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

// RunTurn processes one turn: safety worker first, then the mesh loop until
// the stop sentinel, an empty handoff, or hop budget exhaustion.
func (s *Scheduler) RunTurn(ctx context.Context, conv *core.ConversationContext) (TurnResult, error) {
	conv.BeginTurn()

	synth := s.reg.SynthesisName()
	seen := map[string]int{}

	// The one mandatory ordering guarantee: safety runs before everything
	// else, synchronously. Its stop sentinel ends the turn with its own
	// message as the reply.
	if stop := s.runSafety(ctx, conv, seen); stop {
		return s.finish(conv), nil
	}

	turn := newTurnState()
	if s.speculation {
		s.startSpeculation(ctx, conv, turn)
	}

	set := s.entrySet(conv)
	conv.Tracef("scheduler: entry set %v", set)

	for len(set) > 0 && !isStopSet(set) && conv.HopCount() < s.hopBudget {
		if ctx.Err() != nil {
			conv.Tracef("scheduler: turn aborted: %v", ctx.Err())
			return s.finish(conv), ctx.Err()
		}

		hop := conv.NextHop()

		set = s.substituteUnknown(conv, set)

		if forced := s.loopGuard(conv, seen, synth); forced != nil {
			set = forced
		}

		// A dispatch naming multiple parallel targets declares their
		// domains as owed for the current plan request.
		if len(set) > 1 {
			s.declareDomains(conv, set)
		}

		conv.Tracef("scheduler: hop %d -> %v", hop, set)

		merged := s.executeSet(ctx, conv, set, turn)
		for _, name := range set {
			seen[name]++
		}

		set = s.enforceDependencies(conv, merged, synth)
	}

	if conv.HopCount() >= s.hopBudget && !isStopSet(set) {
		conv.Tracef("scheduler: hop budget exhausted (%d)", s.hopBudget)
	}

	return s.finish(conv), ctx.Err()
}

// runSafety invokes the guardrail worker and reports whether it signalled the
// emergency/termination path. Safety failures are non-fatal: the turn
// continues as if the guardrail had nothing to say.
func (s *Scheduler) runSafety(ctx context.Context, conv *core.ConversationContext, seen map[string]int) bool {
	name := s.reg.SafetyName()
	w, ok := s.reg.Resolve(name)
	if !ok {
		return false
	}

	seen[name]++
	next, err := s.invoke(ctx, conv, w)
	if err != nil {
		conv.Tracef("%s: error (non-fatal): %v", name, err)
		if s.metrics != nil {
			s.metrics.WorkerErrors.Inc()
		}
		return false
	}

	if isStopSet(next) {
		conv.Tracef("%s: stop sentinel, turn ends", name)
		return true
	}

	return false
}

// entrySet derives the first worker set from conversation state.
func (s *Scheduler) entrySet(conv *core.ConversationContext) []string {
	st := conv.State()

	if st.Stage == core.StagePlanDelivery && len(st.ConfirmedTargets) > 0 {
		return dedupe(st.ConfirmedTargets)
	}

	if s.directFoci[st.Focus] {
		return []string{s.reg.SynthesisName()}
	}

	return []string{s.reg.TriageName()}
}

// substituteUnknown replaces unregistered worker names with the terminal
// synthesis worker (fail-safe default).
func (s *Scheduler) substituteUnknown(conv *core.ConversationContext, set []string) []string {
	out := make([]string, 0, len(set))
	for _, name := range set {
		if _, ok := s.reg.Resolve(name); !ok {
			conv.Tracef("scheduler: unknown worker %q -> %s", name, s.reg.SynthesisName())
			name = s.reg.SynthesisName()
		}
		if !containsString(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// loopGuard forces the next set to {synthesis} once any non-terminal worker
// has been invoked loopThreshold times this turn.
func (s *Scheduler) loopGuard(conv *core.ConversationContext, seen map[string]int, synth string) []string {
	for name, n := range seen {
		if name == synth || name == s.reg.SafetyName() {
			continue
		}
		if n >= s.loopThreshold {
			conv.AddFinding("scheduler", fmt.Sprintf("loop prevention activated - %s invoked %d times, routing to %s for final synthesis", name, n, synth))
			conv.Tracef("scheduler: loop guard tripped on %s", name)
			if s.metrics != nil {
				s.metrics.LoopGuardTrips.Inc()
			}
			return []string{synth}
		}
	}
	return nil
}

// declareDomains records the specialist domains of a parallel dispatch as
// the working set owed for the current plan request.
func (s *Scheduler) declareDomains(conv *core.ConversationContext, set []string) {
	var domains []string
	for _, name := range set {
		if d := s.reg.DomainOf(name); d != "" {
			domains = append(domains, d)
		}
	}
	if len(domains) > 0 {
		conv.RequireDomains(domains)
	}
}

// executeSet runs the current worker set (inline when single, concurrently
// otherwise) and returns the merged, deduplicated union of the returned
// next-worker names, preserving first-seen order.
func (s *Scheduler) executeSet(ctx context.Context, conv *core.ConversationContext, set []string, turn *turnState) []string {
	results := make([][]string, len(set))

	if len(set) == 1 {
		results[0] = s.runNamed(ctx, conv, set[0], turn)
	} else {
		var wg sync.WaitGroup
		for i, name := range set {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				results[i] = s.runNamed(ctx, conv, name, turn)
			}(i, name)
		}
		wg.Wait()
	}

	return mergeResults(results)
}

// runNamed executes one worker by name, awaiting an in-flight speculative
// run instead of starting a duplicate. Worker errors contribute the
// synthesis worker to the merged next set; the turn continues.
func (s *Scheduler) runNamed(ctx context.Context, conv *core.ConversationContext, name string, turn *turnState) []string {
	var next []string
	var err error

	if fut := turn.claim(name); fut != nil {
		conv.Tracef("scheduler: claiming speculative run of %s", name)
		select {
		case <-fut.done:
			next, err = fut.next, fut.err
		case <-ctx.Done():
			return nil
		}
	} else {
		w, ok := s.reg.Resolve(name)
		if !ok {
			// Substitution happens before execution; reaching here means a
			// registry mutation mid-turn, treat as routing error.
			return []string{s.reg.SynthesisName()}
		}
		next, err = s.invoke(ctx, conv, w)
	}

	if err != nil {
		conv.Tracef("%s: error: %v -> %s", name, err, s.reg.SynthesisName())
		s.logger.Warn("worker failed", "worker", name, "error", err)
		if s.metrics != nil {
			s.metrics.WorkerErrors.Inc()
		}
		return []string{s.reg.SynthesisName()}
	}

	return next
}

// invoke runs a worker under the bounded pool with panic containment.
func (s *Scheduler) invoke(ctx context.Context, conv *core.ConversationContext, w core.Worker) (next []string, err error) {
	select {
	case s.pool <- struct{}{}:
		defer func() { <-s.pool }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked: %v", w.Name(), r)
		}
	}()

	conv.Tracef("%s: started run (hop %d)", w.Name(), conv.HopCount())

	return w.Run(ctx, conv)
}

// enforceDependencies keeps the mesh away from the terminal synthesizer
// while specialist domains promised earlier in the turn remain unfulfilled:
// synthesis is stripped from the set and the owner of each still-pending
// domain is re-added if a peer dropped it.
func (s *Scheduler) enforceDependencies(conv *core.ConversationContext, merged []string, synth string) []string {
	// A pure stop set means the terminal synthesizer already ran (loop guard
	// or forced routing); the turn is over regardless of pending domains.
	if isStopSet(merged) {
		return merged
	}

	pending := conv.PendingDomains()
	if len(pending) == 0 {
		return merged
	}

	out := make([]string, 0, len(merged))
	for _, name := range merged {
		if name == synth {
			conv.Tracef("scheduler: holding back %s, pending domains %v", synth, pending)
			continue
		}
		out = append(out, name)
	}

	for _, d := range pending {
		owner, ok := s.reg.OwnerOf(d)
		if !ok {
			continue
		}
		if !containsString(out, owner) {
			conv.Tracef("scheduler: re-adding %s for pending domain %s", owner, d)
			out = append(out, owner)
		}
	}

	return out
}

// startSpeculation launches eligible predicted workers before routing is
// confirmed. Only read-mostly, idempotent workers flagged Speculative in the
// registry qualify: their context mutations land whether or not the
// deterministic path claims them.
func (s *Scheduler) startSpeculation(ctx context.Context, conv *core.ConversationContext, turn *turnState) {
	if s.predictor == nil {
		return
	}

	for _, name := range dedupe(s.predictor(conv.State())) {
		entry, ok := s.reg.EntryFor(name)
		if !ok || !entry.Speculative {
			continue
		}

		fut := &future{done: make(chan struct{})}
		turn.put(name, fut)
		conv.Tracef("scheduler: speculative start %s", name)

		go func(w core.Worker, fut *future) {
			defer close(fut.done)
			fut.next, fut.err = s.invoke(ctx, conv, w)
		}(entry.Worker, fut)
	}
}

// finish assembles the turn result: the last message in history is the
// reply, staged widgets are flushed, and the trace is snapshotted.
func (s *Scheduler) finish(conv *core.ConversationContext) TurnResult {
	final := "System Error: No response generated."
	if msg, ok := conv.LastMessage(); ok {
		final = msg.Content
	}

	if s.metrics != nil {
		s.metrics.HopsPerTurn.Observe(float64(conv.HopCount()))
	}

	return TurnResult{
		FinalText: final,
		Widgets:   conv.DrainWidgets(),
		Trace:     conv.Trace(),
	}
}

// future is one speculative worker execution in flight.
type future struct {
	next []string
	err  error
	done chan struct{}
}

// turnState tracks unclaimed speculative futures for one turn. A future not
// claimed by end of turn is simply dropped.
type turnState struct {
	mu      sync.Mutex
	futures map[string]*future
}

func newTurnState() *turnState {
	return &turnState{futures: map[string]*future{}}
}

func (t *turnState) put(name string, f *future) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.futures[name] = f
}

func (t *turnState) claim(name string) *future {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.futures[name]
	delete(t.futures, name)
	return f
}

// isStopSet reports whether the set is exactly the stop sentinel.
func isStopSet(set []string) bool {
	return len(set) == 1 && set[0] == core.StopSentinel
}

// mergeResults unions the per-worker next sets preserving first-seen order.
// Stray stop sentinels in a mixed set are dropped: exit requires the set to
// be exactly the sentinel.
func mergeResults(results [][]string) []string {
	var merged []string
	seen := map[string]bool{}
	for _, r := range results {
		for _, name := range r {
			if seen[name] {
				continue
			}
			seen[name] = true
			merged = append(merged, name)
		}
	}

	if len(merged) > 1 {
		out := merged[:0]
		for _, name := range merged {
			if name != core.StopSentinel {
				out = append(out, name)
			}
		}
		merged = out
	}

	return merged
}

func dedupe(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range in {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
