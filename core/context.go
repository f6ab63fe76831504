package core

import (
	"fmt"
	"sync"
	"time"
)

// Message is one entry of the conversation history. Insertion order is
// meaningful: the history is replayed in order on later generation calls.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
}

// Finding is a short internal note tagged with the worker that produced it.
type Finding struct {
	Origin string `json:"origin"`
	Text   string `json:"text"`
}

// Widget is an opaque UI artifact accumulated during a turn and flushed to
// the caller at turn end.
type Widget struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ConversationContext is the single shared, mutable record of one
// conversation. It is created on first reference to a session id, lives until
// idle-timeout eviction, and is mutated in place turn after turn.
//
// All mutating operations go through one mutex scoped to this instance. The
// lock is intentionally coarse: per-turn work is I/O-bound on external calls,
// so correctness wins over throughput.
type ConversationContext struct {
	mu sync.Mutex

	id     string
	intent string

	history     []Message
	findings    []Finding
	flags       map[string]bool
	domainFlags map[string]bool

	requiredDomains []string
	pendingDomains  map[string]bool

	toolCache map[string]string
	widgets   []Widget
	trace     []string

	hopCount    int
	dataVersion uint64
	state       ConversationState

	created time.Time
	touched time.Time
}

// NewConversationContext creates an empty context for the given session id.
func NewConversationContext(id string) *ConversationContext {
	now := time.Now()
	return &ConversationContext{
		id:          id,
		flags:       map[string]bool{},
		domainFlags: map[string]bool{},
		toolCache:   map[string]string{},
		state:       ConversationState{Stage: StageTriage},
		created:     now,
		touched:     now,
	}
}

// ID returns the session id this context belongs to.
func (c *ConversationContext) ID() string { return c.id }

// Touch refreshes the idle timestamp.
func (c *ConversationContext) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = time.Now()
}

// LastTouched reports when the context was last used.
func (c *ConversationContext) LastTouched() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched
}

// Created reports when the context was created.
func (c *ConversationContext) Created() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// SetIntent records the high-level goal anchor for the session. Only the
// first non-empty value sticks.
func (c *ConversationContext) SetIntent(intent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent == "" {
		c.intent = intent
	}
}

// Intent returns the session's goal anchor (usually the first utterance).
func (c *ConversationContext) Intent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intent
}

// AddMessage appends a message to the history.
func (c *ConversationContext) AddMessage(role, content, sender string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, Message{Role: role, Content: content, Sender: sender})
	c.touched = time.Now()
}

// History returns a defensive copy of the message history.
func (c *ConversationContext) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// LastMessage returns the most recent message, if any.
func (c *ConversationContext) LastMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Message{}, false
	}
	return c.history[len(c.history)-1], true
}

// LastUserMessage returns the most recent user-authored message, if any.
func (c *ConversationContext) LastUserMessage() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == "user" {
			return c.history[i], true
		}
	}
	return Message{}, false
}

// LastMessageFrom returns the most recent message authored by sender.
func (c *ConversationContext) LastMessageFrom(sender string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Sender == sender {
			return c.history[i], true
		}
	}
	return Message{}, false
}

// AddFinding appends an internal note tagged with its origin worker.
func (c *ConversationContext) AddFinding(origin, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findings = append(c.findings, Finding{Origin: origin, Text: text})
	c.touched = time.Now()
}

// Findings returns a defensive copy of the accumulated findings.
func (c *ConversationContext) Findings() []Finding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Finding, len(c.findings))
	copy(out, c.findings)
	return out
}

// LastFindingFrom returns the most recent finding tagged by origin.
func (c *ConversationContext) LastFindingFrom(origin string) (Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.findings) - 1; i >= 0; i-- {
		if c.findings[i].Origin == origin {
			return c.findings[i], true
		}
	}
	return Finding{}, false
}

// SetFlag sets a free-form boolean signal. Last write wins.
func (c *ConversationContext) SetFlag(key string, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[key] = value
}

// Flag reads a free-form boolean signal.
func (c *ConversationContext) Flag(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flags[key]
}

// SignalDomain records a typed completion signal. Completed domains are
// marked done for the session and removed from the pending working set.
func (c *ConversationContext) SignalDomain(sig DomainSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch sig.Status {
	case DomainCompleted:
		c.domainFlags[sig.Domain] = true
		delete(c.pendingDomains, sig.Domain)
	case DomainOffered:
		// Offered domains stay pending until a completion signal arrives.
	}
	c.trace = append(c.trace, fmt.Sprintf("domain %s: %s", sig.Domain, sig.Status))
}

// DomainDone reports whether a specialist domain has completed this session.
func (c *ConversationContext) DomainDone(domain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.domainFlags[domain]
}

// DomainFlags returns a copy of the per-domain completion map.
func (c *ConversationContext) DomainFlags() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.domainFlags))
	for k, v := range c.domainFlags {
		out[k] = v
	}
	return out
}

// RequireDomains declares the working set of domains owed for the current
// plan request. Domains already completed this session are not re-owed.
// Pending domains are always a subset of required domains.
func (c *ConversationContext) RequireDomains(domains []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingDomains == nil {
		c.pendingDomains = map[string]bool{}
	}
	for _, d := range domains {
		if containsString(c.requiredDomains, d) {
			continue
		}
		c.requiredDomains = append(c.requiredDomains, d)
		if !c.domainFlags[d] {
			c.pendingDomains[d] = true
		}
	}
}

// PendingDomains returns the still-owed domains in required order.
func (c *ConversationContext) PendingDomains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, d := range c.requiredDomains {
		if c.pendingDomains[d] {
			out = append(out, d)
		}
	}
	return out
}

// ClearPlanDomains resets the plan working set (required and pending).
func (c *ConversationContext) ClearPlanDomains() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requiredDomains = nil
	c.pendingDomains = nil
}

// CachedTool returns a previously cached external-call result.
func (c *ConversationContext) CachedTool(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.toolCache[key]
	return v, ok
}

// StoreTool caches an external-call result under its canonical key.
func (c *ConversationContext) StoreTool(key, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolCache[key] = result
}

// ToolCacheSize reports the number of cached call results.
func (c *ConversationContext) ToolCacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.toolCache)
}

// DataVersion returns the current data version counter.
func (c *ConversationContext) DataVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataVersion
}

// BumpDataVersion increments the data version and clears the tool cache in
// full. Stale cached results are never served after an underlying data
// change.
func (c *ConversationContext) BumpDataVersion() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataVersion++
	c.toolCache = map[string]string{}
	c.trace = append(c.trace, fmt.Sprintf("data version -> %d, tool cache cleared", c.dataVersion))
	return c.dataVersion
}

// AddWidget stages a UI artifact for the current turn.
func (c *ConversationContext) AddWidget(w Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.widgets = append(c.widgets, w)
}

// WidgetStaged reports whether a widget of the given type from the given
// origin is already staged for the current turn.
func (c *ConversationContext) WidgetStaged(widgetType, origin string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.widgets {
		if w.Type != widgetType {
			continue
		}
		if o, ok := w.Payload["origin"].(string); ok && o == origin {
			return true
		}
	}
	return false
}

// DrainWidgets returns the staged widgets and clears the buffer.
func (c *ConversationContext) DrainWidgets() []Widget {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.widgets
	c.widgets = nil
	return out
}

// Tracef appends a formatted entry to the ordered diagnostic log.
func (c *ConversationContext) Tracef(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = append(c.trace, fmt.Sprintf(format, args...))
}

// Trace returns a defensive copy of the diagnostic log.
func (c *ConversationContext) Trace() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.trace))
	copy(out, c.trace)
	return out
}

// TraceLen reports the number of trace entries.
func (c *ConversationContext) TraceLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trace)
}

// BeginTurn resets the per-turn hop counter.
func (c *ConversationContext) BeginTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hopCount = 0
	c.touched = time.Now()
}

// NextHop increments and returns the per-turn hop counter.
func (c *ConversationContext) NextHop() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hopCount++
	return c.hopCount
}

// HopCount returns the current per-turn hop counter.
func (c *ConversationContext) HopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hopCount
}

// State returns a copy of the conversation state tuple.
func (c *ConversationContext) State() ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// SetState replaces the conversation state tuple.
func (c *ConversationContext) SetState(s ConversationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s.Clone()
}

// RegisterOffer presents an offer to the user and moves the conversation to
// the awaiting-confirmation stage. Any previously confirmed targets are
// dropped to keep ConfirmedTargets tied to plan delivery.
func (c *ConversationContext) RegisterOffer(name string, targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PendingOffer = name
	c.state.OfferTargets = append([]string(nil), targets...)
	c.state.ConfirmedTargets = nil
	c.state.Stage = StageAwaitingConfirmation
	c.trace = append(c.trace, fmt.Sprintf("offer registered: %s -> %v", name, targets))
}

// ConfirmOffer copies the offer targets into the confirmed set and moves the
// conversation to plan delivery.
func (c *ConversationContext) ConfirmOffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.PendingOffer == "" {
		return
	}
	c.state.ConfirmedTargets = append([]string(nil), c.state.OfferTargets...)
	c.state.Stage = StagePlanDelivery
	c.state.Intent = "plan"
	c.state.Focus = "plan"
	c.trace = append(c.trace, fmt.Sprintf("offer confirmed: %s -> %v", c.state.PendingOffer, c.state.ConfirmedTargets))
	c.state.PendingOffer = ""
	c.state.OfferTargets = nil
}

// ClearOffer withdraws a declined offer and reverts to diagnosis.
func (c *ConversationContext) ClearOffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trace = append(c.trace, fmt.Sprintf("offer declined: %s", c.state.PendingOffer))
	c.state.PendingOffer = ""
	c.state.OfferTargets = nil
	c.state.ConfirmedTargets = nil
	c.state.Stage = StageDiagnosis
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
