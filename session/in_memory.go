// Package session provides the volatile session store mapping opaque session
// ids to conversation contexts. Idle sessions are purged on access; contexts
// mid-turn are never evicted.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/logging"
)

// ErrTurnInProgress is returned when a turn is started for a session that is
// already processing one. Concurrent turns for the same session are not
// supported; callers must retry or serialize.
var ErrTurnInProgress = errors.New("session already has a turn in progress")

// Options holds configuration overrides for the store.
type Options struct {
	// IdleTimeout is the window after which an untouched session is purged.
	IdleTimeout time.Duration
	// Logger receives eviction and lifecycle events.
	Logger logging.Logger
}

// Store is a process-local session store. It is safe for concurrent use;
// each contained context carries its own lock, so two different sessions
// never contend with each other.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*core.ConversationContext
	busy     map[string]bool

	idleTimeout time.Duration
	logger      logging.Logger
}

// Info summarizes an active session for operator listings.
type Info struct {
	ID       string
	Created  time.Time
	Messages int
	Intent   string
}

// NewStore constructs an empty store with a 60 minute idle timeout.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{
		IdleTimeout: 60 * time.Minute,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		sessions:    map[string]*core.ConversationContext{},
		busy:        map[string]bool{},
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
	}
}

// Get returns the context for id, creating one on miss. Expired sessions are
// purged first.
func (s *Store) Get(id string) *core.ConversationContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	return s.getOrCreateLocked(id)
}

// BeginTurn fetches (or creates) the context for id and marks the session
// busy for the duration of a turn. It fails with ErrTurnInProgress when a
// turn is already running for the same id.
func (s *Store) BeginTurn(id string) (*core.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	if s.busy[id] {
		return nil, ErrTurnInProgress
	}

	conv := s.getOrCreateLocked(id)
	s.busy[id] = true

	return conv, nil
}

// Put installs (or replaces) a context under id. Existing busy markers are
// left untouched.
func (s *Store) Put(id string, conv *core.ConversationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = conv
}

// EndTurn releases the busy marker set by BeginTurn.
func (s *Store) EndTurn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, id)
}

// Delete removes a session outright.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.busy, id)
}

// EvictExpired purges idle sessions and returns how many were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpiredLocked()
}

// BumpDataVersions increments the data version of every live session,
// invalidating each tool cache and all response-cache keys derived from the
// old versions.
func (s *Store) BumpDataVersions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.sessions {
		conv.BumpDataVersion()
	}
}

// Sessions lists active sessions with lightweight metadata.
func (s *Store) Sessions() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.sessions))
	for id, conv := range s.sessions {
		out = append(out, Info{
			ID:       id,
			Created:  conv.Created(),
			Messages: len(conv.History()),
			Intent:   conv.Intent(),
		})
	}
	return out
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) getOrCreateLocked(id string) *core.ConversationContext {
	if conv, ok := s.sessions[id]; ok {
		conv.Touch()
		return conv
	}

	conv := core.NewConversationContext(id)
	s.sessions[id] = conv
	s.logger.Debug("session created", "session_id", id)
	return conv
}

func (s *Store) evictExpiredLocked() int {
	now := time.Now()
	evicted := 0
	for id, conv := range s.sessions {
		if s.busy[id] {
			continue // never evict mid-turn
		}
		if now.Sub(conv.LastTouched()) > s.idleTimeout {
			delete(s.sessions, id)
			evicted++
			s.logger.Debug("session evicted", "session_id", id)
		}
	}
	return evicted
}
