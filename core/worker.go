package core

import "context"

// StopSentinel is the single-element handoff returned by the terminal
// synthesis worker (and by the safety worker on its emergency path). A
// scheduler receiving exactly this set ends the turn.
const StopSentinel = "STOP"

// Worker is a unit of the mesh. It consumes the shared conversation context
// and returns the names of the workers that should run next.
//
// A worker:
//   - reads the context state, findings, flags and history;
//   - may perform external capability calls (read-only, cacheable);
//   - may append messages, findings and widgets;
//   - returns one or more peer names (parallel if more than one), the stop
//     sentinel if it is the terminal synthesizer, or an error.
//
// An empty next-worker list is treated by the scheduler as "terminal, no
// further routing".
type Worker interface {
	Name() string
	Run(ctx context.Context, conv *ConversationContext) ([]string, error)
}

// DomainStatus is the structured completion state a specialist declares for
// its domain. Workers declare completion explicitly instead of the scheduler
// pattern-matching prose findings.
type DomainStatus string

const (
	// DomainCompleted marks a specialist domain as done for this session.
	DomainCompleted DomainStatus = "completed"
	// DomainOffered marks a domain as proposed but not yet executed.
	DomainOffered DomainStatus = "offered"
)

// DomainSignal is the typed completion signal emitted by a specialist worker.
type DomainSignal struct {
	Domain string
	Status DomainStatus
}
