// Package core contains the shared data model of the CoachMesh orchestration
// engine: the ConversationContext (the single mutable record of one
// conversation), the ConversationState value object, the Worker contract and
// the intent classifier boundary.
//
// The ConversationContext is exclusively owned by the session store and
// mutated in place turn after turn. All mutating operations go through one
// coarse lock per context; two different sessions never contend on the same
// lock.
package core
