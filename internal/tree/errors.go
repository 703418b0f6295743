package tree

import "errors"

// The error taxonomy callers see. Revision conflicts never appear here:
// the repository retries them internally and reports
// ErrConcurrencyExhausted once the retry budget runs out.
var (
	// ErrNotFound covers both a node that does not exist and a node owned
	// by someone else. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidParent marks a create or move whose target parent is
	// absent, foreign-owned, or of a kind that cannot hold children.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrCycleDetected marks a move that would place a node beneath its
	// own descendant.
	ErrCycleDetected = errors.New("move would create a cycle")

	// ErrConcurrencyExhausted means an update kept losing revision races.
	// The operation is safe to retry.
	ErrConcurrencyExhausted = errors.New("too many concurrent updates")

	// ErrCorruptTree means an ancestor walk exceeded its bound or hit a
	// dangling parent pointer. The store was mutated outside the engine;
	// a repair sweep is needed.
	ErrCorruptTree = errors.New("tree structure corrupt")
)
