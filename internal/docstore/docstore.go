// Package docstore provides the document-store seam the rest of the service
// persists through: per-collection documents addressed by id, guarded by a
// revision that changes on every successful write. Conditional writes are the
// only concurrency primitive on offer; there are no multi-document
// transactions. Three drivers satisfy the same contract: Mongo, Postgres
// (JSONB), and an in-process Memory store used by tests and dev mode.
package docstore

import (
	"context"
	"errors"
)

// Revision is the version token issued with every read and checked on every
// conditional write. Callers treat it as opaque; zero means "not stored yet"
// (or, on Delete, "skip the revision check").
type Revision int64

// Filter matches documents whose named fields equal the given values.
type Filter map[string]any

// SortField orders Find results by one document field.
type SortField struct {
	Field string
	Desc  bool
}

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrConflict is returned when a conditional write observes a stale
	// revision, meaning another write landed since the caller's read.
	ErrConflict = errors.New("docstore: revision conflict")
	// ErrDuplicateID is returned by Insert when the id is already taken.
	ErrDuplicateID = errors.New("docstore: duplicate document id")
)

// Store is the adapter contract. Get decodes the document into out and
// returns its current revision. Find decodes every match into out, which
// must be a pointer to a slice. Insert assigns an id when given an empty
// one and stores the document at revision 1. Update and Delete succeed only
// when rev matches the stored revision (Delete treats rev 0 as
// unconditional, so cascades can re-run over partially deleted trees).
type Store interface {
	Get(ctx context.Context, collection, id string, out any) (Revision, error)
	Find(ctx context.Context, collection string, filter Filter, sort []SortField, out any) error
	Insert(ctx context.Context, collection, id string, doc any) (string, Revision, error)
	Update(ctx context.Context, collection, id string, rev Revision, doc any) (Revision, error)
	Delete(ctx context.Context, collection, id string, rev Revision) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
