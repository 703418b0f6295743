package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbor/api/internal/docstore"
)

// docStore is the slice of the document store the tree layer depends on.
type docStore interface {
	Get(ctx context.Context, collection, id string, out any) (docstore.Revision, error)
	Find(ctx context.Context, collection string, filter docstore.Filter, sort []docstore.SortField, out any) error
	Insert(ctx context.Context, collection, id string, doc any) (string, docstore.Revision, error)
	Update(ctx context.Context, collection, id string, rev docstore.Revision, doc any) (docstore.Revision, error)
	Delete(ctx context.Context, collection, id string, rev docstore.Revision) error
}

const defaultMaxAttempts = 5

// errNoChange lets a mutate func report that the document already has the
// desired shape, so RetryingUpdate returns it without writing.
var errNoChange = errors.New("no change")

// Repository performs single-document node CRUD with the revision-check
// discipline the engine builds on. Every read is scoped to an owner;
// an owner mismatch is reported as the node being absent.
type Repository struct {
	store       docStore
	maxAttempts int
}

func NewRepository(store docStore) *Repository {
	return &Repository{store: store, maxAttempts: defaultMaxAttempts}
}

// Get fetches a node by id on behalf of ownerID.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (*Node, error) {
	var node Node
	rev, err := r.store.Get(ctx, Collection, id, &node)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	if node.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	node.Rev = rev
	node.normalize()
	return &node, nil
}

// Insert writes a brand-new node document. Timestamps are assigned here,
// never by callers.
func (r *Repository) Insert(ctx context.Context, node *Node) error {
	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now
	node.normalize()
	_, rev, err := r.store.Insert(ctx, Collection, node.ID, node)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	node.Rev = rev
	return nil
}

// Put writes the node conditioned on the revision it was read with.
// A stale revision surfaces as docstore.ErrConflict so RetryingUpdate
// can absorb it.
func (r *Repository) Put(ctx context.Context, node *Node) error {
	node.UpdatedAt = time.Now().UTC()
	rev, err := r.store.Update(ctx, Collection, node.ID, node.Rev, node)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, docstore.ErrConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("put node %s: %w", node.ID, err)
	}
	node.Rev = rev
	return nil
}

// Delete removes the node document unconditionally, so cascades can be
// re-run over partially deleted subtrees.
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, Collection, id, 0)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

// RetryingUpdate reads the node fresh, applies mutate, and writes the
// result back, repeating the whole cycle when the write loses a revision
// race. Every multi-document tree edit is composed from this primitive;
// the individual steps stay safe even though the operation as a whole is
// not atomic. Errors returned by mutate propagate unchanged.
func (r *Repository) RetryingUpdate(ctx context.Context, ownerID, id string, mutate func(*Node) error) (*Node, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		node, err := r.Get(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(node); err != nil {
			if errors.Is(err, errNoChange) {
				return node, nil
			}
			return nil, err
		}
		err = r.Put(ctx, node)
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, docstore.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("update node %s: %w", id, ErrConcurrencyExhausted)
}

// ListChildren returns the nodes pointing at parentID, ordered by
// position. The child documents are the source here, not the parent's
// children array; the two agree whenever the invariants hold.
func (r *Repository) ListChildren(ctx context.Context, ownerID, parentID string) ([]*Node, error) {
	return r.list(ctx, docstore.Filter{"ownerId": ownerID, "parentId": parentID})
}

// ListRoots returns the owner's spaces ordered by position.
func (r *Repository) ListRoots(ctx context.Context, ownerID string) ([]*Node, error) {
	return r.list(ctx, docstore.Filter{"ownerId": ownerID, "kind": string(KindSpace)})
}

// ListByOwner returns every node the owner has, oldest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*Node, error) {
	var nodes []*Node
	err := r.store.Find(ctx, Collection, docstore.Filter{"ownerId": ownerID},
		[]docstore.SortField{{Field: "createdAt"}, {Field: "id"}}, &nodes)
	if err != nil {
		return nil, fmt.Errorf("list nodes for %s: %w", ownerID, err)
	}
	for _, node := range nodes {
		node.normalize()
	}
	return nodes, nil
}

// ListAll returns every node in the store regardless of owner. Only the
// repair sweep uses this; request paths stay owner-scoped.
func (r *Repository) ListAll(ctx context.Context) ([]*Node, error) {
	var nodes []*Node
	err := r.store.Find(ctx, Collection, docstore.Filter{},
		[]docstore.SortField{{Field: "ownerId"}, {Field: "createdAt"}}, &nodes)
	if err != nil {
		return nil, fmt.Errorf("list all nodes: %w", err)
	}
	for _, node := range nodes {
		node.normalize()
	}
	return nodes, nil
}

func (r *Repository) list(ctx context.Context, filter docstore.Filter) ([]*Node, error) {
	var nodes []*Node
	err := r.store.Find(ctx, Collection, filter,
		[]docstore.SortField{{Field: "position"}}, &nodes)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	for _, node := range nodes {
		node.normalize()
	}
	return nodes, nil
}
