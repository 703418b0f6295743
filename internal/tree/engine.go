package tree

import (
	"context"
	"errors"
	"fmt"

	"arbor/api/internal/util"
)

// maxPathDepth bounds every ancestor walk and cascade. Legitimate trees
// never get near it; hitting it means the store was mutated outside the
// engine.
const maxPathDepth = 1000

// Engine implements the tree-shape operations over the repository's
// single-document primitives. Multi-document edits follow a fixed order:
// detach from the old parent, attach to the new parent, then rewrite the
// node itself; deletes run children before parents. Each step is retried
// independently, so the operation as a whole is not atomic. A crash
// between steps leaves at worst a detached node, which the sweep in this
// package reattaches or removes.
type Engine struct {
	repo *Repository
}

func NewEngine(repo *Repository) *Engine {
	return &Engine{repo: repo}
}

// CreateInput carries the caller-settable fields of a new node.
type CreateInput struct {
	Kind      Kind
	ParentID  string
	Title     string
	Body      string
	Encrypted bool
	Algorithm string
}

// ContentInput is a partial update of a node's content fields. Nil
// pointers leave the field as is. Structure is never touched here; Move
// owns parentId, position, and children.
type ContentInput struct {
	Title     *string
	Body      *string
	Encrypted *bool
	Algorithm *string
}

// Create adds a node to the forest. Spaces are created at the root and
// must not name a parent. Folders and pages require a foldable parent
// owned by the same user and are appended to its children; there is no
// caller-chosen insert position at creation, use Move to reorder.
func (e *Engine) Create(ctx context.Context, ownerID string, in CreateInput) (*Node, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("create node: invalid kind %q", in.Kind)
	}

	node := &Node{
		ID:        util.NewID("node"),
		OwnerID:   ownerID,
		Kind:      in.Kind,
		Title:     in.Title,
		Body:      in.Body,
		Encrypted: in.Encrypted,
		Algorithm: in.Algorithm,
	}

	if in.Kind == KindSpace {
		if in.ParentID != "" {
			return nil, fmt.Errorf("%w: a space cannot have a parent", ErrInvalidParent)
		}
		roots, err := e.repo.ListRoots(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		node.Position = len(roots)
		if err := e.repo.Insert(ctx, node); err != nil {
			return nil, err
		}
		return node, nil
	}

	if in.ParentID == "" {
		return nil, fmt.Errorf("%w: a %s needs a parent", ErrInvalidParent, in.Kind)
	}
	parent, err := e.repo.Get(ctx, ownerID, in.ParentID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: parent %s not found", ErrInvalidParent, in.ParentID)
	}
	if err != nil {
		return nil, err
	}
	if !parent.Kind.Foldable() {
		return nil, fmt.Errorf("%w: a %s cannot hold children", ErrInvalidParent, parent.Kind)
	}

	// Node document first, then the parent's list. A crash in between
	// leaves an orphan the sweep can reattach, never a dangling child id.
	node.ParentID = parent.ID
	node.Position = len(parent.Children)
	if err := e.repo.Insert(ctx, node); err != nil {
		return nil, err
	}

	index := node.Position
	_, err = e.repo.RetryingUpdate(ctx, ownerID, parent.ID, func(p *Node) error {
		if !p.Kind.Foldable() {
			return fmt.Errorf("%w: a %s cannot hold children", ErrInvalidParent, p.Kind)
		}
		p.Children = withoutID(p.Children, node.ID)
		index = len(p.Children)
		p.Children = append(p.Children, node.ID)
		return nil
	})
	if err != nil {
		// The node never made it into a parent list; remove it again so
		// the failed create leaves nothing behind.
		_ = e.repo.Delete(ctx, node.ID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: parent %s not found", ErrInvalidParent, in.ParentID)
		}
		return nil, err
	}

	// Concurrent appends can shift the slot the node actually landed in.
	if index != node.Position {
		return e.repo.RetryingUpdate(ctx, ownerID, node.ID, func(n *Node) error {
			n.Position = index
			return nil
		})
	}
	return node, nil
}

// Move relocates or reorders a node. With a target parent, the node is
// removed from its old parent's children, inserted into the new parent's
// at min(newPosition, len(children)), and finally rewritten with its new
// parentId and position. Out-of-range positions clamp to the end rather
// than fail. Without a target parent only spaces may move: they reorder
// among the owner's roots. Folders leave the root set through Promote,
// never through Move.
func (e *Engine) Move(ctx context.Context, ownerID, nodeID, newParentID string, newPosition int) (*Node, error) {
	node, err := e.repo.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if newPosition < 0 {
		newPosition = 0
	}

	if newParentID == "" {
		if node.Kind != KindSpace {
			return nil, fmt.Errorf("%w: a %s needs a parent", ErrInvalidParent, node.Kind)
		}
		return e.reorderRoots(ctx, ownerID, node.ID, newPosition)
	}
	if node.Kind == KindSpace {
		return nil, fmt.Errorf("%w: a space stays at the root", ErrInvalidParent)
	}

	parent, err := e.repo.Get(ctx, ownerID, newParentID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: parent %s not found", ErrInvalidParent, newParentID)
	}
	if err != nil {
		return nil, err
	}
	if !parent.Kind.Foldable() {
		return nil, fmt.Errorf("%w: a %s cannot hold children", ErrInvalidParent, parent.Kind)
	}
	if err := e.checkCycle(ctx, ownerID, node.ID, parent); err != nil {
		return nil, err
	}

	// Fixed write order: detach, attach, then the node document itself.
	if node.ParentID != "" && node.ParentID != parent.ID {
		if err := e.detach(ctx, ownerID, node.ParentID, node.ID); err != nil {
			return nil, err
		}
	}

	finalIndex := 0
	attached, err := e.repo.RetryingUpdate(ctx, ownerID, parent.ID, func(p *Node) error {
		if !p.Kind.Foldable() {
			return fmt.Errorf("%w: a %s cannot hold children", ErrInvalidParent, p.Kind)
		}
		p.Children = withoutID(p.Children, node.ID)
		index := newPosition
		if index > len(p.Children) {
			index = len(p.Children)
		}
		p.Children = insertAt(p.Children, node.ID, index)
		finalIndex = index
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: parent %s not found", ErrInvalidParent, newParentID)
	}
	if err != nil {
		return nil, err
	}

	if err := e.renumberChildren(ctx, ownerID, attached.Children, node.ID); err != nil {
		return nil, err
	}

	return e.repo.RetryingUpdate(ctx, ownerID, node.ID, func(n *Node) error {
		n.ParentID = parent.ID
		n.Position = finalIndex
		return nil
	})
}

// Promote turns a folder into a space: it is detached from its parent
// and appended to the owner's roots, keeping its children. Promoting a
// space is a no-op; pages cannot hold children and so cannot become
// spaces.
func (e *Engine) Promote(ctx context.Context, ownerID, nodeID string) (*Node, error) {
	node, err := e.repo.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Kind == KindSpace {
		return node, nil
	}
	if node.Kind != KindFolder {
		return nil, fmt.Errorf("%w: only folders can become spaces", ErrInvalidParent)
	}

	if node.ParentID != "" {
		if err := e.detach(ctx, ownerID, node.ParentID, node.ID); err != nil {
			return nil, err
		}
	}
	roots, err := e.repo.ListRoots(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	position := len(roots)
	return e.repo.RetryingUpdate(ctx, ownerID, nodeID, func(n *Node) error {
		n.Kind = KindSpace
		n.ParentID = ""
		n.Position = position
		return nil
	})
}

// Delete removes a node and, for foldable kinds, every descendant,
// children before parents. An absent or foreign-owned node returns
// false, not an error. Every step re-checks the document it touches, so
// a cascade interrupted half way can simply be run again.
func (e *Engine) Delete(ctx context.Context, ownerID, nodeID string) (bool, error) {
	node, err := e.repo.Get(ctx, ownerID, nodeID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := e.deleteDescendants(ctx, ownerID, node, 0); err != nil {
		return false, err
	}
	if node.ParentID != "" {
		if err := e.detach(ctx, ownerID, node.ParentID, node.ID); err != nil {
			return false, err
		}
	}
	if err := e.repo.Delete(ctx, node.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	return true, nil
}

func (e *Engine) deleteDescendants(ctx context.Context, ownerID string, node *Node, depth int) error {
	if !node.Kind.Foldable() {
		return nil
	}
	if depth >= maxPathDepth {
		return fmt.Errorf("cascade under %s: %w", node.ID, ErrCorruptTree)
	}
	for _, childID := range node.Children {
		child, err := e.repo.Get(ctx, ownerID, childID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := e.deleteDescendants(ctx, ownerID, child, depth+1); err != nil {
			return err
		}
		if err := e.repo.Delete(ctx, child.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// UpdateContent rewrites content fields through the retry loop.
func (e *Engine) UpdateContent(ctx context.Context, ownerID, nodeID string, in ContentInput) (*Node, error) {
	return e.repo.RetryingUpdate(ctx, ownerID, nodeID, func(n *Node) error {
		if in.Title != nil {
			n.Title = *in.Title
		}
		if in.Body != nil {
			n.Body = *in.Body
		}
		if in.Encrypted != nil {
			n.Encrypted = *in.Encrypted
		}
		if in.Algorithm != nil {
			n.Algorithm = *in.Algorithm
		}
		return nil
	})
}

// Get returns one node.
func (e *Engine) Get(ctx context.Context, ownerID, nodeID string) (*Node, error) {
	return e.repo.Get(ctx, ownerID, nodeID)
}

// ListChildren returns parentID's children ordered by position. Pages
// are leaves and list as empty.
func (e *Engine) ListChildren(ctx context.Context, ownerID, parentID string) ([]*Node, error) {
	parent, err := e.repo.Get(ctx, ownerID, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.Kind.Foldable() {
		return []*Node{}, nil
	}
	return e.repo.ListChildren(ctx, ownerID, parentID)
}

// ListRoots returns the owner's spaces ordered by position.
func (e *Engine) ListRoots(ctx context.Context, ownerID string) ([]*Node, error) {
	return e.repo.ListRoots(ctx, ownerID)
}

// ResolvePath returns the chain from the root space down to nodeID. The
// walk is capped at maxPathDepth; exceeding it, or hitting a dangling
// parent pointer, reports ErrCorruptTree instead of looping.
func (e *Engine) ResolvePath(ctx context.Context, ownerID, nodeID string) ([]*Node, error) {
	node, err := e.repo.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	path := []*Node{node}
	current := node
	for depth := 0; current.ParentID != ""; depth++ {
		if depth >= maxPathDepth {
			return nil, fmt.Errorf("path for %s: %w", nodeID, ErrCorruptTree)
		}
		parent, err := e.repo.Get(ctx, ownerID, current.ParentID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("path for %s: dangling parent %s: %w", nodeID, current.ParentID, ErrCorruptTree)
		}
		if err != nil {
			return nil, err
		}
		path = append(path, parent)
		current = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Subtree returns nodeID and every descendant, parents before children.
func (e *Engine) Subtree(ctx context.Context, ownerID, nodeID string) ([]*Node, error) {
	node, err := e.repo.Get(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	var out []*Node
	if err := e.collectSubtree(ctx, ownerID, node, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) collectSubtree(ctx context.Context, ownerID string, node *Node, depth int, out *[]*Node) error {
	if depth >= maxPathDepth {
		return fmt.Errorf("subtree under %s: %w", node.ID, ErrCorruptTree)
	}
	*out = append(*out, node)
	if !node.Kind.Foldable() {
		return nil
	}
	for _, childID := range node.Children {
		child, err := e.repo.Get(ctx, ownerID, childID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := e.collectSubtree(ctx, ownerID, child, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// checkCycle walks the target parent's ancestor chain to the root and
// rejects the move if the node being moved appears on it.
func (e *Engine) checkCycle(ctx context.Context, ownerID, nodeID string, parent *Node) error {
	current := parent
	for depth := 0; depth < maxPathDepth; depth++ {
		if current.ID == nodeID {
			return fmt.Errorf("%w: node %s", ErrCycleDetected, nodeID)
		}
		if current.ParentID == "" {
			return nil
		}
		next, err := e.repo.Get(ctx, ownerID, current.ParentID)
		if errors.Is(err, ErrNotFound) {
			// Chain is broken above the target; nothing up there can
			// close a cycle through nodeID.
			return nil
		}
		if err != nil {
			return err
		}
		current = next
	}
	return fmt.Errorf("ancestor walk above %s: %w", parent.ID, ErrCorruptTree)
}

// detach removes childID from parentID's list and renumbers the
// remaining siblings. A parent that no longer exists counts as already
// detached.
func (e *Engine) detach(ctx context.Context, ownerID, parentID, childID string) error {
	parent, err := e.repo.RetryingUpdate(ctx, ownerID, parentID, func(p *Node) error {
		next := withoutID(p.Children, childID)
		if len(next) == len(p.Children) {
			return errNoChange
		}
		p.Children = next
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.renumberChildren(ctx, ownerID, parent.Children, "")
}

// renumberChildren aligns each child's position field with its index in
// the parent's list. skipID marks a node the caller will rewrite itself.
func (e *Engine) renumberChildren(ctx context.Context, ownerID string, childIDs []string, skipID string) error {
	for i, childID := range childIDs {
		if childID == skipID {
			continue
		}
		index := i
		_, err := e.repo.RetryingUpdate(ctx, ownerID, childID, func(c *Node) error {
			if c.Position == index {
				return errNoChange
			}
			c.Position = index
			return nil
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// reorderRoots rebuilds the position sequence of the owner's spaces with
// nodeID placed at newPosition, clamped to the end of the root set.
func (e *Engine) reorderRoots(ctx context.Context, ownerID, nodeID string, newPosition int) (*Node, error) {
	roots, err := e.repo.ListRoots(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(roots))
	for _, root := range roots {
		if root.ID != nodeID {
			ids = append(ids, root.ID)
		}
	}
	if newPosition > len(ids) {
		newPosition = len(ids)
	}
	ids = insertAt(ids, nodeID, newPosition)

	var moved *Node
	for i, id := range ids {
		index := i
		updated, err := e.repo.RetryingUpdate(ctx, ownerID, id, func(n *Node) error {
			if n.Position == index {
				return errNoChange
			}
			n.Position = index
			return nil
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if id == nodeID {
			moved = updated
		}
	}
	if moved == nil {
		return e.repo.Get(ctx, ownerID, nodeID)
	}
	return moved, nil
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertAt(ids []string, id string, index int) []string {
	ids = append(ids, "")
	copy(ids[index+1:], ids[index:])
	ids[index] = id
	return ids
}
