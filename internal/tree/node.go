// Package tree keeps a user's notes organized as a forest: space nodes at
// the roots, folders and pages nested beneath them. Structure is stored
// twice, once as the child's parentId/position and once as the parent's
// ordered children list, inside a store that only offers single-document
// atomicity. The engine in this package is what keeps the two sides
// consistent under concurrent edits.
package tree

import (
	"time"

	"arbor/api/internal/docstore"
)

// Collection is the document collection nodes live in.
const Collection = "nodes"

// Kind classifies a node within the forest.
type Kind string

const (
	KindSpace  Kind = "space"
	KindFolder Kind = "folder"
	KindPage   Kind = "page"
)

// Valid reports whether k names one of the three node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSpace, KindFolder, KindPage:
		return true
	}
	return false
}

// Foldable reports whether nodes of this kind may hold children.
func (k Kind) Foldable() bool {
	return k == KindSpace || k == KindFolder
}

// Node is the one entity of the knowledge base. ParentID is set iff the
// node is not a space; Children is kept only on foldable kinds. Body may
// be an opaque ciphertext blob when Encrypted is set, in which case
// Algorithm names the scheme the client used. The tree layer never looks
// inside either field.
type Node struct {
	ID        string    `json:"id" bson:"id"`
	OwnerID   string    `json:"ownerId" bson:"ownerId"`
	Kind      Kind      `json:"kind" bson:"kind"`
	ParentID  string    `json:"parentId,omitempty" bson:"parentId,omitempty"`
	Position  int       `json:"position" bson:"position"`
	Children  []string  `json:"children,omitempty" bson:"children,omitempty"`
	Title     string    `json:"title" bson:"title"`
	Body      string    `json:"body,omitempty" bson:"body,omitempty"`
	Encrypted bool      `json:"encrypted,omitempty" bson:"encrypted,omitempty"`
	Algorithm string    `json:"algorithm,omitempty" bson:"algorithm,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`

	// Rev is the revision token the node was read with. The store keeps
	// it outside the document, so it is never serialized here.
	Rev docstore.Revision `json:"-" bson:"-"`
}

// normalize keeps the in-memory shape canonical after a read: foldable
// nodes always carry a non-nil children slice.
func (n *Node) normalize() {
	if n.Kind.Foldable() && n.Children == nil {
		n.Children = []string{}
	}
}
