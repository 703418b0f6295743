package tree

import (
	"context"
	"errors"
	"sort"
)

// Report summarizes what one repair sweep found and fixed.
type Report struct {
	OwnersSwept      int `json:"ownersSwept"`
	NodesScanned     int `json:"nodesScanned"`
	ChildrenRepaired int `json:"childrenRepaired"`
	PositionsAligned int `json:"positionsAligned"`
	PagesCleared     int `json:"pagesCleared"`
	SpacesDetached   int `json:"spacesDetached"`
	OrphansFound     int `json:"orphansFound"`
	OrphansRemoved   int `json:"orphansRemoved"`
}

func (r *Report) add(other Report) {
	r.OwnersSwept += other.OwnersSwept
	r.NodesScanned += other.NodesScanned
	r.ChildrenRepaired += other.ChildrenRepaired
	r.PositionsAligned += other.PositionsAligned
	r.PagesCleared += other.PagesCleared
	r.SpacesDetached += other.SpacesDetached
	r.OrphansFound += other.OrphansFound
	r.OrphansRemoved += other.OrphansRemoved
}

// Sweeper reconciles the duplicated structure after a crash or a lost
// race between movers. The child-side parentId fields are the authority:
// children lists are recomputed from them, positions realigned to list
// indices, pages stripped of stray children, and nodes unreachable from
// any space counted as orphans. Orphan documents are deleted only when
// removeOrphans is set; the default sweep reports them and leaves the
// documents in place. Every repair goes through the same retrying
// single-document writes as normal operations, so the sweep can run
// while the service is live and can be repeated at any time.
type Sweeper struct {
	repo          *Repository
	removeOrphans bool
}

func NewSweeper(repo *Repository, removeOrphans bool) *Sweeper {
	return &Sweeper{repo: repo, removeOrphans: removeOrphans}
}

// SweepOwner repairs a single owner's forest.
func (s *Sweeper) SweepOwner(ctx context.Context, ownerID string) (Report, error) {
	nodes, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return Report{}, err
	}
	report, err := s.sweep(ctx, ownerID, nodes)
	if err != nil {
		return report, err
	}
	report.OwnersSwept = 1
	return report, nil
}

// SweepAll repairs every owner's forest in one pass.
func (s *Sweeper) SweepAll(ctx context.Context) (Report, error) {
	nodes, err := s.repo.ListAll(ctx)
	if err != nil {
		return Report{}, err
	}

	byOwner := make(map[string][]*Node)
	var owners []string
	for _, node := range nodes {
		if _, ok := byOwner[node.OwnerID]; !ok {
			owners = append(owners, node.OwnerID)
		}
		byOwner[node.OwnerID] = append(byOwner[node.OwnerID], node)
	}

	var total Report
	for _, owner := range owners {
		report, err := s.sweep(ctx, owner, byOwner[owner])
		total.add(report)
		if err != nil {
			return total, err
		}
		total.OwnersSwept++
	}
	return total, nil
}

func (s *Sweeper) sweep(ctx context.Context, ownerID string, nodes []*Node) (Report, error) {
	report := Report{NodesScanned: len(nodes)}

	byID := make(map[string]*Node, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}

	// Group children under the parent their parentId names. Nodes whose
	// parent is missing or cannot hold children fall off the graph and
	// surface below as orphans.
	canonical := make(map[string][]*Node)
	var spaces []*Node
	for _, node := range nodes {
		if node.Kind == KindSpace {
			spaces = append(spaces, node)
			if node.ParentID != "" {
				if _, err := s.repo.RetryingUpdate(ctx, ownerID, node.ID, func(m *Node) error {
					m.ParentID = ""
					return nil
				}); err != nil && !errors.Is(err, ErrNotFound) {
					return report, err
				}
				report.SpacesDetached++
			}
			continue
		}
		parent, ok := byID[node.ParentID]
		if node.ParentID == "" || !ok || !parent.Kind.Foldable() {
			continue
		}
		canonical[parent.ID] = append(canonical[parent.ID], node)
	}
	for _, children := range canonical {
		sortSiblings(children)
	}

	// Rewrite parents whose stored list disagrees with the recomputed one.
	for _, node := range nodes {
		if !node.Kind.Foldable() {
			continue
		}
		want := idsOf(canonical[node.ID])
		if equalIDs(node.Children, want) {
			continue
		}
		if _, err := s.repo.RetryingUpdate(ctx, ownerID, node.ID, func(m *Node) error {
			m.Children = want
			return nil
		}); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return report, err
		}
		report.ChildrenRepaired++
	}

	// Align each child's position with its index.
	for _, children := range canonical {
		for i, child := range children {
			if child.Position == i {
				continue
			}
			index := i
			if _, err := s.repo.RetryingUpdate(ctx, ownerID, child.ID, func(m *Node) error {
				m.Position = index
				return nil
			}); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return report, err
			}
			report.PositionsAligned++
		}
	}

	// Pages stay leaves.
	for _, node := range nodes {
		if node.Kind.Foldable() || len(node.Children) == 0 {
			continue
		}
		if _, err := s.repo.RetryingUpdate(ctx, ownerID, node.ID, func(m *Node) error {
			m.Children = nil
			return nil
		}); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return report, err
		}
		report.PagesCleared++
	}

	// Contiguous root ordering, stable by current positions.
	sortSiblings(spaces)
	for i, space := range spaces {
		if space.Position == i {
			continue
		}
		index := i
		if _, err := s.repo.RetryingUpdate(ctx, ownerID, space.ID, func(m *Node) error {
			m.Position = index
			return nil
		}); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return report, err
		}
		report.PositionsAligned++
	}

	// Anything a breadth-first walk from the roots cannot reach is an
	// orphan, including whole subtrees hanging off a dangling parent and
	// parent loops that never touch a space.
	reachable := make(map[string]bool, len(nodes))
	queue := make([]*Node, 0, len(spaces))
	for _, space := range spaces {
		reachable[space.ID] = true
		queue = append(queue, space)
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range canonical[current.ID] {
			if reachable[child.ID] {
				continue
			}
			reachable[child.ID] = true
			queue = append(queue, child)
		}
	}
	for _, node := range nodes {
		if node.Kind == KindSpace || reachable[node.ID] {
			continue
		}
		report.OrphansFound++
		if !s.removeOrphans {
			continue
		}
		if err := s.repo.Delete(ctx, node.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return report, err
		}
		report.OrphansRemoved++
	}

	return report, nil
}

func sortSiblings(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func idsOf(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
