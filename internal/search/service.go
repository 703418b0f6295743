package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// scanning the document store.
type Service struct {
	meili *Meili
	scan  *Scan
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, scan *Scan) *Service {
	return &Service{meili: meili, scan: scan}
}

// Search tries Meilisearch if healthy, otherwise scans the store.
// Queries without an owner return nothing.
func (s *Service) Search(q Query) Response {
	if q.OwnerID == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}

	results, total, err := s.scan.Search(q)
	if err != nil {
		log.Printf("search: store scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexNode pushes a node into the search index (fire-and-forget).
func (s *Service) IndexNode(rec NodeRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexNode(rec); err != nil {
			log.Printf("search: index node %s: %v", rec.ID, err)
		}
	}()
}

// DeleteNode removes a node from the search index (fire-and-forget).
func (s *Service) DeleteNode(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteNode(id); err != nil {
			log.Printf("search: delete node %s: %v", id, err)
		}
	}()
}

// DeleteNodes removes a batch of nodes from the search index, used
// after a cascade delete (fire-and-forget).
func (s *Service) DeleteNodes(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteNodes(ids); err != nil {
			log.Printf("search: delete %d nodes: %v", len(ids), err)
		}
	}()
}

// ReindexAllFromStore reads every node from the document store and
// pushes the records to Meilisearch. Called at startup when
// Meilisearch is healthy.
func (s *Service) ReindexAllFromStore(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.scan == nil {
		return
	}
	records, err := s.scan.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexNodes(records); err != nil {
		log.Printf("search: reindex nodes: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
