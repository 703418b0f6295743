package search

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"arbor/api/internal/docstore"
)

const (
	nodesCollection = "nodes"
	snippetContext  = 60
)

// scanNode is the slice of a node document the scanner reads.
type scanNode struct {
	ID        string    `json:"id" bson:"id"`
	OwnerID   string    `json:"ownerId" bson:"ownerId"`
	Kind      string    `json:"kind" bson:"kind"`
	Title     string    `json:"title" bson:"title"`
	Body      string    `json:"body" bson:"body"`
	Encrypted bool      `json:"encrypted" bson:"encrypted"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type docStore interface {
	Find(ctx context.Context, collection string, filter docstore.Filter, sort []docstore.SortField, out any) error
}

// Scan implements Searcher with a substring scan over the document
// store. It is the fallback when Meilisearch is not configured and
// holds up fine at the node counts a single account accumulates.
type Scan struct {
	store docStore
}

// NewScan creates a document store scanner.
func NewScan(store docStore) *Scan {
	return &Scan{store: store}
}

// Healthy always returns true; if the document store is down the whole
// app is down.
func (s *Scan) Healthy() bool {
	return true
}

// Search matches the query text against titles and plaintext bodies of
// the owner's nodes. Title matches rank above body matches; within a
// bucket nodes stay in creation order. Encrypted bodies are never
// inspected, their titles remain searchable.
func (s *Scan) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	filter := docstore.Filter{"ownerId": q.OwnerID}
	if q.Kind != "" {
		filter["kind"] = q.Kind
	}

	var nodes []scanNode
	sortBy := []docstore.SortField{{Field: "createdAt"}, {Field: "id"}}
	if err := s.store.Find(context.Background(), nodesCollection, filter, sortBy, &nodes); err != nil {
		return nil, 0, fmt.Errorf("scan nodes: %w", err)
	}

	needle := strings.ToLower(text)
	var titleHits, bodyHits []Result
	for _, n := range nodes {
		inTitle := strings.Contains(strings.ToLower(n.Title), needle)
		inBody := !n.Encrypted && strings.Contains(strings.ToLower(n.Body), needle)
		switch {
		case inTitle:
			r := Result{NodeID: n.ID, Kind: n.Kind, Title: highlight(n.Title, needle)}
			if inBody {
				r.Snippet = buildSnippet(n.Body, needle)
			}
			titleHits = append(titleHits, r)
		case inBody:
			bodyHits = append(bodyHits, Result{
				NodeID:  n.ID,
				Kind:    n.Kind,
				Title:   n.Title,
				Snippet: buildSnippet(n.Body, needle),
			})
		}
	}

	all := append(titleHits, bodyHits...)
	total := len(all)

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return all[offset:end], total, nil
}

// LoadAllRecords returns every node as an index record for full
// reindexing. Encrypted bodies are blanked before they leave the store.
func (s *Scan) LoadAllRecords(ctx context.Context) ([]NodeRecord, error) {
	var nodes []scanNode
	sortBy := []docstore.SortField{{Field: "ownerId"}, {Field: "createdAt"}}
	if err := s.store.Find(ctx, nodesCollection, docstore.Filter{}, sortBy, &nodes); err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}

	records := make([]NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		body := n.Body
		if n.Encrypted {
			body = ""
		}
		records = append(records, NodeRecord{
			ID:      n.ID,
			OwnerID: n.OwnerID,
			Kind:    n.Kind,
			Title:   n.Title,
			Body:    body,
		})
	}
	return records, nil
}

// highlight wraps the first case-insensitive match of needle in
// <mark> tags, mirroring the tags the Meilisearch path emits.
func highlight(text, needle string) string {
	idx := strings.Index(strings.ToLower(text), needle)
	if idx < 0 || idx+len(needle) > len(text) {
		return text
	}
	end := idx + len(needle)
	return text[:idx] + "<mark>" + text[idx:end] + "</mark>" + text[end:]
}

// buildSnippet crops a window around the first match and highlights it.
func buildSnippet(body, needle string) string {
	idx := strings.Index(strings.ToLower(body), needle)
	if idx < 0 || idx+len(needle) > len(body) {
		return ""
	}
	end := idx + len(needle)

	start := idx - snippetContext
	if start < 0 {
		start = 0
	}
	stop := end + snippetContext
	if stop > len(body) {
		stop = len(body)
	}
	// Never cut a multibyte character in half.
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	for stop < len(body) && !utf8.RuneStart(body[stop]) {
		stop++
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(body[start:idx])
	b.WriteString("<mark>")
	b.WriteString(body[idx:end])
	b.WriteString("</mark>")
	b.WriteString(body[end:stop])
	if stop < len(body) {
		b.WriteString("...")
	}
	return b.String()
}
