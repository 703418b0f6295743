package search

// Result is a single search hit returned to the caller.
type Result struct {
	NodeID  string `json:"nodeId"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. OwnerID is mandatory; searches
// never cross account boundaries.
type Query struct {
	Text    string
	OwnerID string
	Kind    string // empty = all kinds
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// NodeRecord is the data we index for a node. Callers blank Body for
// encrypted nodes before indexing; ciphertext never reaches the index.
type NodeRecord struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}
