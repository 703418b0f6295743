package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Documents are held as marshaled JSON so
// callers never share mutable state with the store. It backs unit tests and
// the "memory" driver for local development.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]memoryDoc
}

type memoryDoc struct {
	rev  Revision
	data []byte
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]memoryDoc)}
}

func (m *Memory) Get(ctx context.Context, collection, id string, out any) (Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return 0, ErrNotFound
	}
	if err := json.Unmarshal(doc.data, out); err != nil {
		return 0, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return doc.rev, nil
}

func (m *Memory) Find(ctx context.Context, collection string, filter Filter, sortBy []SortField, out any) error {
	m.mu.RLock()
	matches := make([]map[string]any, 0)
	for _, doc := range m.collections[collection] {
		var fields map[string]any
		if err := json.Unmarshal(doc.data, &fields); err != nil {
			m.mu.RUnlock()
			return fmt.Errorf("decode document in %s: %w", collection, err)
		}
		if matchesFilter(fields, filter) {
			matches = append(matches, fields)
		}
	}
	m.mu.RUnlock()

	sortDocs(matches, sortBy)

	raws := make([]json.RawMessage, 0, len(matches))
	for _, fields := range matches {
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode match in %s: %w", collection, err)
		}
		raws = append(raws, raw)
	}
	return decodeSlice(raws, out)
}

func (m *Memory) Insert(ctx context.Context, collection, id string, doc any) (string, Revision, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("encode document for %s: %w", collection, err)
	}
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string]memoryDoc)
		m.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return "", 0, ErrDuplicateID
	}
	docs[id] = memoryDoc{rev: 1, data: data}
	return id, 1, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, rev Revision, doc any) (Revision, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.collections[collection][id]
	if !ok {
		return 0, ErrNotFound
	}
	if current.rev != rev {
		return 0, ErrConflict
	}
	next := current.rev + 1
	m.collections[collection][id] = memoryDoc{rev: next, data: data}
	return next, nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string, rev Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	if rev != 0 && current.rev != rev {
		return ErrConflict
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close(ctx context.Context) error { return nil }

// Count reports how many documents a collection holds. Test helper.
func (m *Memory) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func matchesFilter(fields map[string]any, filter Filter) bool {
	for key, want := range filter {
		got, ok := fields[key]
		if !ok {
			return false
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

// jsonEqual compares through a JSON round trip so int 3 in a filter matches
// the float64 3 that Unmarshal produced from the stored document.
func jsonEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func sortDocs(docs []map[string]any, sortBy []SortField) {
	if len(sortBy) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range sortBy {
			cmp := compareValues(docs[i][field.Field], docs[j][field.Field])
			if cmp == 0 {
				continue
			}
			if field.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Compare(ja, jb)
}

func decodeSlice(raws []json.RawMessage, out any) error {
	buf, err := json.Marshal(raws)
	if err != nil {
		return fmt.Errorf("assemble result set: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode result set: %w", err)
	}
	return nil
}
