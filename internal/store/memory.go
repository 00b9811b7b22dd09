package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is a brute-force in-memory store. It is the default for tests
// and small throwaway indexes; everything is lost on Close.
type Memory struct {
	mu        sync.RWMutex
	namespace string
	entries   map[string]Entry
}

var _ Store = (*Memory)(nil)

func NewMemory(namespace string) *Memory {
	return &Memory{
		namespace: namespace,
		entries:   make(map[string]Entry),
	}
}

func (m *Memory) Upsert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if !q.matches(e.Meta) {
			continue
		}
		hits = append(hits, Hit{Entry: e, Score: dot(e.Vector, q.Vector)})
	}
	// Ties broken by ID so map iteration order never leaks into results.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits, nil
}

func (m *Memory) ListByFile(ctx context.Context, filePath string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type ref struct {
		id        string
		startLine int
	}
	var refs []ref
	for _, e := range m.entries {
		if e.Meta.FilePath == filePath {
			refs = append(refs, ref{e.ID, e.Meta.StartLine})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].startLine != refs[j].startLine {
			return refs[i].startLine < refs[j].startLine
		}
		return refs[i].id < refs[j].id
	})
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.id
	}
	return ids, nil
}

func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry)
	return nil
}

func (m *Memory) Close() error { return nil }

// Namespaces reports the single configured namespace, empty store or not.
func (m *Memory) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []string{m.namespace}, nil
}

// dot computes the inner product with float64 accumulation. Inputs are
// unit vectors, so this is cosine similarity.
func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
