package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// pineconeUpsertBatch is the service's per-request vector limit.
const pineconeUpsertBatch = 100

// Pinecone talks to a pre-created serverless index through its data
// plane host. The index must use cosine metric; the configured
// namespace scopes all operations, one namespace per indexed
// repository.
type Pinecone struct {
	host      string
	apiKey    string
	namespace string
	client    *http.Client

	mu   sync.Mutex
	dims int
}

var _ Store = (*Pinecone)(nil)

type PineconeOptions struct {
	// Host is the index host URL, from the Pinecone console or
	// describe_index on the control plane.
	Host      string
	APIKey    string
	Namespace string
	Timeout   time.Duration
}

func NewPinecone(opts PineconeOptions) *Pinecone {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	host := opts.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return &Pinecone{
		host:      strings.TrimRight(host, "/"),
		apiKey:    opts.APIKey,
		namespace: opts.Namespace,
		client:    &http.Client{Timeout: timeout},
	}
}

type pineconeVector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

func (s *Pinecone) Upsert(ctx context.Context, entries []Entry) error {
	for start := 0; start < len(entries); start += pineconeUpsertBatch {
		end := start + pineconeUpsertBatch
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		vectors := make([]pineconeVector, len(batch))
		for i, e := range batch {
			vectors[i] = pineconeVector{ID: e.ID, Values: e.Vector, Metadata: e.Meta}
		}
		body := map[string]any{"vectors": vectors, "namespace": s.namespace}
		if err := s.do(ctx, "/vectors/upsert", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Pinecone) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"ids": ids, "namespace": s.namespace}
	return s.do(ctx, "/vectors/delete", body, nil)
}

func (s *Pinecone) Query(ctx context.Context, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":          q.Vector,
		"topK":            q.TopK,
		"namespace":       s.namespace,
		"includeMetadata": true,
	}
	if q.Language != "" {
		req["filter"] = map[string]any{"language": map[string]any{"$eq": q.Language}}
	}
	var resp struct {
		Matches []struct {
			ID       string   `json:"id"`
			Score    float64  `json:"score"`
			Metadata Metadata `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.do(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if !q.matches(m.Metadata) {
			continue
		}
		hits = append(hits, Hit{
			Entry: Entry{ID: m.ID, Meta: m.Metadata},
			Score: m.Score,
		})
	}
	return hits, nil
}

// ListByFile runs a metadata-filtered query with a probe vector, since
// the data plane has no list-by-filter endpoint. The 1000-match query
// ceiling bounds how many chunks per file it can see, which is far
// beyond what the chunker produces for one file.
func (s *Pinecone) ListByFile(ctx context.Context, filePath string) ([]string, error) {
	dims, err := s.dimensions(ctx)
	if err != nil {
		return nil, err
	}
	probe := make([]float32, dims)
	probe[0] = 1
	req := map[string]any{
		"vector":          probe,
		"topK":            1000,
		"namespace":       s.namespace,
		"includeMetadata": true,
		"filter":          map[string]any{"file_path": map[string]any{"$eq": filePath}},
	}
	var resp struct {
		Matches []struct {
			ID       string   `json:"id"`
			Metadata Metadata `json:"metadata"`
		} `json:"matches"`
	}
	if err := s.do(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	type ref struct {
		id        string
		startLine int
	}
	refs := make([]ref, len(resp.Matches))
	for i, m := range resp.Matches {
		refs[i] = ref{m.ID, m.Metadata.StartLine}
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

func (s *Pinecone) Clear(ctx context.Context) error {
	body := map[string]any{"deleteAll": true, "namespace": s.namespace}
	err := s.do(ctx, "/vectors/delete", body, nil)
	if isNotFound(err) {
		// Deleting a namespace that never existed is a no-op.
		return nil
	}
	return err
}

func (s *Pinecone) Close() error { return nil }

// Namespaces lists the namespaces the index reports in its stats.
func (s *Pinecone) Namespaces(ctx context.Context) ([]string, error) {
	stats, err := s.describeStats(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(stats.Namespaces))
	for name := range stats.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type pineconeStats struct {
	Dimension  int                        `json:"dimension"`
	Namespaces map[string]json.RawMessage `json:"namespaces"`
}

func (s *Pinecone) describeStats(ctx context.Context) (*pineconeStats, error) {
	var stats pineconeStats
	if err := s.do(ctx, "/describe_index_stats", map[string]any{}, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Pinecone) dimensions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims > 0 {
		return s.dims, nil
	}
	stats, err := s.describeStats(ctx)
	if err != nil {
		return 0, err
	}
	if stats.Dimension <= 0 {
		return 0, fmt.Errorf("pinecone index reports dimension %d", stats.Dimension)
	}
	s.dims = stats.Dimension
	return s.dims, nil
}

func (s *Pinecone) do(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{
			status: resp.StatusCode,
			msg:    fmt.Sprintf("pinecone %s: %s: %s", path, resp.Status, strings.TrimSpace(string(b))),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
