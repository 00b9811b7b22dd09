package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Qdrant is a minimal REST client to a Qdrant server. The configured
// namespace maps onto a collection, created on first write with cosine
// distance and the dimension of the incoming vectors.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client

	mu    sync.Mutex
	ready bool
}

var _ Store = (*Qdrant)(nil)

type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewQdrant(opts QdrantOptions) *Qdrant {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collection := opts.Collection
	if collection == "" {
		collection = "default"
	}
	return &Qdrant{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// qdrantPayload carries the chunk metadata on each point. The original
// chunk ID travels in the payload because point IDs must be UUIDs.
type qdrantPayload struct {
	ChunkID string `json:"chunk_id"`
	Metadata
}

// pointID maps a chunk ID onto a deterministic UUID, since Qdrant only
// accepts integer or UUID point identifiers.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (s *Qdrant) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensure(ctx, len(entries[0].Vector)); err != nil {
		return err
	}
	type point struct {
		ID      string        `json:"id"`
		Vector  []float32     `json:"vector"`
		Payload qdrantPayload `json:"payload"`
	}
	points := make([]point, len(entries))
	for i, e := range entries {
		points[i] = point{
			ID:      pointID(e.ID),
			Vector:  e.Vector,
			Payload: qdrantPayload{ChunkID: e.ID, Metadata: e.Meta},
		}
	}
	body := map[string]any{"points": points}
	return s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", body, nil)
}

func (s *Qdrant) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]string, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	body := map[string]any{"points": pids}
	err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", body, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (s *Qdrant) Query(ctx context.Context, q Query) ([]Hit, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	// Creating the collection on first read is harmless and saves a
	// special case for querying before anything was indexed.
	if err := s.ensure(ctx, len(q.Vector)); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       q.Vector,
		"limit":        q.TopK,
		"with_payload": true,
	}
	if q.Language != "" {
		req["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "language", "match": map[string]any{"value": q.Language}},
			},
		}
	}
	var resp struct {
		Result []struct {
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		if !q.matches(r.Payload.Metadata) {
			continue
		}
		hits = append(hits, Hit{
			Entry: Entry{ID: r.Payload.ChunkID, Meta: r.Payload.Metadata},
			Score: r.Score,
		})
	}
	return hits, nil
}

func (s *Qdrant) ListByFile(ctx context.Context, filePath string) ([]string, error) {
	type ref struct {
		id        string
		startLine int
	}
	var refs []ref
	var offset json.RawMessage
	for {
		req := map[string]any{
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "file_path", "match": map[string]any{"value": filePath}},
				},
			},
			"limit":        256,
			"with_payload": true,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload qdrantPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset json.RawMessage `json:"next_page_offset"`
			} `json:"result"`
		}
		err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/scroll", req, &resp)
		if isNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			refs = append(refs, ref{p.Payload.ChunkID, p.Payload.StartLine})
		}
		next := resp.Result.NextPageOffset
		if len(next) == 0 || string(next) == "null" {
			break
		}
		offset = next
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

func (s *Qdrant) Clear(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, "/collections/"+s.collection, nil, nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	return nil
}

func (s *Qdrant) Close() error { return nil }

// Namespaces lists the server's collections.
func (s *Qdrant) Namespaces(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Qdrant) ensure(ctx context.Context, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	err := s.do(ctx, http.MethodGet, "/collections/"+s.collection, nil, nil)
	if err == nil {
		s.ready = true
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	if dims <= 0 {
		return fmt.Errorf("invalid vector dimension %d", dims)
	}
	body := map[string]any{
		"vectors": map[string]any{"size": dims, "distance": "Cosine"},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body, nil); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &httpError{
			status: resp.StatusCode,
			msg:    fmt.Sprintf("qdrant %s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b))),
		}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// httpError preserves the status code of a failed backend request so
// callers can tolerate expected statuses like 404.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func isNotFound(err error) bool {
	var he *httpError
	return errors.As(err, &he) && he.status == http.StatusNotFound
}
