// Package store persists chunk embeddings and metadata and answers
// nearest-neighbor queries over them.
//
// Four backends implement the same Store interface: an in-memory store
// (tests and throwaway runs), a local sqlite-vec database (the default),
// and remote Qdrant and Pinecone indexes. All vectors are expected to be
// L2-normalized by the embedding pipeline, so every backend reports
// cosine similarity as the hit score.
package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coderag/internal/config"
	cerrors "coderag/internal/errors"
)

// Metadata is the payload stored alongside each vector.
type Metadata struct {
	FilePath   string `json:"file_path"`
	SymbolPath string `json:"symbol_path,omitempty"`
	Language   string `json:"language"`
	Kind       string `json:"kind"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Text       string `json:"text"`
}

// Entry is one chunk ready for storage: content-derived ID, embedding
// vector, and retrieval metadata.
type Entry struct {
	ID     string
	Vector []float32
	Meta   Metadata
}

// Hit is a stored entry with its similarity score. Scores are cosine
// similarity in [-1, 1]; higher is closer.
type Hit struct {
	Entry
	Score float64
}

// Query describes a nearest-neighbor search. TopK must be positive.
// Filters are exact for Language and prefix for PathPrefix; a filtered
// query may return fewer than TopK hits even when more unfiltered
// neighbors exist, so callers that filter should over-fetch.
type Query struct {
	Vector     []float32
	TopK       int
	Language   string
	PathPrefix string
}

func (q Query) matches(meta Metadata) bool {
	if q.Language != "" && meta.Language != q.Language {
		return false
	}
	if q.PathPrefix != "" && !strings.HasPrefix(meta.FilePath, q.PathPrefix) {
		return false
	}
	return true
}

// Store is a vector index keyed by chunk ID.
type Store interface {
	// Upsert inserts entries, replacing any existing entry with the same ID.
	Upsert(ctx context.Context, entries []Entry) error
	// Delete removes entries by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
	// Query returns up to q.TopK entries nearest to q.Vector.
	Query(ctx context.Context, q Query) ([]Hit, error)
	// ListByFile returns the IDs of all entries whose metadata names filePath.
	ListByFile(ctx context.Context, filePath string) ([]string, error)
	// Clear removes every entry in the configured namespace.
	Clear(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// NamespaceLister is implemented by backends that can enumerate the
// namespaces (or collections) they hold. Callers type-assert.
type NamespaceLister interface {
	Namespaces(ctx context.Context) ([]string, error)
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(cfg.Namespace), nil
	case "sqlite":
		path := ""
		if cfg.SQLite != nil {
			path = cfg.SQLite.Path
		}
		if path == "" {
			path = DefaultSQLitePath(".")
		}
		return OpenSQLiteVec(path, cfg.Namespace)
	case "qdrant":
		if cfg.Qdrant == nil || cfg.Qdrant.URL == "" {
			return nil, cerrors.NewConfigError("store.new",
				"qdrant backend selected but store.qdrant.url is not set",
				"add a store.qdrant block with the server URL", nil)
		}
		return NewQdrant(QdrantOptions{
			URL:        cfg.Qdrant.URL,
			APIKey:     os.Getenv(cfg.Qdrant.APIKeyEnv),
			Collection: cfg.Namespace,
			Timeout:    secs(cfg.Qdrant.TimeoutSecs),
		}), nil
	case "pinecone":
		if cfg.Pinecone == nil || cfg.Pinecone.Host == "" {
			return nil, cerrors.NewConfigError("store.new",
				"pinecone backend selected but store.pinecone.host is not set",
				"add a store.pinecone block with the index host", nil)
		}
		key := os.Getenv(cfg.Pinecone.APIKeyEnv)
		if key == "" {
			return nil, cerrors.NewConfigError("store.new",
				"environment variable "+cfg.Pinecone.APIKeyEnv+" is empty",
				"export the Pinecone API key or put it in a .env file", nil)
		}
		return NewPinecone(PineconeOptions{
			Host:      cfg.Pinecone.Host,
			APIKey:    key,
			Namespace: cfg.Namespace,
			Timeout:   secs(cfg.Pinecone.TimeoutSecs),
		}), nil
	default:
		return nil, cerrors.NewConfigError("store.new",
			"unknown store backend "+cfg.Backend,
			"use one of: memory, sqlite, qdrant, pinecone", nil)
	}
}

// DefaultSQLitePath returns the conventional database location for an
// indexed repository root.
func DefaultSQLitePath(root string) string {
	return filepath.Join(root, ".coderag", "index.db")
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

