package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/config"
	cerrors "coderag/internal/errors"
)

func entry(id, filePath, language string, startLine int, vec []float32) Entry {
	return Entry{
		ID:     id,
		Vector: vec,
		Meta: Metadata{
			FilePath:  filePath,
			Language:  language,
			Kind:      "function",
			StartLine: startLine,
			EndLine:   startLine + 5,
			Text:      "func " + id + "() {}",
		},
	}
}

func TestMemoryQueryRanksByDot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")

	require.NoError(t, m.Upsert(ctx, []Entry{
		entry("a", "a.go", "go", 1, []float32{1, 0}),
		entry("b", "b.go", "go", 1, []float32{0.6, 0.8}),
		entry("c", "c.go", "go", 1, []float32{0, 1}),
	}))

	hits, err := m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "b", hits[1].ID)
	assert.InDelta(t, 0.6, hits[1].Score, 1e-6)
}

func TestMemoryQueryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")

	require.NoError(t, m.Upsert(ctx, []Entry{
		entry("a", "pkg/a.go", "go", 1, []float32{1, 0}),
		entry("b", "pkg/b.py", "python", 1, []float32{1, 0}),
		entry("c", "other/c.go", "go", 1, []float32{1, 0}),
	}))

	hits, err := m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10, Language: "go"})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	hits, err = m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10, PathPrefix: "pkg/"})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	hits, err = m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10, Language: "go", PathPrefix: "pkg/"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestMemoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")

	require.NoError(t, m.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})}))
	require.NoError(t, m.Upsert(ctx, []Entry{entry("a", "a.go", "go", 10, []float32{0, 1})}))

	hits, err := m.Query(ctx, Query{Vector: []float32{0, 1}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 10, hits[0].Meta.StartLine)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestMemoryListByFileOrdersByStartLine(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")

	require.NoError(t, m.Upsert(ctx, []Entry{
		entry("late", "a.go", "go", 40, []float32{1, 0}),
		entry("early", "a.go", "go", 1, []float32{1, 0}),
		entry("other", "b.go", "go", 1, []float32{1, 0}),
	}))

	ids, err := m.ListByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, ids)

	ids, err = m.ListByFile(ctx, "missing.go")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")

	require.NoError(t, m.Upsert(ctx, []Entry{
		entry("a", "a.go", "go", 1, []float32{1, 0}),
		entry("b", "b.go", "go", 1, []float32{0, 1}),
	}))

	require.NoError(t, m.Delete(ctx, []string{"a", "unknown"}))
	hits, err := m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	require.NoError(t, m.Clear(ctx))
	hits, err = m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryQueryDeterministicTieBreak(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")

	require.NoError(t, m.Upsert(ctx, []Entry{
		entry("z", "z.go", "go", 1, []float32{1, 0}),
		entry("a", "a.go", "go", 1, []float32{1, 0}),
		entry("m", "m.go", "go", 1, []float32{1, 0}),
	}))

	for i := 0; i < 5; i++ {
		hits, err := m.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 3})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "a", hits[0].ID)
		assert.Equal(t, "m", hits[1].ID)
		assert.Equal(t, "z", hits[2].ID)
	}
}

func TestMemoryNonPositiveTopK(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("test")
	require.NoError(t, m.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})}))

	hits, err := m.Query(ctx, Query{Vector: []float32{1, 0}})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory("test")

	err := m.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.StoreConfig{Backend: "memory", Namespace: "ns"})
	require.NoError(t, err)
	_, ok := s.(*Memory)
	assert.True(t, ok)

	_, err = New(config.StoreConfig{Backend: "cassandra"})
	assert.True(t, cerrors.IsConfig(err))

	_, err = New(config.StoreConfig{Backend: "qdrant"})
	assert.True(t, cerrors.IsConfig(err))

	_, err = New(config.StoreConfig{Backend: "pinecone", Pinecone: &config.PineconeConfig{Host: "h", APIKeyEnv: "CODERAG_TEST_PINECONE_KEY"}})
	assert.True(t, cerrors.IsConfig(err))

	t.Setenv("CODERAG_TEST_PINECONE_KEY", "pk-test")
	s, err = New(config.StoreConfig{Backend: "pinecone", Pinecone: &config.PineconeConfig{Host: "h", APIKeyEnv: "CODERAG_TEST_PINECONE_KEY"}})
	require.NoError(t, err)
	_, ok = s.(*Pinecone)
	assert.True(t, ok)
}
