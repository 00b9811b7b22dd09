package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteVec {
	t.Helper()
	s, err := OpenSQLiteVec(filepath.Join(t.TempDir(), "index.db"), "ns")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteVecRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Upsert(ctx, []Entry{
		entry("a", "pkg/a.go", "go", 1, []float32{1, 0, 0, 0}),
		entry("b", "pkg/b.go", "go", 1, []float32{0.6, 0.8, 0, 0}),
		entry("c", "pkg/c.go", "go", 1, []float32{0, 1, 0, 0}),
	}))

	hits, err := s.Query(ctx, Query{Vector: []float32{1, 0, 0, 0}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "b", hits[1].ID)
	assert.InDelta(t, 0.6, hits[1].Score, 1e-5)
	assert.Equal(t, "pkg/b.go", hits[1].Meta.FilePath)
	assert.Equal(t, "func b() {}", hits[1].Meta.Text)
}

func TestSQLiteVecUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})}))
	require.NoError(t, s.Upsert(ctx, []Entry{entry("a", "a.go", "go", 10, []float32{0, 1})}))

	hits, err := s.Query(ctx, Query{Vector: []float32{0, 1}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 10, hits[0].Meta.StartLine)
}

func TestSQLiteVecListByFileAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Upsert(ctx, []Entry{
		entry("late", "a.go", "go", 40, []float32{1, 0}),
		entry("early", "a.go", "go", 1, []float32{0, 1}),
		entry("other", "b.go", "go", 1, []float32{1, 0}),
	}))

	ids, err := s.ListByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, ids)

	require.NoError(t, s.Delete(ctx, []string{"early", "missing"}))
	ids, err = s.ListByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, ids)
}

func TestSQLiteVecQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Upsert(ctx, []Entry{
		entry("a", "pkg/a.go", "go", 1, []float32{1, 0}),
		entry("b", "pkg/b.py", "python", 1, []float32{1, 0}),
		entry("c", "other/c.go", "go", 1, []float32{1, 0}),
	}))

	hits, err := s.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10, Language: "python"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	hits, err = s.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 10, PathPrefix: "pkg/"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestSQLiteVecRejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})}))
	err := s.Upsert(ctx, []Entry{entry("b", "b.go", "go", 1, []float32{1, 0, 0})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestSQLiteVecClearResetsDimension(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	require.NoError(t, s.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})}))
	require.NoError(t, s.Clear(ctx))

	// After a clear the store accepts a different dimension, the model
	// change case.
	require.NoError(t, s.Upsert(ctx, []Entry{entry("b", "b.go", "go", 1, []float32{1, 0, 0})}))
	hits, err := s.Query(ctx, Query{Vector: []float32{1, 0, 0}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestSQLiteVecPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	s, err := OpenSQLiteVec(path, "ns")
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, []Entry{entry("a", "a.go", "go", 1, []float32{1, 0})}))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteVec(path, "ns")
	require.NoError(t, err)
	defer s.Close()

	hits, err := s.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)

	names, err := s.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ns"}, names)
}

func TestSQLiteVecEmptyIndexQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	hits, err := s.Query(ctx, Query{Vector: []float32{1, 0}, TopK: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)

	ids, err := s.ListByFile(ctx, "a.go")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
