package embedder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "coderag/internal/errors"
)

// fakeProvider scripts failures and records every batch it receives.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	failFor func(texts []string, call int) error
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.failFor != nil {
		if err := f.failFor(texts, call); err != nil {
			return nil, err
		}
	}
	return NewMock(8).Embed(ctx, texts)
}

func (f *fakeProvider) Dimensions() int { return 8 }

func (f *fakeProvider) ModelName() string { return "fake" }

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("id-%d", i)
	}
	return out
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func TestEmbedAllPreservesOrder(t *testing.T) {
	f := &fakeProvider{}
	p := NewPipeline(f, PipelineOptions{BatchSize: 4, Concurrency: 3})

	in := texts(25)
	vectors, failures, err := p.EmbedAll(context.Background(), ids(25), in)
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, vectors, 25)

	for i, text := range in {
		want, merr := NewMock(8).Embed(context.Background(), []string{text})
		require.NoError(t, merr)
		Normalize(want[0])
		assert.Equal(t, want[0], vectors[i], "vector %d out of order", i)
	}
}

func TestEmbedAllBatchSizes(t *testing.T) {
	f := &fakeProvider{}
	p := NewPipeline(f, PipelineOptions{BatchSize: 4, Concurrency: 1})

	_, _, err := p.EmbedAll(context.Background(), ids(10), texts(10))
	require.NoError(t, err)

	require.Len(t, f.batches, 3)
	assert.Len(t, f.batches[0], 4)
	assert.Len(t, f.batches[1], 4)
	assert.Len(t, f.batches[2], 2)
}

func TestEmbedAllTruncatesAtRuneBoundary(t *testing.T) {
	f := &fakeProvider{}
	p := NewPipeline(f, PipelineOptions{MaxInputBytes: 6})

	_, _, err := p.EmbedAll(context.Background(), []string{"a"}, []string{"aaaaa€bbbb"})
	require.NoError(t, err)

	require.Len(t, f.batches, 1)
	got := f.batches[0][0]
	assert.Equal(t, "aaaaa", got)
	assert.True(t, utf8.ValidString(got))
}

func TestEmbedAllRetriesRetryableErrors(t *testing.T) {
	f := &fakeProvider{
		failFor: func(_ []string, call int) error {
			if call <= 2 {
				return cerrors.NewServiceError("test", "transient", true, nil)
			}
			return nil
		},
	}
	p := NewPipeline(f, PipelineOptions{BatchSize: 8, MaxRetries: 3})

	vectors, failures, err := p.EmbedAll(context.Background(), ids(3), texts(3))
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, 3, f.calls)
	for _, v := range vectors {
		assert.NotNil(t, v)
	}
}

func TestEmbedAllDoesNotRetryPermanentErrors(t *testing.T) {
	f := &fakeProvider{
		failFor: func(_ []string, _ int) error {
			return cerrors.NewServiceError("test", "bad request", false, nil)
		},
	}
	p := NewPipeline(f, PipelineOptions{BatchSize: 2, MaxRetries: 3, Concurrency: 1})

	vectors, failures, err := p.EmbedAll(context.Background(), ids(3), texts(3))
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls, "one attempt per batch, no retries")

	require.Len(t, failures, 2)
	assert.Equal(t, []string{"id-0", "id-1"}, failures[0].IDs)
	assert.Equal(t, []string{"id-2"}, failures[1].IDs)
	for _, v := range vectors {
		assert.Nil(t, v)
	}
}

func TestEmbedAllPartialFailure(t *testing.T) {
	f := &fakeProvider{
		failFor: func(batch []string, _ int) error {
			for _, s := range batch {
				if s == "bad" {
					return cerrors.NewServiceError("test", "poison batch", false, nil)
				}
			}
			return nil
		},
	}
	p := NewPipeline(f, PipelineOptions{BatchSize: 2, Concurrency: 1})

	in := []string{"good-0", "good-1", "bad", "good-3"}
	vectors, failures, err := p.EmbedAll(context.Background(), ids(4), in)
	require.NoError(t, err)

	require.Len(t, failures, 1)
	assert.Equal(t, []string{"id-2", "id-3"}, failures[0].IDs)
	assert.NotNil(t, vectors[0])
	assert.NotNil(t, vectors[1])
	assert.Nil(t, vectors[2])
	assert.Nil(t, vectors[3])
}

func TestEmbedAllCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(&fakeProvider{}, PipelineOptions{})
	_, _, err := p.EmbedAll(ctx, ids(5), texts(5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedQueryNormalizes(t *testing.T) {
	p := NewPipeline(&fakeProvider{}, PipelineOptions{})

	vec, err := p.EmbedQuery(context.Background(), "how does the walker skip directories")
	require.NoError(t, err)
	require.Len(t, vec, 8)

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0, 0}, zero)

	unit := []float32{1}
	Normalize(unit)
	assert.InDelta(t, 1.0, float64(unit[0]), 1e-6)
	assert.False(t, math.IsNaN(float64(unit[0])))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 0), "non-positive max means no limit")
	assert.Equal(t, "a", Truncate("a€", 3), "never split a rune")
}

func TestMockIsDeterministic(t *testing.T) {
	m := NewMock(0)
	assert.Equal(t, 384, m.Dimensions())

	a1, err := m.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	a2, err := m.Embed(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), []string{"beta"})
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1[0], b[0])
	assert.Len(t, a1[0], 384)
}
