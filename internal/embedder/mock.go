package embedder

import (
	"context"
	"hash/fnv"
)

var _ Provider = (*Mock)(nil)

// Mock generates deterministic pseudo-embeddings from a text hash. Not
// semantically meaningful; used in tests and dry runs.
type Mock struct {
	dims int
}

// NewMock creates a mock provider. Non-positive dims defaults to 384.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = 384
	}
	return &Mock{dims: dims}
}

func (m *Mock) ModelName() string { return "mock" }

func (m *Mock) Dimensions() int { return m.dims }

func (m *Mock) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()

		vec := make([]float32, m.dims)
		for j := 0; j < m.dims; j++ {
			v := float32((seed+uint64(j)*7919)%10000) / 10000.0
			vec[j] = v*2 - 1
		}
		out[i] = vec
	}
	return out, nil
}
