// Package embedder turns chunk texts into vectors. Providers speak to a
// concrete embedding API; the Pipeline adds batching, truncation, retries,
// rate limiting and normalization on top.
package embedder

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"coderag/internal/config"
	cerrors "coderag/internal/errors"
)

// Provider generates embeddings for batches of texts. Implementations must
// return one vector per input, in input order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// NewProvider builds the provider selected by the config.
func NewProvider(cfg config.EmbedderConfig) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Provider {
	case "mock":
		return NewMock(cfg.Dimensions), nil
	case "ollama":
		return NewOllama(OllamaConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    timeout,
		}), nil
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, cerrors.NewConfigError("embedder.new",
				fmt.Sprintf("environment variable %s is empty", cfg.APIKeyEnv),
				"export the API key or put it in a .env file", nil)
		}
		return NewOpenAI(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     key,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    timeout,
		}), nil
	default:
		return nil, cerrors.NewConfigError("embedder.new",
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider),
			"use one of: mock, ollama, openai", nil)
	}
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
// With every stored and query vector normalized, cosine similarity equals
// dot product everywhere downstream.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
