package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cerrors "coderag/internal/errors"
)

var _ Provider = (*Ollama)(nil)

// Known dimensions for common Ollama embedding models. Config can override;
// unknown models report 0 and the store sizes itself from the first vector.
var ollamaDimensions = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// Ollama calls the Ollama batch embedding endpoint.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllama creates a provider targeting the given Ollama instance.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = ollamaDimensions[baseModelName(cfg.Model)]
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		dims:    dims,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *Ollama) ModelName() string { return e.model }

func (e *Ollama) Dimensions() int { return e.dims }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends a batch of texts to Ollama and returns their embeddings in
// input order.
func (e *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.ollama", "cannot marshal embed request", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.ollama", "cannot build embed request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.ollama",
			"embed request to "+e.baseURL+" failed", cerrors.RetryableText(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, cerrors.NewServiceError("embedder.ollama",
			fmt.Sprintf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			cerrors.RetryableStatus(resp.StatusCode), nil)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, cerrors.NewServiceError("embedder.ollama", "cannot decode embed response", false, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, cerrors.NewServiceError("embedder.ollama",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)), false, nil)
	}
	return result.Embeddings, nil
}

// baseModelName strips an Ollama tag suffix: nomic-embed-text:latest ->
// nomic-embed-text.
func baseModelName(model string) string {
	if i := strings.IndexByte(model, ':'); i >= 0 {
		return model[:i]
	}
	return model
}
