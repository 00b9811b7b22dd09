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

var _ Provider = (*OpenAI)(nil)

var openaiDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// OpenAI calls an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewOpenAI creates a provider for the OpenAI embeddings API or any
// compatible server.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = openaiDimensions[cfg.Model]
	}
	return &OpenAI{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    dims,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *OpenAI) ModelName() string { return e.model }

func (e *OpenAI) Dimensions() int { return e.dims }

type openaiEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed sends a batch of texts and returns their embeddings in input
// order, reassembled from the response index field.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := openaiEmbedRequest{Model: e.model, Input: texts}
	// Only the -3- models accept a dimensions override.
	if strings.Contains(e.model, "embedding-3") && e.dims > 0 {
		reqBody.Dimensions = e.dims
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.openai", "cannot marshal embed request", false, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.openai", "cannot build embed request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.openai",
			"embed request to "+e.baseURL+" failed", cerrors.RetryableText(err), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<24))
	if err != nil {
		return nil, cerrors.NewServiceError("embedder.openai", "cannot read embed response", cerrors.RetryableText(err), err)
	}

	var result openaiEmbedResponse
	if jsonErr := json.Unmarshal(respBody, &result); jsonErr == nil && result.Error != nil {
		return nil, cerrors.NewServiceError("embedder.openai",
			"embedding API error: "+result.Error.Message, cerrors.RetryableStatus(resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, cerrors.NewServiceError("embedder.openai",
			fmt.Sprintf("embedding API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			cerrors.RetryableStatus(resp.StatusCode), nil)
	}
	if len(result.Data) != len(texts) {
		return nil, cerrors.NewServiceError("embedder.openai",
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Data)), false, nil)
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, cerrors.NewServiceError("embedder.openai",
				fmt.Sprintf("embedding index %d out of range", d.Index), false, nil)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
