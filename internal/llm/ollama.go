package llm

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

var _ Client = (*Ollama)(nil)

// OllamaOptions configures the Ollama chat client.
type OllamaOptions struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Ollama calls the Ollama /api/chat endpoint.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a chat client for a local or remote Ollama instance.
func NewOllama(opts OllamaOptions) *Ollama {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		model:   opts.Model,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message message `json:"message"`
}

// Complete sends the conversation and returns the assistant's reply.
func (c *Ollama) Complete(ctx context.Context, system, prompt string) (string, error) {
	var msgs []message
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	msgs = append(msgs, message{Role: "user", Content: prompt})

	body, err := json.Marshal(ollamaChatRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.ollama", "cannot marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.ollama", "cannot build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.ollama", "chat request to "+c.baseURL+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", cerrors.NewUpstreamError("llm.ollama",
			fmt.Sprintf("chat API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", cerrors.NewUpstreamError("llm.ollama", "cannot decode chat response", err)
	}
	return result.Message.Content, nil
}
