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

var _ Client = (*OpenAI)(nil)

// OpenAIOptions configures the OpenAI-compatible chat client.
type OpenAIOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAI calls an OpenAI-compatible /chat/completions endpoint. Any
// server speaking the same dialect (Groq, Together, vLLM) works through
// the base URL.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAI creates a chat client for the OpenAI API or a compatible
// server.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &OpenAI{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

type openaiChatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the conversation and returns the first choice.
func (c *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	var msgs []message
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	msgs = append(msgs, message{Role: "user", Content: prompt})

	body, err := json.Marshal(openaiChatRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.openai", "cannot marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.openai", "cannot build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.openai", "chat request to "+c.baseURL+" failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<24))
	if err != nil {
		return "", cerrors.NewUpstreamError("llm.openai", "cannot read chat response", err)
	}

	var result openaiChatResponse
	if jsonErr := json.Unmarshal(respBody, &result); jsonErr == nil && result.Error != nil {
		return "", cerrors.NewUpstreamError("llm.openai", "chat API error: "+result.Error.Message, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", cerrors.NewUpstreamError("llm.openai",
			fmt.Sprintf("chat API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}
	if len(result.Choices) == 0 {
		return "", cerrors.NewUpstreamError("llm.openai", "chat API returned no choices", nil)
	}
	return result.Choices[0].Message.Content, nil
}
