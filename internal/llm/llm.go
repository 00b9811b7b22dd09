// Package llm turns assembled context into answers through a chat
// completion backend.
package llm

import (
	"context"
	"os"
	"time"

	"coderag/internal/config"
	cerrors "coderag/internal/errors"
)

// Client produces one completion for a system instruction and a user
// prompt.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// message is the chat wire shape shared by Ollama and OpenAI-style APIs.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// New selects a chat client from config.
func New(cfg config.LLMConfig) (Client, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Provider {
	case "ollama":
		return NewOllama(OllamaOptions{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		}), nil
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, cerrors.NewConfigError("llm.new",
				"llm api key is not set",
				"export "+cfg.APIKeyEnv+" or point llm.api_key_env at the right variable", nil)
		}
		return NewOpenAI(OpenAIOptions{
			BaseURL: cfg.BaseURL,
			APIKey:  key,
			Model:   cfg.Model,
			Timeout: timeout,
		}), nil
	default:
		return nil, cerrors.NewConfigError("llm.new",
			"unknown llm provider "+cfg.Provider,
			"use ollama or openai", nil)
	}
}
