package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderag/internal/config"
	cerrors "coderag/internal/errors"
)

func TestOllamaComplete(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: message{Role: "assistant", Content: "the answer"},
		})
	}))
	defer srv.Close()

	c := NewOllama(OllamaOptions{BaseURL: srv.URL, Model: "qwen3:8b"})
	out, err := c.Complete(context.Background(), "be brief", "what is this?")
	require.NoError(t, err)

	assert.Equal(t, "the answer", out)
	assert.Equal(t, "qwen3:8b", gotReq.Model)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestOllamaEmptySystemIsOmitted(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: message{Content: "ok"}})
	}))
	defer srv.Close()

	c := NewOllama(OllamaOptions{BaseURL: srv.URL, Model: "m"})
	_, err := c.Complete(context.Background(), "", "question")
	require.NoError(t, err)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestOllamaServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllama(OllamaOptions{BaseURL: srv.URL, Model: "m"})
	_, err := c.Complete(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, cerrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAIComplete(t *testing.T) {
	var gotAuth string
	var gotReq openaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello from llm"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	out, err := c.Complete(context.Background(), "system text", "user text")
	require.NoError(t, err)

	assert.Equal(t, "hello from llm", out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
}

func TestOpenAIErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "sk-bad", Model: "m"})
	_, err := c.Complete(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, cerrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIOptions{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := c.Complete(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, cerrors.IsUpstream(err))
}

func TestNewSelectsProvider(t *testing.T) {
	c, err := New(config.LLMConfig{Provider: "ollama", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, c)

	t.Setenv("CODERAG_TEST_LLM_KEY", "sk-test")
	c, err = New(config.LLMConfig{Provider: "openai", Model: "m", APIKeyEnv: "CODERAG_TEST_LLM_KEY"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, c)

	_, err = New(config.LLMConfig{Provider: "openai", Model: "m", APIKeyEnv: "CODERAG_TEST_LLM_MISSING"})
	require.Error(t, err)
	assert.True(t, cerrors.IsConfig(err))

	_, err = New(config.LLMConfig{Provider: "anthropic"})
	require.Error(t, err)
	assert.True(t, cerrors.IsConfig(err))
}
