package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "coderag/internal/errors"
	"coderag/internal/store"
)

func TestFoldHistory(t *testing.T) {
	assert.Equal(t, "what is X?", FoldHistory("", "what is X?"))
	assert.Equal(t, "what is X?", FoldHistory("   \n", "what is X?"))
	assert.Equal(t,
		"History:\nuser: hi\nassistant: hello\n\nQuery:\nwhat is X?",
		FoldHistory("user: hi\nassistant: hello", "what is X?"))
}

func TestBuildPromptShape(t *testing.T) {
	hits := []store.Hit{
		{Entry: store.Entry{ID: "1", Meta: store.Metadata{
			FilePath: "pkg/a.go", SymbolPath: "Greet", StartLine: 3, EndLine: 5,
			Text: "func Greet() string {\n\treturn \"hi\"\n}",
		}}},
		{Entry: store.Entry{ID: "2", Meta: store.Metadata{
			FilePath: "notes.md", StartLine: 1, EndLine: 2,
			Text: "# Notes\nSome text.",
		}}},
	}

	got := BuildPrompt(hits, "what greets?")
	want := "<CONTEXT>\n" +
		"// File: pkg/a.go | Greet | lines 3-5\n" +
		"func Greet() string {\n\treturn \"hi\"\n}" +
		"\n\n-------\n\n" +
		"// File: notes.md | lines 1-2\n" +
		"# Notes\nSome text." +
		"\n-------\n</CONTEXT>\n\n" +
		"what greets?"
	assert.Equal(t, want, got)
}

func TestAskReturnsAnswerWithSources(t *testing.T) {
	ctx := context.Background()
	client := &fakeLLM{reply: "Greet returns a greeting."}
	e, _ := testEngine(t, []store.Entry{
		scored("a", "a.go", 1, 5, 0.9, "func Greet() {}"),
	}, defaultRetrieval(), client)

	ans, err := e.Ask(ctx, Request{Query: "what does Greet do?"}, "")
	require.NoError(t, err)

	assert.Equal(t, "Greet returns a greeting.", ans.Text)
	assert.False(t, ans.NoContext)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "a", ans.Sources[0].ID)

	assert.Equal(t, 1, client.calls)
	assert.Contains(t, client.system, "code intelligence assistant")
	assert.Contains(t, client.prompt, "<CONTEXT>")
	assert.Contains(t, client.prompt, "func Greet() {}")
	assert.Contains(t, client.prompt, "what does Greet do?")
}

func TestAskNoContextSkipsModel(t *testing.T) {
	ctx := context.Background()
	client := &fakeLLM{reply: "should never be used"}
	e, _ := testEngine(t, []store.Entry{
		scored("a", "a.go", 1, 5, 0.05, "irrelevant"),
	}, defaultRetrieval(), client)

	ans, err := e.Ask(ctx, Request{Query: "anything"}, "")
	require.NoError(t, err)

	assert.Equal(t, NoContextAnswer, ans.Text)
	assert.True(t, ans.NoContext)
	assert.Empty(t, ans.Sources)
	assert.Equal(t, 0, client.calls, "the model is not called without context")
}

func TestAskFoldsHistoryIntoQuery(t *testing.T) {
	ctx := context.Background()
	client := &fakeLLM{reply: "ok"}
	e, _ := testEngine(t, []store.Entry{
		scored("a", "a.go", 1, 5, 0.9, "func A() {}"),
	}, defaultRetrieval(), client)

	_, err := e.Ask(ctx, Request{Query: "and now?"}, "user: earlier question\nassistant: earlier answer")
	require.NoError(t, err)

	assert.Contains(t, client.prompt, "History:\nuser: earlier question\nassistant: earlier answer\n\nQuery:\nand now?")
}

func TestAskPropagatesUpstreamError(t *testing.T) {
	ctx := context.Background()
	client := &fakeLLM{err: cerrors.NewUpstreamError("llm.test", "model overloaded", nil)}
	e, _ := testEngine(t, []store.Entry{
		scored("a", "a.go", 1, 5, 0.9, "func A() {}"),
	}, defaultRetrieval(), client)

	_, err := e.Ask(ctx, Request{Query: "q"}, "")
	require.Error(t, err)
	assert.True(t, cerrors.IsUpstream(err))
}

func TestAskWithoutClient(t *testing.T) {
	e, _ := testEngine(t, []store.Entry{
		scored("a", "a.go", 1, 5, 0.9, "func A() {}"),
	}, defaultRetrieval(), nil)

	_, err := e.Ask(context.Background(), Request{Query: "q"}, "")
	require.Error(t, err)
	assert.True(t, cerrors.IsConfig(err))
}
