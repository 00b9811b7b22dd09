package rag

import (
	"context"
	"fmt"
	"strings"

	cerrors "coderag/internal/errors"
	"coderag/internal/store"
)

// NoContextAnswer is returned verbatim when retrieval finds nothing;
// the model is never called in that case.
const NoContextAnswer = "No relevant context found for the query."

const systemPrompt = `You are a code intelligence assistant. Answer questions about a codebase using only the source code context provided.

Reference specific file paths and line numbers when relevant. If the context does not contain enough information to answer, say so. Answer as concisely as possible.`

// Answer is a generated response plus the chunks that grounded it.
type Answer struct {
	Text      string
	Sources   []store.Hit
	NoContext bool
}

// FoldHistory merges prior conversation turns into the query so both
// retrieval and the model see them. Empty history returns the query
// unchanged.
func FoldHistory(history, query string) string {
	history = strings.TrimSpace(history)
	if history == "" {
		return query
	}
	return "History:\n" + history + "\n\nQuery:\n" + query
}

// BuildPrompt renders retrieved chunks and the question into the user
// prompt. Each chunk carries a provenance header so the model can cite
// files and lines.
func BuildPrompt(hits []store.Hit, question string) string {
	contexts := make([]string, len(hits))
	for i, h := range hits {
		contexts[i] = provenance(h.Meta) + "\n" + h.Meta.Text
	}
	return "<CONTEXT>\n" + strings.Join(contexts, "\n\n-------\n\n") + "\n-------\n</CONTEXT>\n\n" + question
}

func provenance(m store.Metadata) string {
	if m.SymbolPath == "" {
		return fmt.Sprintf("// File: %s | lines %d-%d", m.FilePath, m.StartLine, m.EndLine)
	}
	return fmt.Sprintf("// File: %s | %s | lines %d-%d", m.FilePath, m.SymbolPath, m.StartLine, m.EndLine)
}

// Ask retrieves context for the query and asks the model over it.
// history holds prior turns as prerendered text, or "".
func (e *Engine) Ask(ctx context.Context, req Request, history string) (Answer, error) {
	req.Query = FoldHistory(history, req.Query)

	result, err := e.Search(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	if len(result.Hits) == 0 {
		recordAsk(true)
		return Answer{Text: NoContextAnswer, NoContext: true}, nil
	}

	if e.llm == nil {
		return Answer{}, cerrors.NewConfigError("rag.ask", "no llm client configured", "set the llm section of the config", nil)
	}

	text, err := e.llm.Complete(ctx, systemPrompt, BuildPrompt(result.Hits, req.Query))
	if err != nil {
		return Answer{}, err
	}
	recordAsk(false)
	return Answer{Text: text, Sources: result.Hits}, nil
}
