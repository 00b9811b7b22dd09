package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"coderag/internal/rag"
	"coderag/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing codebase retrieval tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	deps, err := openEngine(".", true)
	if err != nil {
		return err
	}
	defer deps.Close()

	s := mcpserver.NewMCPServer("coderag", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchCodeTool(), makeSearchHandler(deps.engine))
	s.AddTool(askCodebaseTool(), makeAskHandler(deps.engine))

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Semantically search the indexed codebase. Returns relevant code chunks with file paths, line numbers and similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or keyword query to search the codebase"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default from config)"),
		),
		mcp.WithString("language",
			mcp.Description("Optional language filter, e.g. 'go' or 'python'"),
		),
		mcp.WithString("path_prefix",
			mcp.Description("Optional path prefix filter, e.g. 'internal/store'"),
		),
	)
}

func askCodebaseTool() mcp.Tool {
	return mcp.NewTool("ask_codebase",
		mcp.WithDescription("Ask a natural language question about the indexed codebase. Retrieves relevant code and answers over it, citing files and line numbers."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the codebase"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to retrieve (default from config)"),
		),
	)
}

// --- Handler factories ---

func makeSearchHandler(engine *rag.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		result, err := engine.Search(ctx, rag.Request{
			Query:      query,
			K:          req.GetInt("k", 0),
			Language:   req.GetString("language", ""),
			PathPrefix: req.GetString("path_prefix", ""),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatSearchResults(query, result.Hits)), nil
	}
}

func makeAskHandler(engine *rag.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question := req.GetString("question", "")
		if question == "" {
			return mcp.NewToolResultError("question is required"), nil
		}

		answer, err := engine.Ask(ctx, rag.Request{Query: question, K: req.GetInt("k", 0)}, "")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatAnswer(answer)), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(query string, hits []store.Hit) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", query, len(hits))

	for i, h := range hits {
		fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, h.Meta.FilePath)
		fmt.Fprintf(&sb, "**Kind:** %s  \n**Symbol:** %s  \n**Lines:** %d-%d  \n**Score:** %.3f\n\n",
			h.Meta.Kind, h.Meta.SymbolPath, h.Meta.StartLine, h.Meta.EndLine, h.Score)
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", h.Meta.Language, h.Meta.Text)
	}

	return sb.String()
}

func formatAnswer(a rag.Answer) string {
	if len(a.Sources) == 0 {
		return a.Text
	}

	var sb strings.Builder
	sb.WriteString(a.Text)
	sb.WriteString("\n\n## Sources\n\n")
	for _, h := range a.Sources {
		fmt.Fprintf(&sb, "- %s\n", hitLocation(h))
	}
	return sb.String()
}
