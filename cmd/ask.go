package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	cerrors "coderag/internal/errors"
	"coderag/internal/rag"
)

var flagHistory string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the indexed repository",
	Long: `Ask retrieves the chunks most relevant to the question and has the
configured chat model answer over them. The answer cites files and
line numbers from the retrieved context only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history := ""
		if flagHistory != "" {
			data, err := os.ReadFile(flagHistory)
			if err != nil {
				return cerrors.NewAccessError("ask.history", flagHistory, err)
			}
			history = string(data)
		}

		deps, err := openEngine(".", true)
		if err != nil {
			return err
		}
		defer deps.Close()

		answer, err := deps.engine.Ask(cmd.Context(), rag.Request{Query: args[0], K: flagK}, history)
		if err != nil {
			return err
		}

		fmt.Println(renderMarkdown(answer.Text))
		if len(answer.Sources) > 0 {
			fmt.Println("\nSources:")
			for _, h := range answer.Sources {
				fmt.Printf("  %s\n", hitLocation(h))
			}
		}
		return nil
	},
}

// renderMarkdown pretty-prints for a terminal and passes text through
// untouched when piped.
func renderMarkdown(text string) string {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return text
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func init() {
	askCmd.Flags().IntVar(&flagK, "k", 0, "number of chunks to retrieve (default from config)")
	askCmd.Flags().StringVar(&flagHistory, "history", "", "file with prior conversation turns, folded into the query")
	rootCmd.AddCommand(askCmd)
}
