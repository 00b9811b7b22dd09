package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"coderag/internal/rag"
	"coderag/internal/store"
)

var (
	flagK          int
	flagLang       string
	flagPathPrefix string
	flagMinScore   float64
	flagJSON       bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := openEngine(".", false)
		if err != nil {
			return err
		}
		defer deps.Close()

		result, err := deps.engine.Search(cmd.Context(), rag.Request{
			Query:      args[0],
			K:          flagK,
			Language:   flagLang,
			PathPrefix: flagPathPrefix,
			MinScore:   flagMinScore,
		})
		if err != nil {
			return err
		}

		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(searchJSON(args[0], result))
		}
		printHits(result)
		return nil
	},
}

// searchHitJSON is the machine-readable shape of one hit.
type searchHitJSON struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Symbol    string  `json:"symbol,omitempty"`
	Language  string  `json:"language,omitempty"`
	Kind      string  `json:"kind,omitempty"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
}

type searchResultJSON struct {
	Query      string          `json:"query"`
	Hits       []searchHitJSON `json:"hits"`
	TokensUsed int             `json:"tokens_used"`
	ElapsedMS  int64           `json:"elapsed_ms"`
}

func searchJSON(query string, result rag.Result) searchResultJSON {
	out := searchResultJSON{
		Query:      query,
		Hits:       make([]searchHitJSON, 0, len(result.Hits)),
		TokensUsed: result.TokensUsed,
		ElapsedMS:  result.Elapsed.Milliseconds(),
	}
	for _, h := range result.Hits {
		out.Hits = append(out.Hits, searchHitJSON{
			Path:      h.Meta.FilePath,
			StartLine: h.Meta.StartLine,
			EndLine:   h.Meta.EndLine,
			Symbol:    h.Meta.SymbolPath,
			Language:  h.Meta.Language,
			Kind:      h.Meta.Kind,
			Score:     h.Score,
			Text:      h.Meta.Text,
		})
	}
	return out
}

func printHits(result rag.Result) {
	if len(result.Hits) == 0 {
		fmt.Println("No results.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tLOCATION\tSYMBOL")
	for _, h := range result.Hits {
		fmt.Fprintf(w, "%.3f\t%s\t%s\n", h.Score, hitLocation(h), h.Meta.SymbolPath)
	}
	_ = w.Flush()
	fmt.Printf("\n%d hits, ~%d tokens, %s\n",
		len(result.Hits), result.TokensUsed, result.Elapsed.Round(time.Millisecond))
}

// hitLocation renders path:start-end, the form editors and humans both
// can jump to.
func hitLocation(h store.Hit) string {
	return fmt.Sprintf("%s:%d-%d", h.Meta.FilePath, h.Meta.StartLine, h.Meta.EndLine)
}

func init() {
	searchCmd.Flags().IntVar(&flagK, "k", 0, "number of chunks to return (default from config)")
	searchCmd.Flags().StringVar(&flagLang, "lang", "", "restrict hits to one language, e.g. go")
	searchCmd.Flags().StringVar(&flagPathPrefix, "path-prefix", "", "restrict hits to paths under this prefix")
	searchCmd.Flags().Float64Var(&flagMinScore, "min-score", 0, "similarity floor (negative admits everything)")
	searchCmd.Flags().BoolVar(&flagJSON, "json", false, "machine-readable output")
	rootCmd.AddCommand(searchCmd)
}
