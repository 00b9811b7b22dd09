package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"coderag/internal/rag"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question loop over the indexed repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := openEngine(".", true)
		if err != nil {
			return err
		}
		defer deps.Close()

		var turns []string
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("coderag chat (type /help for commands, /exit to quit)")
		fmt.Println()

		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}

			switch question {
			case "/exit", "/quit":
				fmt.Println("Goodbye.")
				return nil
			case "/clear":
				turns = nil
				fmt.Println("Conversation cleared.")
				continue
			case "/help":
				fmt.Println("Commands:")
				fmt.Println("  /clear  - clear conversation history")
				fmt.Println("  /exit   - quit chat")
				fmt.Println("  /help   - show this help")
				continue
			}

			fmt.Println("[Searching...]")

			answer, err := deps.engine.Ask(cmd.Context(),
				rag.Request{Query: question, K: flagK}, strings.Join(turns, "\n\n"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}

			fmt.Println()
			fmt.Println(renderMarkdown(answer.Text))
			if len(answer.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, h := range answer.Sources {
					fmt.Printf("  %s\n", hitLocation(h))
				}
			}
			fmt.Println()

			// Keep the last 10 turns.
			turns = append(turns, "User: "+question+"\nAssistant: "+answer.Text)
			if len(turns) > 10 {
				turns = turns[len(turns)-10:]
			}
		}

		return scanner.Err()
	},
}

func init() {
	chatCmd.Flags().IntVar(&flagK, "k", 0, "number of chunks to retrieve per question (default from config)")
	rootCmd.AddCommand(chatCmd)
}
