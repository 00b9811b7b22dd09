package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	cerrors "coderag/internal/errors"
	"coderag/internal/store"
)

var namespacesCmd = &cobra.Command{
	Use:   "namespaces",
	Short: "List the namespaces in the store backend",
	Long: `Namespaces lists every namespace (or collection) the configured
backend holds. The one selected by the config is marked with *.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg, ".", true)
		if err != nil {
			return err
		}
		defer st.Close()

		lister, ok := st.(store.NamespaceLister)
		if !ok {
			return cerrors.NewConfigError("namespaces",
				"the "+cfg.Store.Backend+" backend cannot enumerate namespaces",
				"pick a namespace explicitly with --namespace", nil)
		}
		names, err := lister.Namespaces(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No namespaces.")
			return nil
		}
		for _, n := range names {
			if n == cfg.Store.Namespace {
				fmt.Println("* " + n)
				continue
			}
			fmt.Println("  " + n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(namespacesCmd)
}
