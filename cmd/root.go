// Package cmd implements the coderag command line interface.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coderag/internal/config"
	"coderag/internal/embedder"
	cerrors "coderag/internal/errors"
	"coderag/internal/index"
	"coderag/internal/llm"
	"coderag/internal/rag"
	"coderag/internal/store"
)

var (
	flagConfig    string
	flagStore     string
	flagNamespace string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "coderag",
	Short:         "Code-aware retrieval: index a repository, then search it or ask questions about it",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the CLI. Errors are rendered with their fix hint and the
// process exits with the error's taxonomy code. SIGINT and SIGTERM
// cancel the command context so index runs stop at a clean point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cerrors.Fatal(err, flagJSON)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./coderag.yaml, then ~/.config/coderag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "store backend override: memory, sqlite, qdrant or pinecone")
	rootCmd.PersistentFlags().StringVar(&flagNamespace, "namespace", "", "store namespace (default from config)")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
}

// loadConfig resolves the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if flagStore != "" {
		cfg.Store.Backend = flagStore
	}
	if flagNamespace != "" {
		cfg.Store.Namespace = flagNamespace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore opens the configured backend. The sqlite default database
// lives under the indexed root. mustExist guards the query commands
// against an index that was never built.
func openStore(cfg *config.Config, root string, mustExist bool) (store.Store, error) {
	sc := cfg.Store
	if sc.Backend == "sqlite" && (sc.SQLite == nil || sc.SQLite.Path == "") {
		sc.SQLite = &config.SQLiteConfig{Path: store.DefaultSQLitePath(root)}
	}
	if mustExist && sc.Backend == "sqlite" {
		if _, err := os.Stat(sc.SQLite.Path); os.IsNotExist(err) {
			return nil, cerrors.NewConfigError("store.open",
				"no index found at "+sc.SQLite.Path,
				"run 'coderag index <path>' first to build one", nil)
		}
	}
	return store.New(sc)
}

func pipelineOptions(cfg config.EmbedderConfig, logger *slog.Logger) embedder.PipelineOptions {
	return embedder.PipelineOptions{
		BatchSize:         cfg.BatchSize,
		MaxInputBytes:     cfg.MaxInputBytes,
		Concurrency:       cfg.Concurrency,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	}
}

// queryDeps bundles what the retrieval commands share.
type queryDeps struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	engine *rag.Engine
}

func (d *queryDeps) Close() {
	_ = d.store.Close()
}

// openEngine wires the store, embedding pipeline and (optionally) the
// chat model for the retrieval commands. root anchors the default
// sqlite and manifest paths; the query commands run from the indexed
// tree, so they pass ".".
func openEngine(root string, withLLM bool) (*queryDeps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	st, err := openStore(cfg, root, true)
	if err != nil {
		return nil, err
	}

	provider, err := embedder.NewProvider(cfg.Embedder)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	pipe := embedder.NewPipeline(provider, pipelineOptions(cfg.Embedder, logger))

	var client llm.Client
	if withLLM {
		client, err = llm.New(cfg.LLM)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	// The manifest records which model built the index; the engine
	// refuses to search with a different one.
	indexedModel := ""
	if state, err := index.LoadState(index.StatePath(root, cfg.Index)); err == nil && state != nil {
		indexedModel = state.Model
	}

	engine := rag.NewEngine(rag.Options{
		Store:        st,
		Embedder:     pipe,
		LLM:          client,
		Model:        cfg.Embedder.Model,
		IndexedModel: indexedModel,
		Retrieval:    cfg.Retrieval,
		Logger:       logger,
	})
	return &queryDeps{cfg: cfg, logger: logger, store: st, engine: engine}, nil
}
