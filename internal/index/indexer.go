// Package index drives the walk -> chunk -> embed -> write pipeline and
// keeps the on-disk manifest that makes re-runs incremental.
package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"coderag/internal/chunker"
	"coderag/internal/chunker/languages"
	"coderag/internal/config"
	"coderag/internal/embedder"
	cerrors "coderag/internal/errors"
	"coderag/internal/store"
	"coderag/internal/walker"
)

// Indexer runs index passes over a repository into a store.
type Indexer struct {
	store   store.Store
	embed   *embedder.Pipeline
	chunker *chunker.Chunker
	logger  *slog.Logger

	languages    map[string]string
	ignore       []string
	maxFileBytes int64
	workers      int
	statePath    string
	model        string
}

// New wires an Indexer from config. The store and embedding pipeline
// are shared with the retrieval side, so the caller owns both.
func New(cfg *config.Config, s store.Store, embed *embedder.Pipeline, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	reg := chunker.NewRegistry()
	languages.RegisterAll(reg)
	ch := chunker.New(reg, chunker.Options{
		MinChunkBytes: cfg.Chunker.MinChunkBytes,
		MaxChunkBytes: cfg.Chunker.MaxChunkBytes,
		Logger:        logger,
	})

	langs := reg.Languages()
	for _, ext := range walker.TextExtensions {
		if _, ok := langs[ext]; !ok {
			langs[ext] = "text"
		}
	}
	if len(cfg.Walker.Extensions) > 0 {
		allowed := make(map[string]bool, len(cfg.Walker.Extensions))
		for _, e := range cfg.Walker.Extensions {
			allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = true
		}
		for ext := range langs {
			if !allowed[ext] {
				delete(langs, ext)
			}
		}
		// Allow-listed extensions nobody claims are still indexed, as
		// windowed text tagged unknown.
		for ext := range allowed {
			if _, ok := langs[ext]; !ok {
				langs[ext] = "unknown"
			}
		}
	}

	return &Indexer{
		store:        s,
		embed:        embed,
		chunker:      ch,
		logger:       logger,
		languages:    langs,
		ignore:       cfg.Walker.Ignore,
		maxFileBytes: cfg.Walker.MaxFileBytes,
		workers:      cfg.Index.Workers,
		statePath:    cfg.Index.StatePath,
		model:        cfg.Embedder.Model,
	}
}

// StatePath resolves the manifest location for a repository root.
func StatePath(root string, cfg config.IndexConfig) string {
	if cfg.StatePath != "" {
		return cfg.StatePath
	}
	return filepath.Join(root, ".coderag", "state.json")
}

// Index runs one full pass over the tree at root. The returned report
// is non-nil whenever the pipeline ran, including partially failed and
// cancelled runs.
func (ix *Indexer) Index(ctx context.Context, root string, progress ProgressFunc) (*Report, error) {
	statePath := ix.statePath
	if statePath == "" {
		statePath = filepath.Join(root, ".coderag", "state.json")
	}

	st, err := LoadState(statePath)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = NewState(ix.model)
	}
	if st.Model != "" && st.Model != ix.model {
		// Vectors from different models are not comparable; wipe and
		// start over.
		ix.logger.Info("index.model_changed", "from", st.Model, "to", ix.model)
		if err := ix.store.Clear(ctx); err != nil {
			return nil, err
		}
		st = NewState(ix.model)
	}
	st.Model = ix.model
	if dims := ix.embed.Provider().Dimensions(); dims > 0 {
		st.Dimensions = dims
	}

	report := newReport(root, ix.model)
	t := &tracker{
		report:   report,
		state:    st,
		seen:     make(map[string]bool),
		progress: progress,
	}

	start := time.Now()
	pipeErr := ix.runPipeline(ctx, root, t)
	report.Duration = time.Since(start)

	if pipeErr != nil && cerrors.IsConfig(pipeErr) {
		// The walk never started; nothing to persist.
		return nil, pipeErr
	}

	recordRun(report)
	if err := SaveState(statePath, st); err != nil {
		// Not fatal, but the next run will re-process everything.
		ix.logger.Warn("index.state_save_failed", "path", statePath, "err", err)
		report.Failures = append(report.Failures, Failure{Path: statePath, Stage: "state", Err: err.Error()})
	}
	if pipeErr != nil {
		return report, pipeErr
	}
	ix.logger.Info("index.complete", "run_id", report.RunID, "summary", report.Summary())
	return report, nil
}
