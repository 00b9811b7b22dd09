// Package rag retrieves indexed code for a query and assembles answers
// over it.
package rag

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"coderag/internal/config"
	"coderag/internal/embedder"
	cerrors "coderag/internal/errors"
	"coderag/internal/llm"
	"coderag/internal/store"
)

// Request is one retrieval. Zero values fall back to the configured
// defaults; a negative MinScore admits every hit.
type Request struct {
	Query       string
	K           int
	Language    string
	PathPrefix  string
	MinScore    float64
	TokenBudget int
}

// Result is what a retrieval returned after ranking, deduplication and
// budget enforcement.
type Result struct {
	Hits       []store.Hit
	TokensUsed int
	Elapsed    time.Duration
}

// Options wires an Engine.
type Options struct {
	Store    store.Store
	Embedder *embedder.Pipeline
	LLM      llm.Client // only needed for Ask

	// Model is the configured embedding model; IndexedModel is the one
	// recorded in the index manifest, empty when there is no manifest.
	Model        string
	IndexedModel string

	Retrieval config.RetrievalConfig
	Logger    *slog.Logger
}

// Engine answers queries against a populated store.
type Engine struct {
	store        store.Store
	embed        *embedder.Pipeline
	llm          llm.Client
	logger       *slog.Logger
	model        string
	indexedModel string
	defaults     config.RetrievalConfig
}

// NewEngine creates an Engine. The store and embedding pipeline are
// shared with the indexer; the caller owns both.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        opts.Store,
		embed:        opts.Embedder,
		llm:          opts.LLM,
		logger:       logger,
		model:        opts.Model,
		indexedModel: opts.IndexedModel,
		defaults:     opts.Retrieval,
	}
}

// Search embeds the query and returns the best chunks for it. An empty
// result is a valid outcome, not an error.
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return Result{}, cerrors.NewConfigError("rag.search", "query is empty", "pass a non-empty query", nil)
	}
	// Vectors from different models are not comparable; refuse before
	// spending a network call.
	if e.indexedModel != "" && e.indexedModel != e.model {
		return Result{}, cerrors.NewConfigError("rag.search",
			"index was built with embedding model "+e.indexedModel+" but the config selects "+e.model,
			"re-run the index or set embedder.model back to "+e.indexedModel, nil)
	}

	k := req.K
	if k <= 0 {
		k = e.defaults.TopK
	}
	minScore := req.MinScore
	if minScore == 0 {
		minScore = e.defaults.MinScore
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = e.defaults.TokenBudget
	}
	overfetch := e.defaults.Overfetch
	if overfetch <= 0 {
		overfetch = 1
	}

	vector, err := e.embed.EmbedQuery(ctx, req.Query)
	if err != nil {
		return Result{}, err
	}

	hits, err := e.store.Query(ctx, store.Query{
		Vector:     vector,
		TopK:       k * overfetch,
		Language:   req.Language,
		PathPrefix: req.PathPrefix,
	})
	if err != nil {
		return Result{}, cerrors.NewServiceError("rag.search", "vector search failed", cerrors.RetryableText(err), err)
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	hits = rank(kept)
	hits = dedupe(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	hits, used := applyBudget(hits, budget)

	elapsed := time.Since(start)
	recordSearch(len(hits), elapsed)
	e.logger.Debug("rag.search", "hits", len(hits), "tokens", used, "elapsed", elapsed)
	return Result{Hits: hits, TokensUsed: used, Elapsed: elapsed}, nil
}

// rank orders hits by score descending; ties prefer the tighter span,
// then the lexicographically smaller path, then the ID.
func rank(hits []store.Hit) []store.Hit {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aSpan := a.Meta.EndLine - a.Meta.StartLine
		bSpan := b.Meta.EndLine - b.Meta.StartLine
		if aSpan != bSpan {
			return aSpan < bSpan
		}
		if a.Meta.FilePath != b.Meta.FilePath {
			return a.Meta.FilePath < b.Meta.FilePath
		}
		return a.ID < b.ID
	})
	return hits
}

// dedupe drops hits whose line span overlaps an already kept hit in the
// same file. Hits arrive ranked, so the better one survives.
func dedupe(hits []store.Hit) []store.Hit {
	out := hits[:0]
	for _, h := range hits {
		clash := false
		for _, k := range out {
			if overlaps(k.Meta, h.Meta) {
				clash = true
				break
			}
		}
		if !clash {
			out = append(out, h)
		}
	}
	return out
}

func overlaps(a, b store.Metadata) bool {
	return a.FilePath == b.FilePath && a.StartLine <= b.EndLine && b.StartLine <= a.EndLine
}

// applyBudget keeps hits whole while they fit; an oversized chunk is
// skipped, never truncated, and smaller later chunks still get in.
func applyBudget(hits []store.Hit, budget int) ([]store.Hit, int) {
	var out []store.Hit
	used := 0
	for _, h := range hits {
		cost := EstimateTokens(h.Meta.Text)
		if used+cost > budget {
			continue
		}
		out = append(out, h)
		used += cost
	}
	return out, used
}
