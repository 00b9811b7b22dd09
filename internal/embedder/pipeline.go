package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	cerrors "coderag/internal/errors"
)

// Backoff schedule for retried batches: exponential with full jitter.
const (
	backoffInitial = 200 * time.Millisecond
	backoffCap     = 2 * time.Second
	backoffMult    = 2.0
)

// BatchFailure records a batch that exhausted its retries. The run
// continues past it; nothing is silently dropped.
type BatchFailure struct {
	IDs []string
	Err error
}

// PipelineOptions tunes the batching pipeline. Zero values take defaults.
type PipelineOptions struct {
	BatchSize         int     // texts per provider call, default 32
	MaxInputBytes     int     // truncation limit per text, default 8000
	Concurrency       int     // batches in flight, default 4
	MaxRetries        int     // attempts per batch, default 3
	RequestsPerSecond float64 // 0 means unlimited
	Logger            *slog.Logger
}

// Pipeline wraps a Provider with batching, end-truncation, retries with
// jittered backoff, rate limiting and L2 normalization. One Pipeline is
// safe for concurrent use.
type Pipeline struct {
	provider Provider
	batch    int
	maxInput int
	workers  int
	retries  int
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewPipeline wraps the provider.
func NewPipeline(provider Provider, opts PipelineOptions) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.MaxInputBytes <= 0 {
		opts.MaxInputBytes = 8000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Pipeline{
		provider: provider,
		batch:    opts.BatchSize,
		maxInput: opts.MaxInputBytes,
		workers:  opts.Concurrency,
		retries:  opts.MaxRetries,
		limiter:  limiter,
		logger:   opts.Logger,
	}
}

// Provider returns the wrapped provider.
func (p *Pipeline) Provider() Provider { return p.provider }

// EmbedAll embeds texts and returns one vector per text, in input order.
// ids runs parallel to texts and names entries in failure reports. Entries
// of batches that exhausted their retries are nil and described in the
// returned failures; a non-nil error means the run itself was cut short.
func (p *Pipeline) EmbedAll(ctx context.Context, ids, texts []string) ([][]float32, []BatchFailure, error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}

	type span struct{ start, end int }
	var batches []span
	for start := 0; start < len(texts); start += p.batch {
		end := start + p.batch
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, span{start, end})
	}

	vectors := make([][]float32, len(texts))
	failed := make([]*BatchFailure, len(batches))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		hardErr error
	)
	sem := make(chan struct{}, p.workers)

	for bi, b := range batches {
		if ctx.Err() != nil {
			mu.Lock()
			hardErr = ctx.Err()
			mu.Unlock()
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(bi int, b span) {
			defer wg.Done()
			defer func() { <-sem }()

			in := make([]string, b.end-b.start)
			for i := range in {
				in[i] = Truncate(texts[b.start+i], p.maxInput)
			}

			vecs, err := p.embedWithRetry(ctx, in)
			if err != nil {
				if ctx.Err() != nil {
					mu.Lock()
					hardErr = ctx.Err()
					mu.Unlock()
					return
				}
				failed[bi] = &BatchFailure{
					IDs: append([]string(nil), ids[b.start:b.end]...),
					Err: err,
				}
				return
			}
			for i, v := range vecs {
				Normalize(v)
				vectors[b.start+i] = v
			}
		}(bi, b)
	}
	wg.Wait()

	if hardErr != nil {
		return nil, nil, hardErr
	}
	var failures []BatchFailure
	for _, f := range failed {
		if f != nil {
			failures = append(failures, *f)
		}
	}
	return vectors, failures, nil
}

// EmbedQuery embeds a single query text with the same truncation, retry
// and normalization rules as indexing, so query and stored vectors live in
// the same space.
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedWithRetry(ctx, []string{Truncate(text, p.maxInput)})
	if err != nil {
		return nil, err
	}
	Normalize(vecs[0])
	return vecs[0], nil
}

func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < p.retries; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vecs, err := p.provider.Embed(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, cerrors.NewServiceError("embedder.pipeline",
					fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), len(texts)), false, nil)
			}
			return vecs, nil
		}

		lastErr = err
		if !(cerrors.IsRetryable(err) || cerrors.RetryableText(err)) || attempt == p.retries-1 {
			return nil, err
		}
		delay := backoffWithJitter(attempt)
		p.logger.Warn("embed.retry", "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// Truncate cuts s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func backoffWithJitter(attempt int) time.Duration {
	exp := float64(backoffInitial)
	for i := 0; i < attempt; i++ {
		exp *= backoffMult
	}
	d := time.Duration(exp)
	if d > backoffCap {
		d = backoffCap
	}
	if d <= 0 {
		return backoffInitial
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
