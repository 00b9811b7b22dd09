package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"runtime"
	"sort"
	"sync"

	"coderag/internal/chunker"
	"coderag/internal/embedder"
	cerrors "coderag/internal/errors"
	"coderag/internal/store"
	"coderag/internal/walker"
)

// ProgressFunc receives running progress. done counts files that left
// the pipeline (indexed, skipped or failed); total grows as the walk
// discovers files.
type ProgressFunc func(done, total int)

// fileWork is a file that needs to be (re-)indexed.
type fileWork struct {
	file walker.File
	hash string
	src  []byte
}

// chunkBatch is the chunks extracted from a single file.
type chunkBatch struct {
	work   fileWork
	chunks []chunker.Chunk
}

// writeBatch has one file's entries ready to reconcile into the store.
type writeBatch struct {
	work    fileWork
	allIDs  []string
	entries []store.Entry
	failed  int
}

// tracker aggregates counters, failures and manifest updates from the
// concurrent stages.
type tracker struct {
	mu       sync.Mutex
	report   *Report
	state    *State
	seen     map[string]bool
	progress ProgressFunc
}

func (t *tracker) notify() {
	if t.progress != nil {
		done := t.report.FilesIndexed + t.report.FilesSkipped + t.report.FilesFailed
		t.progress(done, t.report.FilesSeen)
	}
}

func (t *tracker) saw(rel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[rel] = true
	t.report.FilesSeen++
	t.notify()
}

// prior returns the manifest hash for a file, or "".
func (t *tracker) prior(rel string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fs, ok := t.state.Files[rel]; ok {
		return fs.Hash
	}
	return ""
}

func (t *tracker) skipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.FilesSkipped++
	t.notify()
}

func (t *tracker) walkError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Failures = append(t.report.Failures, Failure{Stage: "walk", Err: err.Error()})
}

func (t *tracker) failed(rel, stage string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.FilesFailed++
	t.report.Failures = append(t.report.Failures, Failure{Path: rel, Stage: stage, Err: err.Error()})
	t.notify()
}

func (t *tracker) fallback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.ParseFallbacks++
}

func (t *tracker) embedFailed(rel string, batches []embedder.BatchFailure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range batches {
		t.report.ChunksFailed += len(b.IDs)
		t.report.Failures = append(t.report.Failures, Failure{Path: rel, Stage: "embed", Err: b.Err.Error()})
	}
}

// indexed marks a file fully written: counters plus the manifest entry
// that lets the next run skip it.
func (t *tracker) indexed(rel, hash string, ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.FilesIndexed++
	t.report.ChunksIndexed += len(ids)
	t.state.Files[rel] = &FileState{Hash: hash, ChunkIDs: ids}
	t.notify()
}

// partial marks a file whose chunks only partly made it. The manifest
// entry is dropped so the next run re-processes the whole file.
func (t *tracker) partial(rel string, written int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.FilesFailed++
	t.report.ChunksIndexed += written
	delete(t.state.Files, rel)
	t.notify()
}

func (t *tracker) deleted(rel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.FilesDeleted++
	delete(t.state.Files, rel)
}

// vanishedFile pairs a manifest entry with its path for the deletion pass.
type vanishedFile struct {
	rel string
	ids []string
}

// vanished returns manifest files that the walk did not see, sorted for
// deterministic deletion order.
func (t *tracker) vanished() []vanishedFile {
	t.mu.Lock()
	defer t.mu.Unlock()
	var gone []vanishedFile
	for rel, fs := range t.state.Files {
		if !t.seen[rel] {
			gone = append(gone, vanishedFile{rel: rel, ids: fs.ChunkIDs})
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].rel < gone[j].rel })
	return gone
}

func (ix *Indexer) runPipeline(ctx context.Context, root string, t *tracker) error {
	workers := ix.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Stage 1: walk.
	files, walkErrs, err := walker.Walk(ctx, root, walker.Options{
		Languages:    ix.languages,
		Ignore:       ix.ignore,
		MaxFileBytes: ix.maxFileBytes,
		Logger:       ix.logger,
	})
	if err != nil {
		return err
	}

	var walkWg sync.WaitGroup
	walkWg.Add(1)
	go func() {
		defer walkWg.Done()
		for err := range walkErrs {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			ix.logger.Warn("index.walk_error", "err", err)
			t.walkError(err)
		}
	}()

	// Stage 2: read + hash + skip unchanged (N workers).
	workCh := make(chan fileWork, workers)
	var readWg sync.WaitGroup
	for i := 0; i < workers; i++ {
		readWg.Add(1)
		go func() {
			defer readWg.Done()
			for f := range files {
				t.saw(f.RelPath)
				src, err := os.ReadFile(f.Path)
				if err != nil {
					t.failed(f.RelPath, "read", cerrors.NewAccessError("index.read", f.Path, err))
					continue
				}
				sum := sha256.Sum256(src)
				hash := hex.EncodeToString(sum[:])
				if t.prior(f.RelPath) == hash {
					t.skipped()
					continue
				}
				select {
				case workCh <- fileWork{file: f, hash: hash, src: src}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		readWg.Wait()
		close(workCh)
	}()

	// Stage 3: chunk (N workers). Unknown languages and unparseable
	// files become fixed-size windows.
	chunkCh := make(chan chunkBatch, workers)
	var chunkWg sync.WaitGroup
	for i := 0; i < workers; i++ {
		chunkWg.Add(1)
		go func() {
			defer chunkWg.Done()
			for w := range workCh {
				var chunks []chunker.Chunk
				if spec, _ := ix.chunker.Registry().Lookup(w.file.RelPath); spec == nil {
					chunks = ix.chunker.FallbackWindows(w.file.RelPath, w.file.Language, w.src)
				} else {
					var err error
					chunks, err = ix.chunker.Chunk(w.file.RelPath, w.src)
					if err != nil {
						if !cerrors.IsParse(err) {
							t.failed(w.file.RelPath, "chunk", err)
							continue
						}
						ix.logger.Warn("index.parse_fallback", "path", w.file.RelPath, "err", err)
						chunks = ix.chunker.FallbackWindows(w.file.RelPath, w.file.Language, w.src)
						t.fallback()
					}
				}
				select {
				case chunkCh <- chunkBatch{work: w, chunks: chunks}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		chunkWg.Wait()
		close(chunkCh)
	}()

	// Stage 4: embed. One consumer; the embedding pipeline parallelizes
	// batches internally.
	writeCh := make(chan writeBatch, 4)
	var embedWg sync.WaitGroup
	embedWg.Add(1)
	go func() {
		defer embedWg.Done()
		defer close(writeCh)
		for b := range chunkCh {
			ids := make([]string, len(b.chunks))
			texts := make([]string, len(b.chunks))
			for i, c := range b.chunks {
				ids[i] = c.ID
				texts[i] = c.Text
			}
			vectors, failures, err := ix.embed.EmbedAll(ctx, ids, texts)
			if err != nil {
				t.failed(b.work.file.RelPath, "embed", err)
				continue
			}
			if len(failures) > 0 {
				t.embedFailed(b.work.file.RelPath, failures)
			}
			entries := make([]store.Entry, 0, len(b.chunks))
			for i, c := range b.chunks {
				if vectors[i] == nil {
					continue
				}
				entries = append(entries, store.Entry{
					ID:     c.ID,
					Vector: vectors[i],
					Meta: store.Metadata{
						FilePath:   c.FilePath,
						SymbolPath: c.SymbolPath,
						Language:   c.Language,
						Kind:       string(c.Kind),
						StartLine:  c.StartLine,
						EndLine:    c.EndLine,
						Text:       c.Text,
					},
				})
			}
			wb := writeBatch{work: b.work, allIDs: ids, entries: entries, failed: len(ids) - len(entries)}
			select {
			case writeCh <- wb:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 5: write. One consumer so a file's stale deletes and
	// upserts never interleave with another file's.
	var writeWg sync.WaitGroup
	writeWg.Add(1)
	go func() {
		defer writeWg.Done()
		for wb := range writeCh {
			rel := wb.work.file.RelPath
			if err := ix.reconcileFile(ctx, chunker.NormalizePath(rel), wb); err != nil {
				t.failed(rel, "store", err)
				continue
			}
			if wb.failed > 0 {
				t.partial(rel, len(wb.entries))
				continue
			}
			t.indexed(rel, wb.work.hash, wb.allIDs)
		}
	}()

	writeWg.Wait()
	embedWg.Wait()
	walkWg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Files in the manifest that the walk never produced were deleted
	// from disk; drop their entries from the store.
	for _, gone := range t.vanished() {
		if err := ix.store.Delete(ctx, gone.ids); err != nil {
			t.failed(gone.rel, "store", err)
			continue
		}
		ix.logger.Debug("index.file_deleted", "path", gone.rel, "chunks", len(gone.ids))
		t.deleted(gone.rel)
	}
	return nil
}

// reconcileFile deletes the file's stale IDs and upserts the new
// entries as one group.
func (ix *Indexer) reconcileFile(ctx context.Context, rel string, wb writeBatch) error {
	oldIDs, err := ix.store.ListByFile(ctx, rel)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(wb.allIDs))
	for _, id := range wb.allIDs {
		keep[id] = true
	}
	var stale []string
	for _, id := range oldIDs {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := ix.store.Delete(ctx, stale); err != nil {
			return err
		}
	}
	if len(wb.entries) > 0 {
		if err := ix.store.Upsert(ctx, wb.entries); err != nil {
			return err
		}
	}
	return nil
}
