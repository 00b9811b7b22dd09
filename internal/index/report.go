package index

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Failure records one non-fatal problem from an index run.
type Failure struct {
	Path  string `json:"path"`
	Stage string `json:"stage"` // read, chunk, embed, store, walk, state
	Err   string `json:"error"`
}

// Report is the partial-success surface of an index run: the pipeline
// keeps going past per-file problems and accounts for them here.
type Report struct {
	RunID          string        `json:"run_id"`
	Root           string        `json:"root"`
	Model          string        `json:"model"`
	FilesSeen      int           `json:"files_seen"`
	FilesIndexed   int           `json:"files_indexed"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesFailed    int           `json:"files_failed"`
	FilesDeleted   int           `json:"files_deleted"`
	ChunksIndexed  int           `json:"chunks_indexed"`
	ChunksFailed   int           `json:"chunks_failed"`
	ParseFallbacks int           `json:"parse_fallbacks"`
	Failures       []Failure     `json:"failures,omitempty"`
	Duration       time.Duration `json:"duration"`
}

func newReport(root, model string) *Report {
	return &Report{
		RunID: uuid.NewString(),
		Root:  root,
		Model: model,
	}
}

// HasFailures reports whether anything went wrong during the run.
func (r *Report) HasFailures() bool {
	return r.FilesFailed > 0 || r.ChunksFailed > 0 || len(r.Failures) > 0
}

// Summary renders the run as a single log-friendly line.
func (r *Report) Summary() string {
	return fmt.Sprintf(
		"indexed %d/%d files (%d skipped, %d failed, %d deleted), %d chunks (%d failed, %d fallbacks) in %s",
		r.FilesIndexed, r.FilesSeen, r.FilesSkipped, r.FilesFailed, r.FilesDeleted,
		r.ChunksIndexed, r.ChunksFailed, r.ParseFallbacks,
		r.Duration.Round(time.Millisecond),
	)
}
