package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportSummary(t *testing.T) {
	r := &Report{
		FilesSeen:      10,
		FilesIndexed:   6,
		FilesSkipped:   3,
		FilesFailed:    1,
		FilesDeleted:   2,
		ChunksIndexed:  40,
		ChunksFailed:   2,
		ParseFallbacks: 1,
		Duration:       1520 * time.Millisecond,
	}
	assert.Equal(t,
		"indexed 6/10 files (3 skipped, 1 failed, 2 deleted), 40 chunks (2 failed, 1 fallbacks) in 1.52s",
		r.Summary())
}

func TestReportHasFailures(t *testing.T) {
	assert.False(t, (&Report{FilesIndexed: 3}).HasFailures())
	assert.True(t, (&Report{FilesFailed: 1}).HasFailures())
	assert.True(t, (&Report{ChunksFailed: 1}).HasFailures())
	assert.True(t, (&Report{Failures: []Failure{{Stage: "walk"}}}).HasFailures())
}
