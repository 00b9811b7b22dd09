package index

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// indexMetrics holds Prometheus metrics for the index pipeline. Nothing
// exposes them over HTTP here; embedding applications can serve the
// default registry if they want scraping.
type indexMetrics struct {
	once sync.Once

	filesIndexed   prometheus.Counter
	filesSkipped   prometheus.Counter
	filesFailed    prometheus.Counter
	filesDeleted   prometheus.Counter
	chunksIndexed  prometheus.Counter
	chunksFailed   prometheus.Counter
	parseFallbacks prometheus.Counter

	runDuration prometheus.Histogram
}

var metrics indexMetrics

func (m *indexMetrics) init() {
	m.once.Do(func() {
		m.filesIndexed = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_files_indexed_total", Help: "Files written to the store"})
		m.filesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_files_skipped_total", Help: "Files skipped as unchanged"})
		m.filesFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_files_failed_total", Help: "Files that failed a pipeline stage"})
		m.filesDeleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_files_deleted_total", Help: "Files removed from the store after vanishing from disk"})
		m.chunksIndexed = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_chunks_indexed_total", Help: "Chunks embedded and upserted"})
		m.chunksFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_chunks_failed_total", Help: "Chunks whose embedding batch exhausted retries"})
		m.parseFallbacks = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_index_parse_fallbacks_total", Help: "Files windowed after a parse failure"})

		m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coderag_index_run_seconds",
			Help:    "Duration of full index runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		})

		prometheus.MustRegister(
			m.filesIndexed, m.filesSkipped, m.filesFailed, m.filesDeleted,
			m.chunksIndexed, m.chunksFailed, m.parseFallbacks,
			m.runDuration,
		)
	})
}

func recordRun(r *Report) {
	metrics.init()
	metrics.filesIndexed.Add(float64(r.FilesIndexed))
	metrics.filesSkipped.Add(float64(r.FilesSkipped))
	metrics.filesFailed.Add(float64(r.FilesFailed))
	metrics.filesDeleted.Add(float64(r.FilesDeleted))
	metrics.chunksIndexed.Add(float64(r.ChunksIndexed))
	metrics.chunksFailed.Add(float64(r.ChunksFailed))
	metrics.parseFallbacks.Add(float64(r.ParseFallbacks))
	metrics.runDuration.Observe(r.Duration.Seconds())
}
