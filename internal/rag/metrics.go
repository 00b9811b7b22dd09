package rag

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ragMetrics holds Prometheus metrics for the retrieval side. As with
// the index metrics, nothing here serves them; embedders of the package
// can expose the default registry.
type ragMetrics struct {
	once sync.Once

	searches  prometheus.Counter
	asks      prometheus.Counter
	noContext prometheus.Counter

	searchHits    prometheus.Histogram
	searchLatency prometheus.Histogram
}

var metrics ragMetrics

func (m *ragMetrics) init() {
	m.once.Do(func() {
		m.searches = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_search_total", Help: "Retrieval queries served"})
		m.asks = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_ask_total", Help: "Answered questions"})
		m.noContext = prometheus.NewCounter(prometheus.CounterOpts{Name: "coderag_ask_no_context_total", Help: "Questions with no context above threshold"})

		m.searchHits = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coderag_search_hits",
			Help:    "Hits returned per search after filtering",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		})
		m.searchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coderag_search_seconds",
			Help:    "End to end search latency",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(m.searches, m.asks, m.noContext, m.searchHits, m.searchLatency)
	})
}

func recordSearch(hits int, elapsed time.Duration) {
	metrics.init()
	metrics.searches.Inc()
	metrics.searchHits.Observe(float64(hits))
	metrics.searchLatency.Observe(elapsed.Seconds())
}

func recordAsk(noContext bool) {
	metrics.init()
	metrics.asks.Inc()
	if noContext {
		metrics.noContext.Inc()
	}
}
