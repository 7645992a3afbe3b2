// Package metrics exposes pipeline instrumentation to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/model"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	StageDuration  *prometheus.HistogramVec
	Fallbacks      *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	BatchSize      prometheus.Histogram
	BatchErrors    prometheus.Counter
	PromptTokens   prometheus.Histogram
	Processed      prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contextai_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contextai_fallback_total",
			Help: "Fallback insights by reason",
		}, []string{"reason"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "contextai_retrieval_source_failures_total",
			Help: "Retrieval source failures by source",
		}, []string{"source"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contextai_embedding_batch_size",
			Help:    "Texts per embedding batch",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}),
		BatchErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "contextai_embedding_batch_errors_total",
			Help: "Failed embedding batches",
		}),
		PromptTokens: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "contextai_prompt_tokens",
			Help:    "Tokens per insight prompt",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8),
		}),
		Processed: f.NewCounter(prometheus.CounterOpts{
			Name: "contextai_messages_processed_total",
			Help: "Messages run through the pipeline",
		}),
	}
}

// RegisterCacheGauges exports per-tier cache size, hits and misses.
func RegisterCacheGauges(reg prometheus.Registerer, tiers *cache.Tiers) {
	f := promauto.With(reg)
	for _, tier := range []string{"embeddings", "profiles", "insights", "retrieval"} {
		labels := prometheus.Labels{"tier": tier}
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "contextai_cache_entries", Help: "Entries per cache tier", ConstLabels: labels,
		}, func() float64 { return float64(tiers.Stats()[tier].Size) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "contextai_cache_hits", Help: "Cache hits per tier", ConstLabels: labels,
		}, func() float64 { return float64(tiers.Stats()[tier].Hits) })
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "contextai_cache_misses", Help: "Cache misses per tier", ConstLabels: labels,
		}, func() float64 { return float64(tiers.Stats()[tier].Misses) })
	}
}

// ObserveStage records one stage latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Fallback counts a degraded insight.
func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// SourceFailed implements the retriever's failure observer.
func (m *Metrics) SourceFailed(src model.Source) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(string(src)).Inc()
}

// ObserveBatch implements embedding.BatchObserver.
func (m *Metrics) ObserveBatch(size int, err error) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
	if err != nil {
		m.BatchErrors.Inc()
	}
}

// PromptSize records the token count of a prompt.
func (m *Metrics) PromptSize(tokens int) {
	if m == nil {
		return
	}
	m.PromptTokens.Observe(float64(tokens))
}

// MessageProcessed counts one pipeline run.
func (m *Metrics) MessageProcessed() {
	if m == nil {
		return
	}
	m.Processed.Inc()
}
