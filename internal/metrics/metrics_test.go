package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/model"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStage("llm", time.Second)
	m.Fallback("x")
	m.SourceFailed(model.SourceSemantic)
	m.ObserveBatch(3, errors.New("x"))
	m.PromptSize(10)
	m.MessageProcessed()
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fallback("vector_db_unavailable")
	m.Fallback("vector_db_unavailable")
	m.SourceFailed(model.SourceRecent)
	m.ObserveBatch(4, nil)
	m.ObserveBatch(2, errors.New("down"))
	m.MessageProcessed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("vector_db_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFailures.WithLabelValues("recent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Processed))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchSize))
}

func TestCacheGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	tiers := cache.NewTiers(cache.DefaultTiersConfig())
	RegisterCacheGauges(reg, tiers)

	tiers.Profiles.Set("c1", &model.CustomerProfile{ID: "c1"})
	tiers.Profiles.Get("c1")
	tiers.Profiles.Get("missing")

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == "profiles" {
					values[mf.GetName()] = metric.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, values["contextai_cache_entries"])
	assert.Equal(t, 1.0, values["contextai_cache_hits"])
	assert.Equal(t, 1.0, values["contextai_cache_misses"])
}
