package cache

import (
	"strconv"
	"time"

	"github.com/rcliao/contextai/internal/model"
)

// TierConfig sizes one cache tier.
type TierConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// TiersConfig sizes all four tiers. Zero values fall back to defaults.
type TiersConfig struct {
	Embeddings TierConfig `mapstructure:"embeddings"`
	Profiles   TierConfig `mapstructure:"profiles"`
	Insights   TierConfig `mapstructure:"insights"`
	Retrieval  TierConfig `mapstructure:"retrieval"`
}

// DefaultTiersConfig returns the production tier sizes.
func DefaultTiersConfig() TiersConfig {
	return TiersConfig{
		Embeddings: TierConfig{MaxSize: 10000, TTL: time.Hour},
		Profiles:   TierConfig{MaxSize: 1000, TTL: 5 * time.Minute},
		Insights:   TierConfig{MaxSize: 5000, TTL: 10 * time.Minute},
		Retrieval:  TierConfig{MaxSize: 2000, TTL: 2 * time.Minute},
	}
}

// Tiers holds the four independent caches used by the pipeline.
type Tiers struct {
	Embeddings *Cache[[]float32]
	Profiles   *Cache[*model.CustomerProfile]
	Insights   *Cache[model.CachedInsight]
	Retrieval  *Cache[[]model.RetrievalRecord]
}

// NewTiers builds the four caches from cfg.
func NewTiers(cfg TiersConfig) *Tiers {
	def := DefaultTiersConfig()
	pick := func(c, d TierConfig) TierConfig {
		if c.MaxSize <= 0 {
			c.MaxSize = d.MaxSize
		}
		if c.TTL <= 0 {
			c.TTL = d.TTL
		}
		return c
	}
	e := pick(cfg.Embeddings, def.Embeddings)
	p := pick(cfg.Profiles, def.Profiles)
	i := pick(cfg.Insights, def.Insights)
	r := pick(cfg.Retrieval, def.Retrieval)

	return &Tiers{
		Embeddings: New[[]float32](e.MaxSize, e.TTL),
		Profiles:   New[*model.CustomerProfile](p.MaxSize, p.TTL),
		Insights:   New[model.CachedInsight](i.MaxSize, i.TTL),
		Retrieval:  New[[]model.RetrievalRecord](r.MaxSize, r.TTL),
	}
}

// Stats returns per-tier counters keyed by tier name.
func (t *Tiers) Stats() map[string]Stats {
	return map[string]Stats{
		"embeddings": t.Embeddings.Stats(),
		"profiles":   t.Profiles.Stats(),
		"insights":   t.Insights.Stats(),
		"retrieval":  t.Retrieval.Stats(),
	}
}

// Clear empties every tier.
func (t *Tiers) Clear() {
	t.Embeddings.Clear()
	t.Profiles.Clear()
	t.Insights.Clear()
	t.Retrieval.Clear()
}

// HashText is a cheap order-sensitive 32-bit hash of text, base 36 encoded.
// Collisions only risk a stale vector.
func HashText(text string) string {
	var h int32
	for _, r := range text {
		h = h*31 + int32(r)
	}
	return strconv.FormatInt(int64(h), 36)
}

// LastInsightKey is the insights-tier key of a customer's most recent insight.
func LastInsightKey(customerID string) string {
	return "insight:" + customerID + ":last"
}

// ReturningKey is the insights-tier key of a customer's returning briefing.
func ReturningKey(customerID string) string {
	return "returning:" + customerID
}
