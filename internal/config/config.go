// Package config loads settings from defaults, an optional YAML file, .env
// and CONTEXTAI_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/contextmerge"
	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/llm"
	"github.com/rcliao/contextai/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONTEXTAI"

// Config is the full application configuration.
type Config struct {
	DBPath     string               `mapstructure:"db_path"`
	Logging    logging.Config       `mapstructure:"logging"`
	Embedding  embedding.Config     `mapstructure:"embedding"`
	LLM        llm.Config           `mapstructure:"llm"`
	Vector     VectorConfig         `mapstructure:"vector"`
	Redis      RedisConfig          `mapstructure:"redis"`
	Cache      cache.TiersConfig    `mapstructure:"cache"`
	Retrieval  RetrievalConfig      `mapstructure:"retrieval"`
	Merge      contextmerge.Options `mapstructure:"merge"`
	Classifier ClassifierConfig     `mapstructure:"classifier"`
	Serve      ServeConfig          `mapstructure:"serve"`
}

// VectorConfig selects the semantic index.
type VectorConfig struct {
	Provider string         `mapstructure:"provider"` // sqlite, weaviate or none
	Weaviate WeaviateConfig `mapstructure:"weaviate"`
}

// WeaviateConfig addresses a Weaviate instance.
type WeaviateConfig struct {
	Host   string `mapstructure:"host"`
	Scheme string `mapstructure:"scheme"`
	Class  string `mapstructure:"class"`
}

// RedisConfig enables the Redis transport and reprocess queue. An empty URL
// disables both.
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
	ReprocessKey  string `mapstructure:"reprocess_key"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	TopK        int `mapstructure:"top_k"`
	RecentLimit int `mapstructure:"recent_limit"`
}

// ClassifierConfig points at an optional keyword rules file.
type ClassifierConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// ServeConfig configures the long-running serve command.
type ServeConfig struct {
	MetricsAddr       string `mapstructure:"metrics_addr"`
	ReprocessSchedule string `mapstructure:"reprocess_schedule"`
	ReprocessBatch    int    `mapstructure:"reprocess_batch"`
}

// DefaultDBPath is ~/.contextai/contextai.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "contextai.db"
	}
	return filepath.Join(home, ".contextai", "contextai.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", DefaultDBPath())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dims", 0)
	v.SetDefault("embedding.batch_size", embedding.DefaultBatchSize)
	v.SetDefault("embedding.flush_interval", embedding.DefaultFlushInterval)
	v.SetDefault("embedding.rate_per_second", 0)
	v.SetDefault("embedding.burst", 1)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", llm.DefaultTimeout)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("vector.provider", "sqlite")
	v.SetDefault("vector.weaviate.host", "localhost:8080")
	v.SetDefault("vector.weaviate.scheme", "http")
	v.SetDefault("vector.weaviate.class", "CustomerMessage")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel_prefix", "")
	v.SetDefault("redis.reprocess_key", "contextai:reprocess")

	def := cache.DefaultTiersConfig()
	for name, tier := range map[string]cache.TierConfig{
		"embeddings": def.Embeddings,
		"profiles":   def.Profiles,
		"insights":   def.Insights,
		"retrieval":  def.Retrieval,
	} {
		v.SetDefault("cache."+name+".max_size", tier.MaxSize)
		v.SetDefault("cache."+name+".ttl", tier.TTL)
	}

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.recent_limit", 10)
	v.SetDefault("merge.max_tokens", contextmerge.DefaultMaxTokens)
	v.SetDefault("classifier.rules_file", "")

	v.SetDefault("serve.metrics_addr", ":9090")
	v.SetDefault("serve.reprocess_schedule", "@every 1m")
	v.SetDefault("serve.reprocess_batch", 20)
}

// Load reads configuration. path may be empty, in which case
// ./contextai.yaml and ~/.contextai/contextai.yaml are tried.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("contextai")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".contextai"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Vector.Provider {
	case "sqlite", "weaviate", "none", "":
	default:
		return fmt.Errorf("unknown vector provider %q", c.Vector.Provider)
	}
	if c.Retrieval.TopK <= 0 {
		return errors.New("retrieval.top_k must be positive")
	}
	if c.Merge.MaxTokens <= 0 {
		return errors.New("merge.max_tokens must be positive")
	}
	if c.LLM.Timeout < 0 || c.Embedding.FlushInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Timeout is the LLM timeout or the default when unset.
func (c *Config) Timeout() time.Duration {
	if c.LLM.Timeout <= 0 {
		return llm.DefaultTimeout
	}
	return c.LLM.Timeout
}
