package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Vector.Provider)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 10, cfg.Retrieval.RecentLimit)
	assert.Equal(t, 2000, cfg.Merge.MaxTokens)
	assert.Equal(t, 10000, cfg.Cache.Embeddings.MaxSize)
	assert.Equal(t, time.Hour, cfg.Cache.Embeddings.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Profiles.TTL)
	assert.Equal(t, 20, cfg.Embedding.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Embedding.FlushInterval)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/x.db
vector:
  provider: weaviate
  weaviate:
    host: weaviate:8080
llm:
  provider: anthropic
  timeout: 5s
cache:
  insights:
    max_size: 10
    ttl: 1m
retrieval:
  top_k: 8
`), 0o644))
	t.Setenv("CONTEXTAI_RETRIEVAL_TOP_K", "3")
	t.Setenv("CONTEXTAI_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, "weaviate", cfg.Vector.Provider)
	assert.Equal(t, "weaviate:8080", cfg.Vector.Weaviate.Host)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, 10, cfg.Cache.Insights.MaxSize)
	assert.Equal(t, time.Minute, cfg.Cache.Insights.TTL)
	assert.Equal(t, 1000, cfg.Cache.Profiles.MaxSize, "unset tiers keep defaults")
	assert.Equal(t, 3, cfg.Retrieval.TopK, "env beats file")
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONTEXTAI_MERGE_MAX_TOKENS=1500\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CONTEXTAI_MERGE_MAX_TOKENS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Merge.MaxTokens)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONTEXTAI_VECTOR_PROVIDER", "pinecone")
	_, err := Load("")
	assert.ErrorContains(t, err, "pinecone")
}
