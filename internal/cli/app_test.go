package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/contextai/internal/pipeline"
	"github.com/rcliao/contextai/internal/transport"
)

func withFlags(t *testing.T, db, cfg string) {
	t.Helper()
	oldDB, oldCfg := dbPath, configPath
	dbPath, configPath = db, cfg
	t.Cleanup(func() { dbPath, configPath = oldDB, oldCfg })
}

func TestOpenAppOffline(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONTEXTAI_EMBEDDING_PROVIDER", "none")
	t.Setenv("CONTEXTAI_LLM_PROVIDER", "none")
	t.Setenv("CONTEXTAI_LOGGING_LEVEL", "error")
	withFlags(t, filepath.Join(dir, "cli.db"), "")

	ctx := context.Background()
	a, err := openApp(ctx)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, filepath.Join(dir, "cli.db"), a.cfg.DBPath)
	assert.Nil(t, a.batcher)
	assert.Nil(t, a.completer)
	require.NotNil(t, a.sqliteIdx)
	assert.IsType(t, &transport.LogPublisher{}, a.publisher)
	assert.EqualError(t, a.requireVectors(), "embedding provider is disabled")

	c, err := a.store.EnsureCustomer(ctx, "cust-1")
	require.NoError(t, err)

	// Without embeddings the pipeline still answers with a fallback.
	orch := a.orchestrator(a.queue, nil)
	out := orch.Process(ctx, pipeline.Input{CustomerID: c.ID, Content: "I want to buy a laptop"})
	orch.Wait()
	assert.True(t, out.Insight.Fallback)
	assert.NotEmpty(t, out.Insight.Summary)
}

func TestOpenAppRulesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`
intents:
  - intent: cancellation
    keywords: [cancel, unsubscribe]
default_intent: general_inquiry
`), 0o644))
	t.Setenv("CONTEXTAI_EMBEDDING_PROVIDER", "none")
	t.Setenv("CONTEXTAI_LLM_PROVIDER", "none")
	t.Setenv("CONTEXTAI_CLASSIFIER_RULES_FILE", rules)
	withFlags(t, filepath.Join(dir, "cli.db"), "")

	a, err := openApp(context.Background())
	require.NoError(t, err)
	defer a.Close()

	intent, _ := a.classifier.Classify("please cancel my plan")
	assert.Equal(t, "cancellation", intent)
}

func TestOpenAppRejectsUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONTEXTAI_EMBEDDING_PROVIDER", "carrier-pigeon")
	withFlags(t, filepath.Join(dir, "cli.db"), "")

	_, err := openApp(context.Background())
	assert.ErrorContains(t, err, "unknown embedding provider")
}

func TestMessageTextFromArgs(t *testing.T) {
	assert.Equal(t, "where is my order", messageText([]string{" where is", "my order "}))
}
