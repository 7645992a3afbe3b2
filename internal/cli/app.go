package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/config"
	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/failure"
	"github.com/rcliao/contextai/internal/llm"
	"github.com/rcliao/contextai/internal/logging"
	"github.com/rcliao/contextai/internal/metrics"
	"github.com/rcliao/contextai/internal/pipeline"
	"github.com/rcliao/contextai/internal/prompt"
	"github.com/rcliao/contextai/internal/reprocess"
	"github.com/rcliao/contextai/internal/store"
	"github.com/rcliao/contextai/internal/transport"
	"github.com/rcliao/contextai/internal/vectorindex"
)

// app holds everything a command may need, built from configuration.
// Optional collaborators stay nil when their provider is disabled.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLiteStore
	tiers    *cache.Tiers
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	batcher   *embedding.Batcher
	index     vectorindex.Index
	sqliteIdx *vectorindex.SQLiteIndex
	completer llm.Completer

	redis      *redis.Client
	publisher  transport.Publisher
	queue      reprocess.Queue
	classifier failure.Classifier
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		tiers:    cache.NewTiers(cfg.Cache),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	metrics.RegisterCacheGauges(a.registry, a.tiers)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	embedder, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		return err
	}
	if embedder != nil {
		a.batcher = embedding.NewBatcher(embedder, a.tiers.Embeddings,
			embedding.WithBatchSize(cfg.Embedding.BatchSize),
			embedding.WithFlushInterval(cfg.Embedding.FlushInterval),
			embedding.WithLogger(a.logger.Named("batcher")),
			embedding.WithObserver(a.metrics))
		a.batcher.Start()
	}

	switch cfg.Vector.Provider {
	case "sqlite", "":
		idx, err := vectorindex.NewSQLiteIndex(a.store.DB())
		if err != nil {
			return err
		}
		a.sqliteIdx = idx
		a.index = idx
	case "weaviate":
		w := cfg.Vector.Weaviate
		idx, err := vectorindex.NewWeaviateIndex(w.Host, w.Scheme, w.Class)
		if err != nil {
			return err
		}
		if err := idx.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("weaviate schema: %w", err)
		}
		a.index = idx
	}

	if a.completer, err = llm.NewFromConfig(cfg.LLM); err != nil {
		return err
	}

	rules := failure.DefaultRules()
	if cfg.Classifier.RulesFile != "" {
		if rules, err = failure.LoadRules(cfg.Classifier.RulesFile); err != nil {
			return err
		}
	}
	a.classifier = failure.NewKeywordClassifier(rules)

	if cfg.Redis.URL != "" {
		client, err := transport.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.redis = client
		a.publisher = transport.NewRedisPublisher(client, cfg.Redis.ChannelPrefix)
		a.queue = reprocess.NewRedisQueue(client, cfg.Redis.ReprocessKey)
	} else {
		a.publisher = transport.NewLogPublisher(a.logger.Named("transport"))
		a.queue = reprocess.NewLogQueue(a.logger.Named("reprocess"))
	}
	return nil
}

// orchestrator builds a pipeline over the app. queue receives jobs for
// messages the model could not handle; tokens may be nil.
func (a *app) orchestrator(queue reprocess.Queue, tokens *prompt.TokenCounter) *pipeline.Orchestrator {
	deps := pipeline.Deps{
		Store:      a.store,
		Index:      a.index,
		LLM:        a.completer,
		Tiers:      a.tiers,
		Publisher:  a.publisher,
		Queue:      queue,
		Classifier: a.classifier,
		Tokens:     tokens,
		Metrics:    a.metrics,
		Logger:     a.logger.Named("pipeline"),
	}
	if a.batcher != nil {
		deps.Vectors = a.batcher
	}
	return pipeline.New(deps, pipeline.Config{
		TopK:        a.cfg.Retrieval.TopK,
		RecentLimit: a.cfg.Retrieval.RecentLimit,
		MaxTokens:   a.cfg.Merge.MaxTokens,
		LLMTimeout:  a.cfg.Timeout(),
		LLMOptions:  a.cfg.LLM.Options(),
	})
}

// requireVectors fails commands that need both embeddings and an index.
func (a *app) requireVectors() error {
	if a.batcher == nil {
		return errors.New("embedding provider is disabled")
	}
	if a.index == nil {
		return errors.New("vector index is disabled")
	}
	return nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.batcher != nil {
		a.batcher.Close(ctx)
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
	a.logger.Sync()
}

func mustOpenApp(ctx context.Context) *app {
	a, err := openApp(ctx)
	if err != nil {
		exitErr("startup", err)
	}
	return a
}
