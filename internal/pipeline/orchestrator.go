// Package pipeline runs one chat message through retrieval, context merging
// and the language model, and delivers the resulting insight to the agent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/contextmerge"
	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/failure"
	"github.com/rcliao/contextai/internal/llm"
	"github.com/rcliao/contextai/internal/metrics"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/profile"
	"github.com/rcliao/contextai/internal/prompt"
	"github.com/rcliao/contextai/internal/reprocess"
	"github.com/rcliao/contextai/internal/retrieval"
	"github.com/rcliao/contextai/internal/store"
	"github.com/rcliao/contextai/internal/transport"
	"github.com/rcliao/contextai/internal/vectorindex"
)

const (
	// SlowThreshold triggers a slow-pipeline warning.
	SlowThreshold = 2 * time.Second
	// SessionHistoryLimit caps the session messages fed to the prompt.
	SessionHistoryLimit = 50
)

// Store is the persistence the orchestrator needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*model.CustomerProfile, error)
	MutateProfile(ctx context.Context, id string, fn store.ProfileMutation) (*model.CustomerProfile, error)
	AppendPreferenceHistory(ctx context.Context, rows []model.PreferenceChange) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	SetSessionIntent(ctx context.Context, id, intent string) error
	ListSessions(ctx context.Context, customerID string, limit int) ([]model.Session, error)
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
	GetCustomerMessages(ctx context.Context, customerID string, limit int) ([]model.Message, error)
	SaveInsight(ctx context.Context, p store.SaveInsightParams) (*model.StoredInsight, error)
}

// Deps are the collaborators of an Orchestrator. Index, Vectors, LLM,
// Publisher, Queue, Classifier and Metrics may be nil.
type Deps struct {
	Store      Store
	Vectors    retrieval.Vectorizer
	Index      vectorindex.Index
	LLM        llm.Completer
	Tiers      *cache.Tiers
	Publisher  transport.Publisher
	Queue      reprocess.Queue
	Classifier failure.Classifier
	Tokens     *prompt.TokenCounter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Config tunes an Orchestrator.
type Config struct {
	TopK          int
	RecentLimit   int
	MaxTokens     int
	LLMTimeout    time.Duration
	LLMOptions    llm.Options
	DetachTimeout time.Duration
}

// Input is one incoming chat message.
type Input struct {
	CustomerID string
	SessionID  string
	AgentID    string
	MessageID  string
	Content    string
	SenderType string
}

// Timings records stage latency for one run.
type Timings struct {
	Embedding time.Duration `json:"embedding"`
	Retrieval time.Duration `json:"retrieval"`
	Merge     time.Duration `json:"merge"`
	LLM       time.Duration `json:"llm"`
	Total     time.Duration `json:"total"`
}

// Outcome is the result of Process.
type Outcome struct {
	Insight       model.Insight        `json:"insight"`
	Timings       Timings              `json:"timings"`
	Context       *model.MergedContext `json:"context,omitempty"`
	PromptTokens  int                  `json:"prompt_tokens,omitempty"`
	FailedSources []model.Source       `json:"failed_sources,omitempty"`
}

// Orchestrator runs the pipeline.
type Orchestrator struct {
	deps        Deps
	cfg         Config
	profiles    *profileSource
	retriever   *retrieval.Retriever
	merger      *contextmerge.Merger
	accumulator *profile.Accumulator
	summarizer  *profile.Summarizer
	handler     *failure.Handler
	detacher    *Detacher
	logger      *zap.Logger
}

// New wires an orchestrator from its dependencies.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tiers == nil {
		deps.Tiers = cache.NewTiers(cache.DefaultTiersConfig())
	}
	if deps.Publisher == nil {
		deps.Publisher = transport.NewLogPublisher(deps.Logger)
	}
	if deps.Queue == nil {
		deps.Queue = reprocess.NewLogQueue(deps.Logger)
	}
	if deps.Classifier == nil {
		deps.Classifier = failure.NewKeywordClassifier(failure.DefaultRules())
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = contextmerge.DefaultMaxTokens
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = llm.DefaultTimeout
	}

	log := deps.Logger
	profiles := &profileSource{store: deps.Store, cache: deps.Tiers.Profiles, logger: log}
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		profiles: profiles,
		retriever: retrieval.New(deps.Store, deps.Vectors, deps.Index, deps.Tiers.Retrieval, log.Named("retrieval")).
			WithObserver(deps.Metrics),
		merger:      contextmerge.New(log.Named("merge")),
		accumulator: profile.NewAccumulator(deps.Store, log.Named("profile")),
		summarizer:  profile.NewSummarizer(deps.Store, deps.LLM, cfg.LLMTimeout, log.Named("summary")),
		handler:     failure.NewHandler(profiles, deps.Tiers.Insights, deps.Queue, deps.Classifier, log.Named("failure")),
		detacher:    NewDetacher(cfg.DetachTimeout, log),
		logger:      log,
	}
}

// Summarizer exposes the summary maintainer, used by the profile command.
func (o *Orchestrator) Summarizer() *profile.Summarizer { return o.summarizer }

// Retriever exposes the hybrid retriever, used by the context command.
func (o *Orchestrator) Retriever() *retrieval.Retriever { return o.retriever }

// Wait blocks until background tasks started by Process have finished.
func (o *Orchestrator) Wait() { o.detacher.Wait() }

// Process turns one message into an insight. It never returns an error:
// failures, including panics, become fallback insights.
func (o *Orchestrator) Process(ctx context.Context, in Input) (out *Outcome) {
	start := time.Now()
	if in.SenderType == "" {
		in.SenderType = model.SenderCustomer
	}
	msg := model.Message{
		ID: in.MessageID, CustomerID: in.CustomerID, SessionID: in.SessionID,
		SenderType: in.SenderType, Content: in.Content,
	}
	out = &Outcome{}

	defer func() {
		if r := recover(); r != nil {
			err := aierr.Wrap(aierr.KindUnclassified, "process", fmt.Errorf("panic: %v", r))
			out.Insight = o.handler.Handle(ctx, err, in.CustomerID, msg)
		}
		out.Timings.Total = time.Since(start)
		o.finish(ctx, in, out)
	}()

	insight, err := o.run(ctx, in, out)
	if err != nil {
		insight = o.handler.Handle(ctx, err, in.CustomerID, msg)
	}
	out.Insight = insight
	return out
}

func (o *Orchestrator) run(ctx context.Context, in Input, out *Outcome) (model.Insight, error) {
	if o.deps.Index == nil {
		return model.Insight{}, aierr.Wrap(aierr.KindVectorSearch, "retrieve", errors.New("vector index unavailable"))
	}

	// Rule-based intent feeds the intent-filtered retrieval source.
	prelim, _ := o.deps.Classifier.Classify(in.Content)

	var (
		vec     embedding.Vector
		result  *retrieval.Result
		before  *model.CustomerProfile
		session model.SessionContext
	)
	var g errgroup.Group
	goRecover(&g, "retrieve", func() error {
		if o.deps.Vectors == nil {
			return aierr.Wrap(aierr.KindEmbedding, "embed", errors.New("no embedding provider configured"))
		}
		t := time.Now()
		v, err := o.deps.Vectors.Add(ctx, in.Content, embedding.PriorityUrgent)
		out.Timings.Embedding = time.Since(t)
		o.deps.Metrics.ObserveStage("embedding", out.Timings.Embedding)
		if err != nil {
			return aierr.Wrap(aierr.KindEmbedding, "embed", err)
		}
		vec = v

		t = time.Now()
		result = o.retriever.Retrieve(ctx, in.CustomerID, in.Content, retrieval.Options{
			TopK:               o.cfg.TopK,
			RecentLimit:        o.cfg.RecentLimit,
			IncludeRecent:      true,
			IncludeSemantic:    true,
			IncludeIntentBased: true,
			Intent:             prelim,
			Vector:             v,
		})
		out.Timings.Retrieval = time.Since(t)
		o.deps.Metrics.ObserveStage("retrieval", out.Timings.Retrieval)
		return nil
	})
	goRecover(&g, "profile", func() error {
		before = o.profiles.get(ctx, in.CustomerID)
		return nil
	})
	goRecover(&g, "session", func() error {
		session = o.sessionContext(ctx, in.SessionID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Insight{}, err
	}
	out.FailedSources = result.Failed

	t := time.Now()
	merged := o.merger.Merge(before, result.Merged, session, contextmerge.Options{MaxTokens: o.cfg.MaxTokens})
	out.Timings.Merge = time.Since(t)
	o.deps.Metrics.ObserveStage("merge", out.Timings.Merge)
	out.Context = merged

	text := prompt.Insight(prompt.InsightInput{Context: merged, Message: in.Content, SenderType: in.SenderType})
	out.PromptTokens = o.deps.Tokens.Count(text)
	o.deps.Metrics.PromptSize(out.PromptTokens)

	t = time.Now()
	reply, err := llm.CompleteWithTimeout(ctx, o.deps.LLM, text, o.cfg.LLMTimeout, o.cfg.LLMOptions)
	out.Timings.LLM = time.Since(t)
	o.deps.Metrics.ObserveStage("llm", out.Timings.LLM)
	if err != nil {
		return model.Insight{}, err
	}

	parsed := llm.ParseReply(reply)
	insight := parsed.Insight()
	if !parsed.Structured() {
		o.logger.Warn("model reply was not JSON", zap.String("customer_id", in.CustomerID))
	}
	o.deps.Tiers.Insights.Set(cache.LastInsightKey(in.CustomerID), model.CachedInsight{Insight: insight, CachedAt: time.Now()})

	o.accumulate(ctx, in, insight, before)
	if in.SenderType == model.SenderCustomer && len(vec) > 0 {
		o.indexMessage(ctx, in, vec, insight.Intent)
	}
	return insight, nil
}

// goRecover runs fn on g, turning a panic into an unclassified error.
func goRecover(g *errgroup.Group, op string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = aierr.Wrap(aierr.KindUnclassified, op, fmt.Errorf("panic: %v", r))
			}
		}()
		return fn()
	})
}

// accumulate folds the insight into the profile, then regenerates the
// summary in the background against the pre-accumulation snapshot.
func (o *Orchestrator) accumulate(ctx context.Context, in Input, insight model.Insight, before *model.CustomerProfile) {
	if before == nil {
		return
	}
	if _, err := o.accumulator.UpdateFromInsight(ctx, in.CustomerID, profile.Extracted{
		Preferences: insight.ExtractedPreferences,
		Intent:      insight.Intent,
		Urgency:     insight.Urgency,
		SessionID:   in.SessionID,
	}); err != nil {
		o.logger.Warn("profile accumulation failed", zap.String("customer_id", in.CustomerID), zap.Error(err))
	}
	o.profiles.invalidate(in.CustomerID)

	sig := profile.Signal{
		Intent:      insight.Intent,
		Urgency:     insight.Urgency,
		Sentiment:   insight.Sentiment,
		Preferences: insight.ExtractedPreferences,
		Summary:     insight.Summary,
	}
	o.detacher.Go(ctx, "summary", func(ctx context.Context) error {
		if _, err := o.summarizer.Update(ctx, before, sig); err != nil {
			return err
		}
		o.profiles.invalidate(in.CustomerID)
		return nil
	})
}

func (o *Orchestrator) indexMessage(ctx context.Context, in Input, vec embedding.Vector, intent string) {
	doc := MessageDocument(model.Message{
		ID:         in.MessageID,
		CustomerID: in.CustomerID,
		SessionID:  in.SessionID,
		SenderType: in.SenderType,
		Content:    in.Content,
		Intent:     intent,
		SentAt:     time.Now(),
	}, vec)
	o.detacher.Go(ctx, "index_message", func(ctx context.Context) error {
		return o.deps.Index.Add(ctx, doc)
	})
}

// MessageDocument maps a stored message onto its vector-index document.
// Messages without an id get a temp_ id.
func MessageDocument(m model.Message, vec embedding.Vector) vectorindex.Document {
	id := "msg_" + m.ID
	if m.ID == "" {
		id = fmt.Sprintf("temp_%d", time.Now().UnixNano())
	}
	sent := m.SentAt
	if sent.IsZero() {
		sent = time.Now()
	}
	return vectorindex.Document{
		ID:         id,
		CustomerID: m.CustomerID,
		Embedding:  vec,
		Text:       m.Content,
		Metadata: model.RecordMeta{
			MessageID:  m.ID,
			SessionID:  m.SessionID,
			Timestamp:  sent.UTC().Format(time.RFC3339Nano),
			SenderType: m.SenderType,
			Intent:     m.Intent,
		},
	}
}

// finish persists and publishes the insight and records timing.
func (o *Orchestrator) finish(ctx context.Context, in Input, out *Outcome) {
	insight := out.Insight
	if insight.Fallback {
		o.deps.Metrics.Fallback(insight.FallbackReason)
	}
	o.deps.Metrics.MessageProcessed()
	o.deps.Metrics.ObserveStage("total", out.Timings.Total)

	if o.deps.Store != nil {
		o.detacher.Go(ctx, "save_insight", func(ctx context.Context) error {
			_, err := o.deps.Store.SaveInsight(ctx, store.SaveInsightParams{
				CustomerID: in.CustomerID,
				SessionID:  in.SessionID,
				MessageID:  in.MessageID,
				Insight:    insight,
			})
			if err != nil {
				return err
			}
			if in.SessionID != "" && !insight.Fallback {
				return o.deps.Store.SetSessionIntent(ctx, in.SessionID, insight.Intent)
			}
			return nil
		})
	}

	target := transport.Target{CustomerID: in.CustomerID, AgentID: in.AgentID}
	prefs := insight.ExtractedPreferences
	if p := o.profiles.get(ctx, in.CustomerID); p != nil {
		prefs = profile.DeepMerge(p.Preferences, prefs)
	}
	if err := o.deps.Publisher.PublishContextUpdate(ctx, target, transport.NewContextUpdate(insight.Summary, prefs)); err != nil {
		o.logger.Warn("context update not delivered", zap.String("customer_id", in.CustomerID), zap.Error(err))
	}
	next := transport.NextBestAction{Suggestions: insight.SuggestedResponses, Intent: insight.Intent, Urgency: insight.Urgency}
	if err := o.deps.Publisher.PublishNextAction(ctx, target, next); err != nil {
		o.logger.Warn("next best action not delivered", zap.String("customer_id", in.CustomerID), zap.Error(err))
	}

	t := out.Timings
	o.logger.Debug("pipeline stages",
		zap.String("customer_id", in.CustomerID),
		zap.Duration("embedding", t.Embedding),
		zap.Duration("retrieval", t.Retrieval),
		zap.Duration("merge", t.Merge),
		zap.Duration("llm", t.LLM))
	o.logger.Info("message processed",
		zap.String("customer_id", in.CustomerID),
		zap.String("intent", insight.Intent),
		zap.Bool("fallback", insight.Fallback),
		zap.Duration("total", t.Total))
	if t.Total > SlowThreshold {
		o.logger.Warn("pipeline slow", zap.String("customer_id", in.CustomerID), zap.Duration("total", t.Total))
	}
}

func (o *Orchestrator) sessionContext(ctx context.Context, sessionID string) model.SessionContext {
	sc := model.SessionContext{SessionID: sessionID, Messages: []model.Message{}}
	if sessionID == "" || o.deps.Store == nil {
		return sc
	}
	if s, err := o.deps.Store.GetSession(ctx, sessionID); err == nil {
		sc.DetectedIntent = s.DetectedIntent
	} else if !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	msgs, err := o.deps.Store.GetSessionMessages(ctx, sessionID, SessionHistoryLimit)
	if err != nil {
		o.logger.Warn("session messages unavailable", zap.String("session_id", sessionID), zap.Error(err))
		return sc
	}
	sc.Messages = msgs
	return sc
}
