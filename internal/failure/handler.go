// Package failure turns pipeline errors into degraded but well-formed
// insights so an agent always gets something to act on.
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/reprocess"
	"github.com/rcliao/contextai/internal/store"
)

// Fallback reasons.
const (
	ReasonEmbeddingDown  = "embedding_service_down"
	ReasonVectorDown     = "vector_db_unavailable"
	ReasonCachedInsight  = "llm_unavailable_using_cache"
	ReasonCompleteFailed = "complete_ai_failure"
	ReasonCatastrophic   = "catastrophic_failure"
)

// CachedInsightMaxAge is how old a cached insight may be and still stand in
// for a failed model call.
const CachedInsightMaxAge = 10 * time.Minute

// ProfileFinder looks up customer profiles.
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (*model.CustomerProfile, error)
}

// InsightCache is where the last good insight per customer lives.
type InsightCache interface {
	Get(key string) (model.CachedInsight, bool)
}

// Handler builds fallback insights.
type Handler struct {
	profiles   ProfileFinder
	insights   InsightCache
	queue      reprocess.Queue
	classifier Classifier
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler creates a handler. insights and queue may be nil; a nil
// classifier uses the default keyword rules.
func NewHandler(profiles ProfileFinder, insights InsightCache, queue reprocess.Queue, classifier Classifier, logger *zap.Logger) *Handler {
	if classifier == nil {
		classifier = NewKeywordClassifier(DefaultRules())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		profiles:   profiles,
		insights:   insights,
		queue:      queue,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the clock used for cache freshness.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Classifier returns the rule classifier in use.
func (h *Handler) Classifier() Classifier { return h.classifier }

// Handle never fails: every error kind maps to a normalized fallback insight.
func (h *Handler) Handle(ctx context.Context, err error, customerID string, msg model.Message) model.Insight {
	kind := aierr.KindOf(err)
	h.logger.Error("ai pipeline failed",
		zap.String("customer_id", customerID), zap.String("kind", string(kind)), zap.Error(err))

	switch kind {
	case aierr.KindEmbedding:
		return h.embeddingFailure(ctx, customerID)
	case aierr.KindVectorSearch:
		return h.vectorFailure(ctx, customerID, msg)
	case aierr.KindLLMTimeout, aierr.KindLLMFailed:
		return h.llmFailure(ctx, customerID, msg, kind)
	default:
		return h.completeFailure(ctx, customerID)
	}
}

// profile returns nil with ok=true when the customer is simply unknown.
func (h *Handler) profile(ctx context.Context, customerID string) (*model.CustomerProfile, bool) {
	if h.profiles == nil {
		return nil, true
	}
	p, err := h.profiles.FindByID(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, true
	}
	if err != nil {
		h.logger.Warn("profile lookup failed during fallback", zap.String("customer_id", customerID), zap.Error(err))
		return nil, false
	}
	return p, true
}

func (h *Handler) embeddingFailure(ctx context.Context, customerID string) model.Insight {
	p, ok := h.profile(ctx, customerID)
	if !ok {
		return catastrophic()
	}
	return model.Degraded(model.Insight{
		Intent:    model.IntentUnknown,
		Urgency:   model.UrgencyMedium,
		Sentiment: model.SentimentNeutral,
		Summary: fmt.Sprintf("Customer %s sent a message. Vector search unavailable - manual review recommended.",
			p.DisplayName("Unknown")),
		Recommendations: []string{"Review message manually", "Check customer history in database"},
	}, ReasonEmbeddingDown)
}

func (h *Handler) vectorFailure(ctx context.Context, customerID string, msg model.Message) model.Insight {
	p, ok := h.profile(ctx, customerID)
	if !ok {
		return catastrophic()
	}
	intent, urgency := h.classifier.Classify(msg.Content)
	return model.Degraded(model.Insight{
		Intent:          intent,
		Urgency:         urgency,
		Sentiment:       model.SentimentNeutral,
		Summary:         fmt.Sprintf("%s - %s. Historical context unavailable.", p.DisplayName("Customer"), intent),
		Recommendations: h.classifier.Recommendations(intent),
	}, ReasonVectorDown)
}

func (h *Handler) llmFailure(ctx context.Context, customerID string, msg model.Message, kind aierr.Kind) model.Insight {
	if h.insights != nil {
		if cached, ok := h.insights.Get(cache.LastInsightKey(customerID)); ok && h.now().Sub(cached.CachedAt) < CachedInsightMaxAge {
			h.logger.Info("using cached insight", zap.String("customer_id", customerID))
			in := cached.Insight
			in.Summary = "[CACHED] " + in.Summary
			return model.Degraded(in, ReasonCachedInsight)
		}
	}
	if h.queue != nil {
		job := reprocess.NewJob(customerID, msg.SessionID, msg.ID, msg.Content, string(kind))
		job.SenderType = msg.SenderType
		if err := h.queue.Enqueue(ctx, job); err != nil {
			h.logger.Warn("reprocess enqueue failed", zap.String("customer_id", customerID), zap.Error(err))
		}
	}
	return h.completeFailure(ctx, customerID)
}

func (h *Handler) completeFailure(ctx context.Context, customerID string) model.Insight {
	p, ok := h.profile(ctx, customerID)
	if !ok {
		return catastrophic()
	}
	return model.Degraded(model.Insight{
		Intent:    model.IntentUnknown,
		Urgency:   model.UrgencyMedium,
		Sentiment: model.SentimentNeutral,
		Summary: fmt.Sprintf("Message from %s. AI processing unavailable - please review manually.",
			p.DisplayName("customer")),
		Recommendations: []string{"Review message content", "Check customer profile", "Respond based on context"},
	}, ReasonCompleteFailed)
}

func catastrophic() model.Insight {
	return model.Degraded(model.Insight{
		Intent:          model.IntentUnknown,
		Urgency:         model.UrgencyMedium,
		Sentiment:       model.SentimentNeutral,
		Summary:         "New message received. All AI services unavailable.",
		Recommendations: []string{"Manual review required"},
	}, ReasonCatastrophic)
}
