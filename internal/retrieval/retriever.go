// Package retrieval gathers customer context from recent messages and the
// semantic index, and merges the sources into one ranked list.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/vectorindex"
)

const (
	// MaxMerged caps the merged list.
	MaxMerged = 10
	// RecentScore is the fixed score of recent messages.
	RecentScore = 1.0
	// semanticKeyPrefix is how much of the message keys the semantic cache.
	semanticKeyPrefix = 50
)

// MessageSource returns a customer's latest messages, oldest first.
type MessageSource interface {
	GetCustomerMessages(ctx context.Context, customerID string, limit int) ([]model.Message, error)
}

// Vectorizer embeds query text.
type Vectorizer interface {
	Add(ctx context.Context, text string, priority embedding.Priority) (embedding.Vector, error)
}

// FailureObserver is told when a source fails.
type FailureObserver interface {
	SourceFailed(source model.Source)
}

// Options select which sources run.
type Options struct {
	TopK               int
	RecentLimit        int
	IncludeRecent      bool
	IncludeSemantic    bool
	IncludeIntentBased bool
	Intent             string
	// Vector is the already computed query embedding. When empty the
	// semantic sources embed the message once between them.
	Vector embedding.Vector
}

// DefaultOptions enables all sources with topK 5 and 10 recent messages.
func DefaultOptions() Options {
	return Options{TopK: 5, RecentLimit: 10, IncludeRecent: true, IncludeSemantic: true, IncludeIntentBased: true}
}

// Result holds each source's records and the merged list.
type Result struct {
	Recent      []model.RetrievalRecord `json:"recent"`
	Semantic    []model.RetrievalRecord `json:"semantic"`
	IntentBased []model.RetrievalRecord `json:"intent_based"`
	Merged      []model.RetrievalRecord `json:"merged"`
	Failed      []model.Source          `json:"failed,omitempty"`
}

// Retriever is the hybrid recent + semantic + intent retriever.
type Retriever struct {
	messages MessageSource
	vectors  Vectorizer
	index    vectorindex.Index
	cache    *cache.Cache[[]model.RetrievalRecord]
	logger   *zap.Logger
	observer FailureObserver
}

// New creates a retriever. index and vectors may be nil, in which case the
// semantic sources report failure and yield nothing.
func New(messages MessageSource, vectors Vectorizer, index vectorindex.Index, c *cache.Cache[[]model.RetrievalRecord], logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{messages: messages, vectors: vectors, index: index, cache: c, logger: logger}
}

// WithObserver reports source failures, typically to metrics.
func (r *Retriever) WithObserver(o FailureObserver) *Retriever {
	r.observer = o
	return r
}

// Retrieve runs the enabled sources concurrently. A failing source is logged
// and contributes an empty list; Retrieve itself never fails.
func (r *Retriever) Retrieve(ctx context.Context, customerID, message string, opts Options) *Result {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 10
	}

	res := &Result{
		Recent:      []model.RetrievalRecord{},
		Semantic:    []model.RetrievalRecord{},
		IntentBased: []model.RetrievalRecord{},
	}
	var mu sync.Mutex
	fail := func(src model.Source, err error) {
		r.logger.Warn("retrieval source failed",
			zap.String("source", string(src)), zap.String("customer_id", customerID), zap.Error(err))
		if r.observer != nil {
			r.observer.SourceFailed(src)
		}
		mu.Lock()
		res.Failed = append(res.Failed, src)
		mu.Unlock()
	}

	embed := sync.OnceValues(func() (embedding.Vector, error) {
		if len(opts.Vector) > 0 {
			return opts.Vector, nil
		}
		if r.vectors == nil {
			return nil, errNoIndex
		}
		return r.vectors.Add(ctx, message, embedding.PriorityUrgent)
	})

	var g errgroup.Group
	run := func(src model.Source, dst *[]model.RetrievalRecord, fn func() ([]model.RetrievalRecord, error)) {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					fail(src, fmt.Errorf("panic: %v", p))
				}
			}()
			recs, err := fn()
			if err != nil {
				fail(src, err)
				return nil
			}
			*dst = recs
			return nil
		})
	}
	if opts.IncludeRecent {
		run(model.SourceRecent, &res.Recent, func() ([]model.RetrievalRecord, error) {
			return r.recent(ctx, customerID, opts.RecentLimit)
		})
	}
	if opts.IncludeSemantic {
		run(model.SourceSemantic, &res.Semantic, func() ([]model.RetrievalRecord, error) {
			return r.semantic(ctx, customerID, message, opts.TopK, embed)
		})
	}
	if opts.IncludeIntentBased && opts.Intent != "" {
		run(model.SourceIntentBased, &res.IntentBased, func() ([]model.RetrievalRecord, error) {
			return r.search(ctx, customerID, (opts.TopK+1)/2, &vectorindex.Filter{Intent: opts.Intent}, model.SourceIntentBased, embed)
		})
	}
	g.Wait()

	res.Merged = Merge(res.Recent, res.Semantic, res.IntentBased)
	return res
}

func (r *Retriever) recent(ctx context.Context, customerID string, limit int) ([]model.RetrievalRecord, error) {
	if r.messages == nil {
		return []model.RetrievalRecord{}, nil
	}
	msgs, err := r.messages.GetCustomerMessages(ctx, customerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.RetrievalRecord, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.RetrievalRecord{
			Document: m.Content,
			Source:   model.SourceRecent,
			Score:    RecentScore,
			Metadata: model.RecordMeta{
				MessageID:  m.ID,
				SessionID:  m.SessionID,
				Timestamp:  m.SentAt.UTC().Format(time.RFC3339Nano),
				SenderType: m.SenderType,
				Intent:     m.Intent,
			},
		})
	}
	return out, nil
}

// embedFunc returns the query vector, computing it at most once per Retrieve.
type embedFunc func() (embedding.Vector, error)

func (r *Retriever) semantic(ctx context.Context, customerID, message string, topK int, embed embedFunc) ([]model.RetrievalRecord, error) {
	key := SemanticCacheKey(customerID, message)
	if r.cache != nil {
		if recs, ok := r.cache.Get(key); ok {
			return recs, nil
		}
	}
	recs, err := r.search(ctx, customerID, topK, nil, model.SourceSemantic, embed)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(key, recs)
	}
	return recs, nil
}

func (r *Retriever) search(ctx context.Context, customerID string, topK int, f *vectorindex.Filter, src model.Source, embed embedFunc) ([]model.RetrievalRecord, error) {
	if r.index == nil {
		return nil, errNoIndex
	}
	vec, err := embed()
	if err != nil {
		return nil, err
	}
	matches, err := r.index.Query(ctx, customerID, vec, topK, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.RetrievalRecord, 0, len(matches))
	for _, m := range matches {
		out = append(out, model.RetrievalRecord{
			Document: m.Text,
			Source:   src,
			Score:    vectorindex.Score(m.Distance),
			Metadata: m.Metadata,
		})
	}
	return out, nil
}

// SemanticCacheKey keys the retrieval cache by customer and message prefix.
func SemanticCacheKey(customerID, message string) string {
	runes := []rune(message)
	if len(runes) > semanticKeyPrefix {
		runes = runes[:semanticKeyPrefix]
	}
	return customerID + ":" + string(runes)
}

// Merge concatenates the lists in order, keeps the first record per message
// id (or document text), sorts by score and caps the result at MaxMerged.
func Merge(lists ...[]model.RetrievalRecord) []model.RetrievalRecord {
	seen := make(map[string]bool)
	merged := []model.RetrievalRecord{}
	for _, list := range lists {
		for _, rec := range list {
			k := rec.DedupKey()
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, rec)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > MaxMerged {
		merged = merged[:MaxMerged]
	}
	return merged
}
