// Package contextmerge fuses profile facts, retrieved memories and the live
// session into one ranked, token-bounded context.
package contextmerge

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/prompt"
)

const (
	// DefaultMaxTokens is the memory budget when Options leaves it unset.
	DefaultMaxTokens = 2000
	// DuplicateThreshold is the Jaccard similarity above which a memory is a duplicate.
	DuplicateThreshold = 0.9

	keepVerbatim   = 5
	maxGreedyExtra = 5
	recentIntents  = 5
	decayPeriod    = 7 * 24 * time.Hour
	defaultScore   = 0.5
	intentBonus    = 0.2
	recencyWeight  = 0.3
	semanticWeight = 0.5
)

// Options tune a merge.
type Options struct {
	MaxTokens int `mapstructure:"max_tokens"`
}

// Merger is stateless apart from its clock and logger.
type Merger struct {
	now    func() time.Time
	logger *zap.Logger
}

// New creates a merger.
func New(logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{now: time.Now, logger: logger}
}

// WithClock replaces the clock used for recency decay.
func (m *Merger) WithClock(now func() time.Time) *Merger {
	m.now = now
	return m
}

// Merge builds the merged context. profile may be nil.
func (m *Merger) Merge(profile *model.CustomerProfile, memories []model.RetrievalRecord, session model.SessionContext, opts Options) *model.MergedContext {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if session.Messages == nil {
		session.Messages = []model.Message{}
	}

	deduped := Dedupe(memories)
	scored := m.rank(deduped, session.DetectedIntent)
	kept, dropped := trim(scored, opts.MaxTokens)
	if dropped > 0 {
		m.logger.Debug("memories truncated to budget",
			zap.Int("total", len(scored)), zap.Int("kept", len(kept)), zap.Int("max_tokens", opts.MaxTokens))
	}

	return &model.MergedContext{
		CustomerFacts: facts(profile, memories),
		Memories:      kept,
		Session:       session,
		Metadata: model.MergeMetadata{
			TotalMemories:   len(memories),
			DedupedCount:    len(deduped),
			DroppedCount:    dropped,
			EstimatedTokens: estimate(kept),
			Truncated:       dropped > 0,
			TimeSpan:        timeSpan(memories),
		},
	}
}

// Dedupe drops memories whose word set is more than 90% similar to an
// already accepted one. Order is preserved.
func Dedupe(memories []model.RetrievalRecord) []model.RetrievalRecord {
	out := make([]model.RetrievalRecord, 0, len(memories))
	sets := make([]map[string]struct{}, 0, len(memories))
	for _, mem := range memories {
		words := wordSet(mem.Document)
		dup := false
		for _, s := range sets {
			if jaccard(words, s) > DuplicateThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		out = append(out, mem)
		sets = append(sets, words)
	}
	return out
}

// Similarity is the Jaccard index of the lowercased word sets of a and b.
func Similarity(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func (m *Merger) rank(memories []model.RetrievalRecord, intent string) []model.ScoredMemory {
	now := m.now()
	out := make([]model.ScoredMemory, 0, len(memories))
	for _, mem := range memories {
		out = append(out, model.ScoredMemory{RetrievalRecord: mem, Relevance: relevance(mem, intent, now)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// relevance is 0.3 recency + 0.5 semantic score + 0.2 on an intent match.
func relevance(mem model.RetrievalRecord, intent string, now time.Time) float64 {
	recency := 0.0
	if t, ok := mem.Metadata.Time(); ok {
		recency = math.Exp(-float64(now.Sub(t)) / float64(decayPeriod))
	}
	semantic := mem.Score
	if semantic == 0 {
		semantic = defaultScore
	}
	score := recency*recencyWeight + semantic*semanticWeight
	if intent != "" && mem.Metadata.Intent == intent {
		score += intentBonus
	}
	return score
}

// trim keeps the memories within maxTokens. The top five survive as-is,
// up to five more are packed greedily, and the newest memory is always kept.
func trim(scored []model.ScoredMemory, maxTokens int) ([]model.ScoredMemory, int) {
	if estimate(scored) <= maxTokens {
		return scored, 0
	}

	n := min(keepVerbatim, len(scored))
	kept := append([]model.ScoredMemory(nil), scored[:n]...)
	used := estimate(kept)
	picked := make(map[int]bool, len(scored))
	for i := range n {
		picked[i] = true
	}

	greedy := []int{}
	for i := n; i < len(scored) && len(greedy) < maxGreedyExtra; i++ {
		cost := prompt.EstimateTokens(scored[i].Document)
		if used+cost > maxTokens {
			continue
		}
		used += cost
		greedy = append(greedy, i)
		picked[i] = true
	}

	if newest := newestIndex(scored); newest >= 0 && !picked[newest] {
		if len(greedy) > 0 {
			delete(picked, greedy[len(greedy)-1])
			greedy[len(greedy)-1] = newest
		} else {
			greedy = append(greedy, newest)
		}
		picked[newest] = true
	}

	for _, i := range greedy {
		kept = append(kept, scored[i])
	}
	return kept, len(scored) - len(kept)
}

func newestIndex(scored []model.ScoredMemory) int {
	idx := -1
	var newest time.Time
	for i, s := range scored {
		t, ok := s.Metadata.Time()
		if !ok {
			continue
		}
		if idx < 0 || t.After(newest) {
			idx, newest = i, t
		}
	}
	return idx
}

func estimate(mems []model.ScoredMemory) int {
	chars := 0
	for _, m := range mems {
		chars += len([]rune(m.Document))
	}
	return (chars + 3) / 4
}

func facts(p *model.CustomerProfile, memories []model.RetrievalRecord) model.CustomerFacts {
	f := model.CustomerFacts{CommunicationStyle: Style(memories)}
	if p == nil {
		return f
	}
	f.Name = p.Name
	f.Preferences = model.CloneMap(p.Preferences)
	f.Tags = append([]string(nil), p.Tags...)
	f.Summary = p.Summary
	start := max(0, len(p.ExtractedIntents)-recentIntents)
	for _, r := range p.ExtractedIntents[start:] {
		f.RecentIntents = append(f.RecentIntents, r.Intent)
	}
	return f
}

// Style infers a communication style from the average memory length.
func Style(memories []model.RetrievalRecord) string {
	if len(memories) == 0 {
		return "unknown"
	}
	total := 0
	for _, m := range memories {
		total += len([]rune(m.Document))
	}
	avg := float64(total) / float64(len(memories))
	switch {
	case avg < 50:
		return "concise"
	case avg < 150:
		return "moderate"
	default:
		return "detailed"
	}
}

func timeSpan(memories []model.RetrievalRecord) *model.TimeSpan {
	var oldest, newest time.Time
	found := false
	for _, m := range memories {
		t, ok := m.Metadata.Time()
		if !ok {
			continue
		}
		if !found || t.Before(oldest) {
			oldest = t
		}
		if !found || t.After(newest) {
			newest = t
		}
		found = true
	}
	if !found {
		return nil
	}
	return &model.TimeSpan{
		Oldest:   oldest.UTC().Format(time.RFC3339Nano),
		Newest:   newest.UTC().Format(time.RFC3339Nano),
		SpanDays: int(newest.Sub(oldest) / (24 * time.Hour)),
	}
}
