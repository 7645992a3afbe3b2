package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/llm"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/prompt"
	"github.com/rcliao/contextai/internal/store"
)

const (
	// SummaryMaxWords caps a regenerated summary.
	SummaryMaxWords = 200
	// UltraShortWords is the shortest hierarchy level.
	UltraShortWords = 50
	// StaleAfter forces a regeneration when the summary is older than this.
	StaleAfter = 30 * 24 * time.Hour
)

// Signal is the new information considered for a summary update.
type Signal = prompt.SummarySignal

// ProfileWriter persists summary changes.
type ProfileWriter interface {
	MutateProfile(ctx context.Context, id string, fn store.ProfileMutation) (*model.CustomerProfile, error)
}

// Hierarchy is a summary at three levels of detail.
type Hierarchy struct {
	UltraShort string `json:"ultra_short"`
	Standard   string `json:"standard"`
	Detailed   string `json:"detailed"`
}

// Summarizer maintains the incremental customer summary.
type Summarizer struct {
	store   ProfileWriter
	llm     llm.Completer
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewSummarizer creates a summarizer. completer may be nil, in which case
// every update takes the append fallback.
func NewSummarizer(s ProfileWriter, completer llm.Completer, timeout time.Duration, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{store: s, llm: completer, timeout: timeout, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for staleness and fallback stamps.
func (s *Summarizer) WithClock(now func() time.Time) *Summarizer {
	s.now = now
	return s
}

// ShouldUpdate reports whether the signal warrants regenerating the summary.
func (s *Summarizer) ShouldUpdate(existing *model.CustomerProfile, sig Signal) bool {
	if existing == nil || existing.Summary == "" {
		return true
	}
	if sig.Intent != "" && !existing.HasIntent(sig.Intent) {
		return true
	}
	if existing.LastSummaryUpdate == nil || s.now().Sub(*existing.LastSummaryUpdate) > StaleAfter {
		return true
	}
	if len(sig.Preferences) > 0 {
		return true
	}
	return sig.Urgency == model.UrgencyHigh || sig.Urgency == model.UrgencyCritical
}

// Update regenerates the summary when ShouldUpdate holds. before must be the
// profile as it was before the current message was accumulated. When the
// stored summary moved on since before was read, or the model fails, the
// signal is appended as a dated note instead of replacing the text.
func (s *Summarizer) Update(ctx context.Context, before *model.CustomerProfile, sig Signal) (bool, error) {
	if before == nil {
		return false, fmt.Errorf("summary update: %w", store.ErrNotFound)
	}
	if !s.ShouldUpdate(before, sig) {
		s.logger.Debug("summary update not needed", zap.String("customer_id", before.ID))
		return false, nil
	}

	entry := s.entry(sig)
	summary, genErr := s.generate(ctx, before, sig)
	if genErr != nil {
		s.logger.Warn("summary generation failed, appending", zap.String("customer_id", before.ID), zap.Error(genErr))
	}

	trigger := sig.Intent
	if trigger == "" {
		trigger = model.IntentUnknown
	}
	updated, err := s.store.MutateProfile(ctx, before.ID, func(p *model.CustomerProfile) error {
		switch {
		case genErr != nil:
			p.Summary = appendEntry(p.Summary, entry)
		case p.SummaryVersion != before.SummaryVersion:
			// Another update landed since before was read; keep its text.
			s.logger.Debug("summary changed during regeneration, appending",
				zap.String("customer_id", before.ID), zap.Int("seen", before.SummaryVersion), zap.Int("current", p.SummaryVersion))
			p.Summary = appendEntry(p.Summary, entry)
		default:
			p.Summary = summary
		}
		now := s.now().UTC()
		p.SummaryVersion++
		p.LastSummaryUpdate = &now
		p.UpdateTrigger = trigger
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save summary: %w", err)
	}
	s.logger.Info("customer summary updated",
		zap.String("customer_id", before.ID), zap.Int("version", updated.SummaryVersion), zap.String("trigger", trigger))
	return true, nil
}

func (s *Summarizer) generate(ctx context.Context, p *model.CustomerProfile, sig Signal) (string, error) {
	text, err := llm.CompleteWithTimeout(ctx, s.llm, prompt.SummaryUpdate(p, sig, SummaryMaxWords), s.timeout,
		llm.Options{Temperature: 0.5, MaxTokens: 300})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty summary")
	}
	return limitWords(text, SummaryMaxWords), nil
}

// entry is the dated note appended when the summary cannot be regenerated.
func (s *Summarizer) entry(sig Signal) string {
	intent := sig.Intent
	if intent == "" {
		intent = "Interaction"
	}
	detail := sig.Summary
	if detail == "" {
		detail = "No details"
	}
	return fmt.Sprintf("[%s] %s: %s", s.now().UTC().Format(time.RFC3339), intent, detail)
}

func appendEntry(summary, entry string) string {
	return strings.TrimSpace(summary + "\n\n" + entry)
}

// Hierarchy condenses the profile summary to 50 and 200 words alongside the
// full text. Levels fall back to word truncation when the model fails.
func (s *Summarizer) Hierarchy(ctx context.Context, p *model.CustomerProfile) Hierarchy {
	if p == nil || p.Summary == "" {
		return Hierarchy{}
	}
	return Hierarchy{
		UltraShort: s.level(ctx, p.Summary, UltraShortWords),
		Standard:   s.level(ctx, p.Summary, SummaryMaxWords),
		Detailed:   p.Summary,
	}
}

func (s *Summarizer) level(ctx context.Context, summary string, maxWords int) string {
	text, err := llm.CompleteWithTimeout(ctx, s.llm, prompt.Condense(summary, maxWords), s.timeout,
		llm.Options{Temperature: 0.3, MaxTokens: maxWords * 2})
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	return TruncateWords(summary, maxWords)
}

// TruncateWords keeps the first n words, adding "..." when anything was cut.
func TruncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}

// limitWords cuts text to n words, leaving it untouched when it already fits.
func limitWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}
