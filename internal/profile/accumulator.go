package profile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/store"
)

// HistoryConfidence is recorded on every preference audit row.
const HistoryConfidence = 0.8

// Store is the subset of the profile store the accumulator needs.
type Store interface {
	MutateProfile(ctx context.Context, id string, fn store.ProfileMutation) (*model.CustomerProfile, error)
	AppendPreferenceHistory(ctx context.Context, rows []model.PreferenceChange) error
}

// Extracted is the profile-relevant part of an insight.
type Extracted struct {
	Preferences map[string]any
	Intent      string
	Urgency     string
	SessionID   string
	Tags        []string
}

// Accumulator folds insights into profiles without ever discarding data.
type Accumulator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewAccumulator creates an accumulator.
func NewAccumulator(s Store, logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{store: s, logger: logger, now: time.Now}
}

// UpdateFromInsight merges preferences, appends the intent and unions tags in
// one transaction, then logs each preference to the history table.
func (a *Accumulator) UpdateFromInsight(ctx context.Context, customerID string, ex Extracted) (*model.CustomerProfile, error) {
	p, err := a.store.MutateProfile(ctx, customerID, func(p *model.CustomerProfile) error {
		if len(ex.Preferences) > 0 {
			p.Preferences = DeepMerge(p.Preferences, ex.Preferences)
		}
		if ex.Intent != "" {
			p.ExtractedIntents = append(p.ExtractedIntents, model.IntentRecord{
				Intent:    ex.Intent,
				Urgency:   ex.Urgency,
				SessionID: ex.SessionID,
				At:        a.now().UTC(),
			})
			if n := len(p.ExtractedIntents); n > model.MaxIntentHistory {
				p.ExtractedIntents = p.ExtractedIntents[n-model.MaxIntentHistory:]
			}
		}
		p.Tags = append(p.Tags, ex.Tags...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("accumulate profile: %w", err)
	}

	if rows := historyRows(customerID, ex); len(rows) > 0 {
		if err := a.store.AppendPreferenceHistory(ctx, rows); err != nil {
			a.logger.Warn("preference history not recorded", zap.String("customer_id", customerID), zap.Error(err))
		}
	}
	a.logger.Debug("profile updated from insight",
		zap.String("customer_id", customerID), zap.Int("preferences", len(p.Preferences)))
	return p, nil
}

func historyRows(customerID string, ex Extracted) []model.PreferenceChange {
	keys := make([]string, 0, len(ex.Preferences))
	for k, v := range ex.Preferences {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	rows := make([]model.PreferenceChange, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, model.PreferenceChange{
			CustomerID: customerID,
			Key:        k,
			Value:      formatValue(ex.Preferences[k]),
			SessionID:  ex.SessionID,
			Confidence: HistoryConfidence,
		})
	}
	return rows
}
