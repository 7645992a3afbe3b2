package store

import (
	"context"

	"github.com/rcliao/contextai/internal/model"
)

// CustomerExport is everything stored about one customer.
type CustomerExport struct {
	Profile           *model.CustomerProfile   `json:"profile"`
	Sessions          []model.Session          `json:"sessions"`
	Messages          []model.Message          `json:"messages"`
	PreferenceHistory []model.PreferenceChange `json:"preference_history"`
	Insights          []model.StoredInsight    `json:"insights"`
}

// ExportCustomer gathers a customer's profile and full history.
func (s *SQLiteStore) ExportCustomer(ctx context.Context, customerID string) (*CustomerExport, error) {
	p, err := s.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := &CustomerExport{Profile: p}

	if out.Sessions, err = s.ListSessions(ctx, customerID, 100000); err != nil {
		return nil, err
	}
	if out.Messages, err = s.ListMessages(ctx, ListMessagesParams{CustomerID: customerID}); err != nil {
		return nil, err
	}
	if out.PreferenceHistory, err = s.ListPreferenceHistory(ctx, customerID, 100000); err != nil {
		return nil, err
	}
	if out.Insights, err = s.ListInsights(ctx, customerID, 100000); err != nil {
		return nil, err
	}
	return out, nil
}
