package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/contextai/internal/model"
)

// SaveInsight persists an insight produced for a message.
func (s *SQLiteStore) SaveInsight(ctx context.Context, p SaveInsightParams) (*model.StoredInsight, error) {
	payload, err := json.Marshal(p.Insight)
	if err != nil {
		return nil, fmt.Errorf("encode insight: %w", err)
	}
	si := &model.StoredInsight{
		ID:         s.newID(),
		CustomerID: p.CustomerID,
		SessionID:  p.SessionID,
		MessageID:  p.MessageID,
		Insight:    p.Insight,
		CreatedAt:  time.Now().UTC(),
	}
	fallback := 0
	if p.Insight.Fallback {
		fallback = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO insights (id, customer_id, session_id, message_id, payload, fallback, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		si.ID, si.CustomerID, nullable(si.SessionID), nullable(si.MessageID), string(payload),
		fallback, nullable(p.Insight.FallbackReason), formatTime(si.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert insight: %w", err)
	}
	return si, nil
}

// ListInsights returns a customer's insights, newest first.
func (s *SQLiteStore) ListInsights(ctx context.Context, customerID string, limit int) ([]model.StoredInsight, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, session_id, message_id, payload, created_at FROM insights
		 WHERE customer_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.StoredInsight{}
	for rows.Next() {
		var si model.StoredInsight
		var session, message *string
		var payload, created string
		if err := rows.Scan(&si.ID, &si.CustomerID, &session, &message, &payload, &created); err != nil {
			return nil, err
		}
		if session != nil {
			si.SessionID = *session
		}
		if message != nil {
			si.MessageID = *message
		}
		if err := json.Unmarshal([]byte(payload), &si.Insight); err != nil {
			return nil, fmt.Errorf("decode insight %s: %w", si.ID, err)
		}
		si.CreatedAt = parseTime(created)
		out = append(out, si)
	}
	return out, rows.Err()
}
