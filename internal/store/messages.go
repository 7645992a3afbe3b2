package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/contextai/internal/model"
)

// CreateSession opens a new session and bumps the customer's session count.
func (s *SQLiteStore) CreateSession(ctx context.Context, customerID string) (*model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{ID: s.newID(), CustomerID: customerID, Status: "active", StartedAt: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, customer_id, status, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, customerID, sess.Status, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE customers SET total_sessions = total_sessions + 1, updated_at = ? WHERE id = ?`,
		formatTime(now), customerID)
	if err != nil {
		return nil, fmt.Errorf("bump sessions: %w", err)
	}
	return sess, tx.Commit()
}

// GetSession returns a session or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, status, detected_intent, started_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// SetSessionIntent records the intent detected for a session.
func (s *SQLiteStore) SetSessionIntent(ctx context.Context, id, intent string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET detected_intent = ? WHERE id = ?`, intent, id)
	return err
}

// ListSessions returns a customer's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, customerID string, limit int) ([]model.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, status, detected_intent, started_at FROM sessions
		 WHERE customer_id = ? ORDER BY started_at DESC LIMIT ?`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// AddMessage stores one chat message.
func (s *SQLiteStore) AddMessage(ctx context.Context, p AddMessageParams) (*model.Message, error) {
	sent := p.SentAt
	if sent.IsZero() {
		sent = time.Now()
	}
	sender := p.SenderType
	if sender == "" {
		sender = model.SenderCustomer
	}
	m := &model.Message{
		ID:         s.newID(),
		CustomerID: p.CustomerID,
		SessionID:  p.SessionID,
		SenderType: sender,
		Content:    p.Content,
		Intent:     p.Intent,
		SentAt:     sent.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, customer_id, session_id, sender_type, content, intent, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CustomerID, nullable(m.SessionID), m.SenderType, m.Content, nullable(m.Intent), formatTime(m.SentAt))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// GetCustomerMessages returns the latest limit messages, oldest first.
func (s *SQLiteStore) GetCustomerMessages(ctx context.Context, customerID string, limit int) ([]model.Message, error) {
	return s.latestMessages(ctx, "customer_id", customerID, limit)
}

// GetSessionMessages returns the latest limit messages of a session, oldest first.
func (s *SQLiteStore) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	return s.latestMessages(ctx, "session_id", sessionID, limit)
}

func (s *SQLiteStore) latestMessages(ctx context.Context, column, value string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, session_id, sender_type, content, intent, sent_at FROM messages
		 WHERE `+column+` = ? ORDER BY sent_at DESC, id DESC LIMIT ?`, value, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns messages oldest first, optionally filtered.
func (s *SQLiteStore) ListMessages(ctx context.Context, p ListMessagesParams) ([]model.Message, error) {
	query := `SELECT id, customer_id, session_id, sender_type, content, intent, sent_at FROM messages WHERE 1=1`
	var args []any
	if p.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, p.CustomerID)
	}
	if p.SenderType != "" {
		query += ` AND sender_type = ?`
		args = append(args, p.SenderType)
	}
	query += ` ORDER BY sent_at, id`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		var session, intent sql.NullString
		var sent string
		if err := rows.Scan(&m.ID, &m.CustomerID, &session, &m.SenderType, &m.Content, &intent, &sent); err != nil {
			return nil, err
		}
		m.SessionID = session.String
		m.Intent = intent.String
		m.SentAt = parseTime(sent)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanSession(row scanner) (*model.Session, error) {
	var sess model.Session
	var intent sql.NullString
	var started string
	if err := row.Scan(&sess.ID, &sess.CustomerID, &sess.Status, &intent, &started); err != nil {
		return nil, err
	}
	sess.DetectedIntent = intent.String
	sess.StartedAt = parseTime(started)
	return &sess, nil
}
