package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/contextai/internal/model"
)

const customerColumns = `id, external_id, name, email, preferences, extracted_intents, tags,
	summary, summary_version, last_summary_update, update_trigger, total_sessions, created_at, updated_at`

// CreateCustomer inserts a new customer profile.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, p CreateCustomerParams) (*model.CustomerProfile, error) {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = s.newID()
	}
	tags, _ := json.Marshal(uniqueStrings(p.Tags))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, external_id, name, email, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(p.ExternalID), nullable(p.Name), nullable(p.Email), string(tags),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return s.FindByID(ctx, id)
}

// EnsureCustomer returns the customer with id, creating an empty profile on
// first contact.
func (s *SQLiteStore) EnsureCustomer(ctx context.Context, id string) (*model.CustomerProfile, error) {
	p, err := s.FindByID(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.CreateCustomer(ctx, CreateCustomerParams{ID: id})
}

// FindByID returns the customer profile or ErrNotFound.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*model.CustomerProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	p, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return p, nil
}

// FindByExternalID looks a customer up by the id of an outside system.
func (s *SQLiteStore) FindByExternalID(ctx context.Context, externalID string) (*model.CustomerProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE external_id = ?`, externalID)
	p, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer external %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return p, nil
}

// ListCustomerIDs returns all customer ids, oldest first.
func (s *SQLiteStore) ListCustomerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MutateProfile reads, edits and writes a profile in one transaction.
func (s *SQLiteStore) MutateProfile(ctx context.Context, id string, fn ProfileMutation) (*model.CustomerProfile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	p.ID = id
	p.UpdatedAt = time.Now().UTC()

	prefs, err := json.Marshal(nonNilMap(p.Preferences))
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	intents, _ := json.Marshal(nonNilIntents(p.ExtractedIntents))
	tags, _ := json.Marshal(uniqueStrings(p.Tags))

	var lastSummary *string
	if p.LastSummaryUpdate != nil {
		t := formatTime(*p.LastSummaryUpdate)
		lastSummary = &t
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE customers SET external_id = ?, name = ?, email = ?, preferences = ?, extracted_intents = ?,
		 tags = ?, summary = ?, summary_version = ?, last_summary_update = ?, update_trigger = ?,
		 total_sessions = ?, updated_at = ? WHERE id = ?`,
		nullable(p.ExternalID), nullable(p.Name), nullable(p.Email), string(prefs), string(intents),
		string(tags), nullable(p.Summary), p.SummaryVersion, lastSummary, nullable(p.UpdateTrigger),
		p.TotalSessions, formatTime(p.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update customer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

// AppendPreferenceHistory inserts audit rows. Rows are never updated.
func (s *SQLiteStore) AppendPreferenceHistory(ctx context.Context, rows []model.PreferenceChange) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range rows {
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO preference_history (id, customer_id, preference_key, preference_value, source_session_id, confidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.newID(), r.CustomerID, r.Key, r.Value, nullable(r.SessionID), r.Confidence, formatTime(created))
		if err != nil {
			return fmt.Errorf("insert preference history: %w", err)
		}
	}
	return tx.Commit()
}

// ListPreferenceHistory returns a customer's preference changes, newest first.
func (s *SQLiteStore) ListPreferenceHistory(ctx context.Context, customerID string, limit int) ([]model.PreferenceChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, customer_id, preference_key, preference_value, source_session_id, confidence, created_at
		 FROM preference_history WHERE customer_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PreferenceChange
	for rows.Next() {
		var c model.PreferenceChange
		var session sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.Key, &c.Value, &session, &c.Confidence, &created); err != nil {
			return nil, err
		}
		c.SessionID = session.String
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCustomer(row scanner) (*model.CustomerProfile, error) {
	var p model.CustomerProfile
	var externalID, name, email, summary, lastSummary, trigger sql.NullString
	var prefs, intents, tags, createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &externalID, &name, &email, &prefs, &intents, &tags,
		&summary, &p.SummaryVersion, &lastSummary, &trigger, &p.TotalSessions, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ExternalID = externalID.String
	p.Name = name.String
	p.Email = email.String
	p.Summary = summary.String
	p.UpdateTrigger = trigger.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	if lastSummary.Valid {
		t := parseTime(lastSummary.String)
		p.LastSummaryUpdate = &t
	}
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	json.Unmarshal([]byte(intents), &p.ExtractedIntents)
	json.Unmarshal([]byte(tags), &p.Tags)

	p.Preferences = nonNilMap(p.Preferences)
	p.ExtractedIntents = nonNilIntents(p.ExtractedIntents)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilIntents(r []model.IntentRecord) []model.IntentRecord {
	if r == nil {
		return []model.IntentRecord{}
	}
	return r
}

func uniqueStrings(in []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
