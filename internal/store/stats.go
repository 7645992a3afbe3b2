package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath            string         `json:"db_path"`
	DBSizeBytes       int64          `json:"db_size_bytes"`
	Customers         int            `json:"customers"`
	Sessions          int            `json:"sessions"`
	Messages          int            `json:"messages"`
	Insights          int            `json:"insights"`
	FallbackInsights  int            `json:"fallback_insights"`
	PreferenceChanges int            `json:"preference_changes"`
	Senders           []SenderStats  `json:"senders"`
	FallbackReasons   map[string]int `json:"fallback_reasons,omitempty"`
}

// SenderStats holds per-sender message counts.
type SenderStats struct {
	SenderType string `json:"sender_type"`
	Count      int    `json:"count"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath, FallbackReasons: map[string]int{}}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&st.Customers)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.Sessions)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights`).Scan(&st.Insights)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insights WHERE fallback = 1`).Scan(&st.FallbackInsights)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM preference_history`).Scan(&st.PreferenceChanges)

	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_type, COUNT(*) as cnt FROM messages
		GROUP BY sender_type ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var ss SenderStats
		rows.Scan(&ss.SenderType, &ss.Count)
		st.Senders = append(st.Senders, ss)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT reason, COUNT(*) FROM insights
		WHERE fallback = 1 AND reason IS NOT NULL GROUP BY reason`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int
		rows.Scan(&reason, &n)
		st.FallbackReasons[reason] = n
	}

	return st, nil
}
