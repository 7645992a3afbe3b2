package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/model"
)

// SQLiteIndex keeps vectors in a SQLite table and ranks them by brute-force
// cosine distance within one customer's rows.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex creates the vector table on db if needed.
func NewSQLiteIndex(db *sql.DB) (*SQLiteIndex, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS message_vectors (
		id          TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		embedding   BLOB NOT NULL,
		document    TEXT NOT NULL,
		message_id  TEXT,
		session_id  TEXT,
		sender_type TEXT,
		intent      TEXT,
		timestamp   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_customer ON message_vectors(customer_id);
	CREATE INDEX IF NOT EXISTS idx_vectors_intent ON message_vectors(customer_id, intent);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate vectors: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Add inserts or replaces doc.
func (x *SQLiteIndex) Add(ctx context.Context, doc Document) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO message_vectors
		 (id, customer_id, embedding, document, message_id, session_id, sender_type, intent, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CustomerID, encodeVector(doc.Embedding), doc.Text,
		doc.Metadata.MessageID, doc.Metadata.SessionID, doc.Metadata.SenderType,
		doc.Metadata.Intent, doc.Metadata.Timestamp)
	if err != nil {
		return aierr.Wrap(aierr.KindVectorSearch, "index add", err)
	}
	return nil
}

// Query returns the topK nearest documents of one customer.
func (x *SQLiteIndex) Query(ctx context.Context, customerID string, vec []float32, topK int, f *Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	query := `SELECT id, embedding, document, message_id, session_id, sender_type, intent, timestamp
	          FROM message_vectors WHERE customer_id = ?`
	args := []any{customerID}
	if f != nil && f.Intent != "" {
		query += ` AND intent = ?`
		args = append(args, f.Intent)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, aierr.Wrap(aierr.KindVectorSearch, "index query", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m                                 Match
			blob                              []byte
			msgID, sessID, sender, intent, ts sql.NullString
		)
		if err := rows.Scan(&m.ID, &blob, &m.Text, &msgID, &sessID, &sender, &intent, &ts); err != nil {
			return nil, aierr.Wrap(aierr.KindVectorSearch, "index scan", err)
		}
		m.Metadata = model.RecordMeta{
			MessageID:  msgID.String,
			SessionID:  sessID.String,
			SenderType: sender.String,
			Intent:     intent.String,
			Timestamp:  ts.String,
		}
		m.Distance = 1 - embedding.CosineSimilarity(vec, decodeVector(blob))
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, aierr.Wrap(aierr.KindVectorSearch, "index rows", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the number of indexed documents.
func (x *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_vectors`).Scan(&n)
	return n, err
}

// Has reports whether a document with id is indexed.
func (x *SQLiteIndex) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_vectors WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
