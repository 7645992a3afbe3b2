// Package store persists customers, sessions, messages, preference history and
// insights in SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/contextai/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// CreateCustomerParams holds parameters for creating a customer.
type CreateCustomerParams struct {
	ID         string // optional; generated when empty
	ExternalID string
	Name       string
	Email      string
	Tags       []string
}

// AddMessageParams holds parameters for storing a message.
type AddMessageParams struct {
	CustomerID string
	SessionID  string
	SenderType string
	Content    string
	Intent     string
	SentAt     time.Time // defaults to now
}

// ListMessagesParams filters a message listing.
type ListMessagesParams struct {
	CustomerID string
	SenderType string
	Limit      int
}

// SaveInsightParams holds parameters for persisting an insight.
type SaveInsightParams struct {
	CustomerID string
	SessionID  string
	MessageID  string
	Insight    model.Insight
}

// ProfileMutation edits a profile inside a transaction. Returning an error
// aborts the write.
type ProfileMutation func(p *model.CustomerProfile) error

// Store defines the persistence interface used by the pipeline and CLI.
type Store interface {
	CreateCustomer(ctx context.Context, p CreateCustomerParams) (*model.CustomerProfile, error)
	FindByID(ctx context.Context, id string) (*model.CustomerProfile, error)

	// MutateProfile applies fn to the stored profile atomically and returns
	// the updated profile.
	MutateProfile(ctx context.Context, id string, fn ProfileMutation) (*model.CustomerProfile, error)
	AppendPreferenceHistory(ctx context.Context, rows []model.PreferenceChange) error

	CreateSession(ctx context.Context, customerID string) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	AddMessage(ctx context.Context, p AddMessageParams) (*model.Message, error)

	// GetCustomerMessages returns the latest limit messages, oldest first.
	GetCustomerMessages(ctx context.Context, customerID string, limit int) ([]model.Message, error)
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error)

	SaveInsight(ctx context.Context, p SaveInsightParams) (*model.StoredInsight, error)

	Close() error
}
