package model

import "time"

// Sender types.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
)

// Message is one chat message in a session.
type Message struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	SessionID  string    `json:"session_id"`
	SenderType string    `json:"sender_type"`
	Content    string    `json:"content"`
	Intent     string    `json:"intent,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Session is one support conversation.
type Session struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customer_id"`
	Status         string    `json:"status"`
	DetectedIntent string    `json:"detected_intent,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

// SessionContext is the session snapshot fed into the merger.
type SessionContext struct {
	SessionID      string    `json:"session_id,omitempty"`
	DetectedIntent string    `json:"detected_intent,omitempty"`
	Messages       []Message `json:"messages"`
}
