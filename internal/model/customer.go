// Package model defines the core customer, message and insight data types.
package model

import "time"

// MaxIntentHistory bounds the extracted intent history kept on a profile.
const MaxIntentHistory = 20

// CustomerProfile is the durable, accumulated view of one customer.
type CustomerProfile struct {
	ID                string         `json:"id"`
	ExternalID        string         `json:"external_id,omitempty"`
	Name              string         `json:"name,omitempty"`
	Email             string         `json:"email,omitempty"`
	Preferences       map[string]any `json:"preferences"`
	ExtractedIntents  []IntentRecord `json:"extracted_intents"`
	Tags              []string       `json:"tags"`
	Summary           string         `json:"summary,omitempty"`
	SummaryVersion    int            `json:"summary_version"`
	LastSummaryUpdate *time.Time     `json:"last_summary_update,omitempty"`
	UpdateTrigger     string         `json:"update_trigger,omitempty"`
	TotalSessions     int            `json:"total_sessions"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IntentRecord is one entry of a profile's intent history.
type IntentRecord struct {
	Intent    string    `json:"intent"`
	Urgency   string    `json:"urgency,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// HasIntent reports whether the intent was ever recorded for this customer.
func (p *CustomerProfile) HasIntent(intent string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.ExtractedIntents {
		if r.Intent == intent {
			return true
		}
	}
	return false
}

// DisplayName returns the customer's name or fallback when unknown.
func (p *CustomerProfile) DisplayName(fallback string) string {
	if p == nil || p.Name == "" {
		return fallback
	}
	return p.Name
}

// Clone returns a deep copy safe to hand to another goroutine.
func (p *CustomerProfile) Clone() *CustomerProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Preferences = CloneMap(p.Preferences)
	c.ExtractedIntents = append([]IntentRecord(nil), p.ExtractedIntents...)
	c.Tags = append([]string(nil), p.Tags...)
	if p.LastSummaryUpdate != nil {
		t := *p.LastSummaryUpdate
		c.LastSummaryUpdate = &t
	}
	return &c
}

// PreferenceChange is one immutable row of the preference audit log.
type PreferenceChange struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	SessionID  string    `json:"session_id,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// CloneMap deep-copies nested maps and slices of a JSON-like value tree.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
