package model

import "time"

// Source tags a retrieval record with the source that produced it.
type Source string

const (
	SourceRecent      Source = "recent"
	SourceSemantic    Source = "semantic"
	SourceIntentBased Source = "intent_based"
)

// RecordMeta is the metadata carried by every retrieved or indexed document.
type RecordMeta struct {
	MessageID  string `json:"message_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"` // RFC3339
	SenderType string `json:"sender_type,omitempty"`
	Intent     string `json:"intent,omitempty"`
}

// Time parses the timestamp. ok is false when it is missing or malformed.
func (m RecordMeta) Time() (t time.Time, ok bool) {
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RetrievalRecord is one document produced by a retrieval source.
type RetrievalRecord struct {
	Document string     `json:"document"`
	Source   Source     `json:"source"`
	Score    float64    `json:"score"`
	Metadata RecordMeta `json:"metadata"`
}

// DedupKey is the message id, or the document text when there is none.
func (r RetrievalRecord) DedupKey() string {
	if r.Metadata.MessageID != "" {
		return "id:" + r.Metadata.MessageID
	}
	return "doc:" + r.Document
}

// ScoredMemory is a retrieval record with its merger relevance score.
type ScoredMemory struct {
	RetrievalRecord
	Relevance float64 `json:"relevance"`
}

// TimeSpan summarizes the age range of merged memories.
type TimeSpan struct {
	Oldest   string `json:"oldest"`
	Newest   string `json:"newest"`
	SpanDays int    `json:"span_days"`
}

// MergeMetadata describes how a MergedContext was built.
type MergeMetadata struct {
	TotalMemories   int       `json:"total_memories"`
	DedupedCount    int       `json:"deduped_count"`
	DroppedCount    int       `json:"dropped_count,omitempty"`
	EstimatedTokens int       `json:"estimated_tokens"`
	Truncated       bool      `json:"truncated,omitempty"`
	TimeSpan        *TimeSpan `json:"time_span,omitempty"`
}

// CustomerFacts is the structured profile view embedded in a merged context.
type CustomerFacts struct {
	Name               string         `json:"name,omitempty"`
	Preferences        map[string]any `json:"preferences,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Summary            string         `json:"summary,omitempty"`
	RecentIntents      []string       `json:"recent_intents,omitempty"`
	CommunicationStyle string         `json:"communication_style"`
}

// MergedContext is the fused, ranked and token-bounded context for one request.
type MergedContext struct {
	CustomerFacts CustomerFacts  `json:"customer_facts"`
	Memories      []ScoredMemory `json:"memories"`
	Session       SessionContext `json:"session"`
	Metadata      MergeMetadata  `json:"metadata"`
}
