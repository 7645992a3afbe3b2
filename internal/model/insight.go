package model

import (
	"strings"
	"time"
)

// Urgency levels.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Sentiments.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// IntentUnknown is used whenever no intent could be determined.
const IntentUnknown = "unknown"

// DefaultFallbackSummary is used when a degraded insight carries no summary.
const DefaultFallbackSummary = "Message received. Manual review recommended."

// ValidUrgencies are the allowed urgency levels.
var ValidUrgencies = map[string]bool{
	UrgencyLow:      true,
	UrgencyMedium:   true,
	UrgencyHigh:     true,
	UrgencyCritical: true,
}

// ValidSentiments are the allowed sentiments.
var ValidSentiments = map[string]bool{
	SentimentPositive: true,
	SentimentNeutral:  true,
	SentimentNegative: true,
}

// Insight is the structured analysis of one customer message.
type Insight struct {
	Summary              string         `json:"summary"`
	Intent               string         `json:"intent"`
	Urgency              string         `json:"urgency"`
	Sentiment            string         `json:"sentiment"`
	Recommendations      []string       `json:"recommendations"`
	ExtractedPreferences map[string]any `json:"extracted_preferences"`
	SuggestedResponses   []string       `json:"suggested_responses"`
	Fallback             bool           `json:"fallback"`
	FallbackReason       string         `json:"fallback_reason,omitempty"`
}

// CachedInsight is the last insight produced for a customer.
type CachedInsight struct {
	Insight  Insight   `json:"insight"`
	CachedAt time.Time `json:"cached_at"`
}

// StoredInsight is a persisted insight row.
type StoredInsight struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	SessionID  string    `json:"session_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Insight    Insight   `json:"insight"`
	CreatedAt  time.Time `json:"created_at"`
}

// NormalizeInsight fills defaults so every insight has the same shape.
// Unknown urgency or sentiment values are coerced to medium and neutral.
func NormalizeInsight(in Insight, fallbackSummary string) Insight {
	out := in
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		out.Summary = fallbackSummary
	}
	out.Intent = strings.TrimSpace(out.Intent)
	if out.Intent == "" {
		out.Intent = IntentUnknown
	}
	out.Urgency = strings.ToLower(strings.TrimSpace(out.Urgency))
	if !ValidUrgencies[out.Urgency] {
		out.Urgency = UrgencyMedium
	}
	out.Sentiment = strings.ToLower(strings.TrimSpace(out.Sentiment))
	if !ValidSentiments[out.Sentiment] {
		out.Sentiment = SentimentNeutral
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	if out.SuggestedResponses == nil {
		out.SuggestedResponses = []string{}
	}
	if out.ExtractedPreferences == nil {
		out.ExtractedPreferences = map[string]any{}
	}
	if !out.Fallback {
		out.FallbackReason = ""
	}
	return out
}

// Degraded normalizes a failure-path insight and marks it as a fallback.
func Degraded(in Insight, reason string) Insight {
	in.Fallback = true
	in.FallbackReason = reason
	return NormalizeInsight(in, DefaultFallbackSummary)
}
