package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeInsight_Defaults(t *testing.T) {
	got := NormalizeInsight(Insight{}, "Unable to generate summary")

	assert.Equal(t, "Unable to generate summary", got.Summary)
	assert.Equal(t, IntentUnknown, got.Intent)
	assert.Equal(t, UrgencyMedium, got.Urgency)
	assert.Equal(t, SentimentNeutral, got.Sentiment)
	assert.NotNil(t, got.Recommendations)
	assert.NotNil(t, got.SuggestedResponses)
	assert.NotNil(t, got.ExtractedPreferences)
	assert.False(t, got.Fallback)
	assert.Empty(t, got.FallbackReason)
}

func TestNormalizeInsight_CoercesInvalidEnums(t *testing.T) {
	tests := []struct {
		name          string
		urgency       string
		sentiment     string
		wantUrgency   string
		wantSentiment string
	}{
		{"valid", "high", "negative", UrgencyHigh, SentimentNegative},
		{"mixed case", " CRITICAL ", "Positive", UrgencyCritical, SentimentPositive},
		{"unknown values", "extreme", "furious", UrgencyMedium, SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeInsight(Insight{Urgency: tt.urgency, Sentiment: tt.sentiment}, "x")
			assert.Equal(t, tt.wantUrgency, got.Urgency)
			assert.Equal(t, tt.wantSentiment, got.Sentiment)
		})
	}
}

func TestDegraded(t *testing.T) {
	got := Degraded(Insight{Intent: "complaint"}, "vector_db_unavailable")

	assert.True(t, got.Fallback)
	assert.Equal(t, "vector_db_unavailable", got.FallbackReason)
	assert.Equal(t, DefaultFallbackSummary, got.Summary)
	assert.Equal(t, "complaint", got.Intent)
}

func TestCustomerProfile_CloneIsDeep(t *testing.T) {
	p := &CustomerProfile{
		ID:          "c1",
		Preferences: map[string]any{"colors": []any{"red"}, "shipping": map[string]any{"speed": "fast"}},
		Tags:        []string{"vip"},
	}

	c := p.Clone()
	c.Preferences["shipping"].(map[string]any)["speed"] = "slow"
	c.Preferences["colors"].([]any)[0] = "blue"
	c.Tags[0] = "churn-risk"

	require.Equal(t, "fast", p.Preferences["shipping"].(map[string]any)["speed"])
	assert.Equal(t, "red", p.Preferences["colors"].([]any)[0])
	assert.Equal(t, "vip", p.Tags[0])
}

func TestRecordMeta_Time(t *testing.T) {
	_, ok := RecordMeta{}.Time()
	assert.False(t, ok)

	_, ok = RecordMeta{Timestamp: "yesterday"}.Time()
	assert.False(t, ok)

	ts, ok := RecordMeta{Timestamp: "2024-03-01T10:00:00Z"}.Time()
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
}
