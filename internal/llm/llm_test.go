package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/contextai/internal/aierr"
	"github.com/rcliao/contextai/internal/model"
)

type fakeCompleter struct {
	text  string
	err   error
	delay time.Duration
	// ignoreCtx makes the fake sleep through cancellation.
	ignoreCtx bool
	prompts   []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return f.text, f.err
}

func TestCompleteWithTimeout(t *testing.T) {
	tests := []struct {
		name     string
		c        *fakeCompleter
		timeout  time.Duration
		wantText string
		wantKind aierr.Kind
	}{
		{"success", &fakeCompleter{text: "ok"}, time.Second, "ok", ""},
		{"provider error", &fakeCompleter{err: errors.New("500")}, time.Second, "", aierr.KindLLMFailed},
		{"respects ctx", &fakeCompleter{delay: time.Second}, 10 * time.Millisecond, "", aierr.KindLLMTimeout},
		{"ignores ctx", &fakeCompleter{delay: 200 * time.Millisecond, ignoreCtx: true}, 10 * time.Millisecond, "", aierr.KindLLMTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			got, err := CompleteWithTimeout(context.Background(), tt.c, "prompt", tt.timeout, Options{})
			if tt.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantText, got)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, aierr.KindOf(err))
			assert.Less(t, time.Since(start), 150*time.Millisecond)
		})
	}
}

type panicCompleter struct{}

func (panicCompleter) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	panic("sdk bug")
}

func TestCompleteWithTimeout_ProviderPanic(t *testing.T) {
	_, err := CompleteWithTimeout(context.Background(), panicCompleter{}, "p", time.Second, Options{})
	require.Error(t, err)
	assert.Equal(t, aierr.KindLLMFailed, aierr.KindOf(err))
	assert.Contains(t, err.Error(), "sdk bug")
}

func TestCompleteWithTimeout_NilCompleter(t *testing.T) {
	_, err := CompleteWithTimeout(context.Background(), nil, "p", 0, Options{})
	assert.Equal(t, aierr.KindLLMFailed, aierr.KindOf(err))
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		structured bool
		summary    string
	}{
		{"plain json", `{"summary":"wants a refund"}`, true, "wants a refund"},
		{"json fence", "```json\n{\"summary\":\"fenced\"}\n```", true, "fenced"},
		{"bare fence", "```\n{\"summary\":\"bare\"}\n```", true, "bare"},
		{"prose around object", "Here you go: {\"summary\":\"wrapped\"} hope it helps", true, "wrapped"},
		{"free text", "The customer is upset about shipping.", false, "The customer is upset about shipping."},
		{"json array is raw", `["a","b"]`, false, `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseReply(tt.text)
			assert.Equal(t, tt.structured, r.Structured())
			assert.Equal(t, tt.summary, r.Text())
		})
	}
}

func TestReply_Insight(t *testing.T) {
	r := ParseReply("```json\n" + `{
		"summary": "Asks about bulk pricing",
		"intent": "purchase_inquiry",
		"urgency": "HIGH",
		"sentiment": "positive",
		"recommendations": ["Share price sheet", 42],
		"suggestions": "Offer a call",
		"preferences": {"budget": "$5k", "interest": "laptops"}
	}` + "\n```")

	in := r.Insight()
	assert.Equal(t, "Asks about bulk pricing", in.Summary)
	assert.Equal(t, "purchase_inquiry", in.Intent)
	assert.Equal(t, model.UrgencyHigh, in.Urgency)
	assert.Equal(t, model.SentimentPositive, in.Sentiment)
	assert.Equal(t, []string{"Share price sheet", "42"}, in.Recommendations)
	assert.Equal(t, []string{"Offer a call"}, in.SuggestedResponses)
	assert.Equal(t, "$5k", in.ExtractedPreferences["budget"])
	assert.False(t, in.Fallback)
}

func TestReply_InsightFromRawText(t *testing.T) {
	in := ParseReply("Customer sounds happy.").Insight()
	assert.Equal(t, "Customer sounds happy.", in.Summary)
	assert.Equal(t, model.IntentUnknown, in.Intent)
	assert.Equal(t, model.UrgencyMedium, in.Urgency)
	assert.Equal(t, model.SentimentNeutral, in.Sentiment)

	empty := ParseReply("").Insight()
	assert.Equal(t, NoSummary, empty.Summary)
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(Config{})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = NewFromConfig(Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicCompleter{}, c)

	c, err = NewFromConfig(Config{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompleter{}, c)

	_, err = NewFromConfig(Config{Provider: "gemini"})
	assert.Error(t, err)
}
