// Package prompt builds the language-model prompts used by the pipeline.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/contextai/internal/model"
)

// InsightInput is everything the insight prompt is built from.
type InsightInput struct {
	Context    *model.MergedContext // nil for a brand-new customer
	Message    string
	SenderType string
}

// Insight builds the prompt that asks for a structured JSON insight.
func Insight(in InsightInput) string {
	var b strings.Builder
	b.WriteString("You are a sales intelligence assistant. Analyze the customer interaction and provide actionable insights for the support agent.\n\n")

	b.WriteString("CUSTOMER PROFILE:\n")
	if in.Context != nil && !factsEmpty(in.Context.CustomerFacts) {
		writeJSON(&b, in.Context.CustomerFacts)
	} else {
		b.WriteString("New customer - no profile available")
	}

	b.WriteString("\n\nRELEVANT PAST INTERACTIONS:\n")
	if in.Context != nil && len(in.Context.Memories) > 0 {
		for i, m := range in.Context.Memories {
			fmt.Fprintf(&b, "%d. %s\n", i+1, m.Document)
		}
	} else {
		b.WriteString("No past interactions found\n")
	}

	b.WriteString("\nCURRENT SESSION HISTORY:\n")
	if in.Context != nil && len(in.Context.Session.Messages) > 0 {
		for _, m := range in.Context.Session.Messages {
			fmt.Fprintf(&b, "[%s]: %s\n", m.SenderType, m.Content)
		}
	} else {
		b.WriteString("Session just started\n")
	}

	sender := in.SenderType
	if sender == "" {
		sender = model.SenderCustomer
	}
	fmt.Fprintf(&b, "\nCURRENT MESSAGE:\n[%s]: %s\n\n", sender, in.Message)

	b.WriteString(`Provide analysis in the following JSON format:
{
  "summary": "2-3 sentence summary about this customer for the agent",
  "intent": "primary intent detected (e.g. 'purchase_inquiry', 'support_request', 'complaint', 'information_request', 'general_inquiry')",
  "urgency": "low | medium | high | critical",
  "sentiment": "positive | neutral | negative",
  "recommendations": ["actionable recommendation 1", "actionable recommendation 2"],
  "extractedPreferences": {"key": "value"},
  "suggestedResponses": ["suggested response option 1", "suggested response option 2"]
}

Respond ONLY with valid JSON, no additional text.`)
	return b.String()
}

// SummarySignal is the new information folded into a profile summary.
type SummarySignal struct {
	Intent      string
	Urgency     string
	Sentiment   string
	Preferences map[string]any
	Summary     string
}

// SummaryUpdate builds the prompt that folds a new signal into the prior summary.
func SummaryUpdate(p *model.CustomerProfile, s SummarySignal, maxWords int) string {
	prior := "No previous summary."
	name, sessions := "Unknown", 0
	var prefs map[string]any
	var tags []string
	if p != nil {
		if p.Summary != "" {
			prior = p.Summary
		}
		name = p.DisplayName("Unknown")
		sessions = p.TotalSessions
		prefs = p.Preferences
		tags = p.Tags
	}

	var b strings.Builder
	b.WriteString("You are updating a customer profile summary. Preserve all historical context while integrating new information.\n\n")
	fmt.Fprintf(&b, "EXISTING SUMMARY:\n%s\n\n", prior)
	b.WriteString("EXISTING PROFILE DATA:\n")
	fmt.Fprintf(&b, "- Name: %s\n- Total Sessions: %d\n- Preferences: %s\n- Tags: %s\n\n",
		name, sessions, compactJSON(prefs), strings.Join(tags, ", "))
	b.WriteString("NEW INFORMATION:\n")
	fmt.Fprintf(&b, "- Intent: %s\n- Urgency: %s\n- Sentiment: %s\n- New Preferences: %s\n- Context: %s\n\n",
		orUnknown(s.Intent), orUnknown(s.Urgency), orUnknown(s.Sentiment), compactJSON(s.Preferences), s.Summary)
	fmt.Fprintf(&b, `INSTRUCTIONS:
1. Preserve all historical context from the existing summary
2. Integrate the new information seamlessly
3. Highlight any changes in customer behavior
4. Keep the summary concise (max %d words)
5. Focus on actionable insights for support agents

Generate the UPDATED summary (plain text, no JSON):`, maxWords)
	return b.String()
}

// Condense builds the prompt that shortens a summary to maxWords.
func Condense(summary string, maxWords int) string {
	return fmt.Sprintf("Summarize the following customer profile in %d words or less:\n\n%s\n\nSummary (%d words max):",
		maxWords, summary, maxWords)
}

// ReturningInput feeds the returning-customer briefing prompt.
type ReturningInput struct {
	Profile  *model.CustomerProfile
	Sessions []model.Session
	Recent   []model.Message
}

// Returning builds the briefing prompt for a customer starting a new chat.
func Returning(in ReturningInput) string {
	p := in.Profile
	if p == nil {
		p = &model.CustomerProfile{}
	}
	email := p.Email
	if email == "" {
		email = "Not provided"
	}
	tags := strings.Join(p.Tags, ", ")
	if tags == "" {
		tags = "None"
	}

	var b strings.Builder
	b.WriteString("You are a sales intelligence assistant. A returning customer has started a new chat. Provide a quick summary for the support agent.\n\n")
	fmt.Fprintf(&b, "CUSTOMER PROFILE:\n- Name: %s\n- Email: %s\n- Customer since: %s\n- Total sessions: %d\n- Preferences: %s\n- Tags: %s\n",
		p.DisplayName("Unknown"), email, p.CreatedAt.Format("2006-01-02"), p.TotalSessions, compactJSON(p.Preferences), tags)
	if p.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", p.Summary)
	}

	b.WriteString("\nRECENT SESSIONS:\n")
	if len(in.Sessions) == 0 {
		b.WriteString("No previous sessions\n")
	}
	for i, s := range in.Sessions {
		fmt.Fprintf(&b, "%d. [%s] Intent: %s\n", i+1, s.StartedAt.Format("2006-01-02"), orUnknown(s.DetectedIntent))
	}

	b.WriteString("\nRECENT MESSAGES:\n")
	if len(in.Recent) == 0 {
		b.WriteString("None\n")
	}
	for i, m := range in.Recent {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, m.SenderType, m.Content)
	}

	b.WriteString(`
Generate a brief, actionable summary for the agent in JSON format:
{
  "summary": "Brief 2-3 sentence summary highlighting key customer history and preferences",
  "intent": "most likely reason for returning",
  "urgency": "low | medium | high | critical",
  "sentiment": "positive | neutral | negative",
  "recommendations": ["recommendation 1", "recommendation 2"],
  "suggestedResponses": ["opening line 1", "opening line 2"]
}

Respond ONLY with valid JSON.`)
	return b.String()
}

func factsEmpty(f model.CustomerFacts) bool {
	return f.Name == "" && len(f.Preferences) == 0 && len(f.Tags) == 0 && f.Summary == "" && len(f.RecentIntents) == 0
}

func writeJSON(b *strings.Builder, v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b.WriteString("{}")
		return
	}
	b.Write(out)
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
