package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/contextai/internal/model"
)

// NoSummary is the summary of a reply that carried none.
const NoSummary = "Unable to generate summary"

// Reply is a parsed completion: either a JSON object (Fields) or free text (Raw).
type Reply struct {
	Fields map[string]any
	Raw    string
}

// Structured reports whether the reply parsed as a JSON object.
func (r Reply) Structured() bool { return r.Fields != nil }

// ParseReply strips markdown code fences and decodes a JSON object. Text
// that does not decode is kept as Raw.
func ParseReply(text string) Reply {
	s := stripFences(text)
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err == nil && fields != nil {
		return Reply{Fields: fields}
	}
	// Models sometimes wrap the object in prose.
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		if err := json.Unmarshal([]byte(s[i:j+1]), &fields); err == nil && fields != nil {
			return Reply{Fields: fields}
		}
	}
	return Reply{Raw: s}
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Insight resolves either variant into the canonical insight shape.
func (r Reply) Insight() model.Insight {
	var in model.Insight
	if r.Structured() {
		f := r.Fields
		in.Summary = stringField(f, "summary")
		in.Intent = stringField(f, "intent")
		in.Urgency = stringField(f, "urgency")
		in.Sentiment = stringField(f, "sentiment")
		in.Recommendations = stringsField(f, "recommendations")
		in.SuggestedResponses = stringsField(f, "suggestedResponses", "suggested_responses", "suggestions")
		in.ExtractedPreferences = mapField(f, "extractedPreferences", "extracted_preferences", "preferences")
	} else {
		in.Summary = r.Raw
	}
	return model.NormalizeInsight(in, NoSummary)
}

// Text returns a plain-text rendering of the reply, preferring a "summary" field.
func (r Reply) Text() string {
	if !r.Structured() {
		return r.Raw
	}
	if s := stringField(r.Fields, "summary"); s != "" {
		return s
	}
	b, _ := json.Marshal(r.Fields)
	return string(b)
}

func stringField(f map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			return v
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func stringsField(f map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				} else if e != nil {
					out = append(out, fmt.Sprint(e))
				}
			}
			return out
		case string:
			if v != "" {
				return []string{v}
			}
		}
	}
	return nil
}

func mapField(f map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if m, ok := f[k].(map[string]any); ok {
			return m
		}
	}
	return nil
}
