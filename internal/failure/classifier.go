package failure

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/contextai/internal/model"
)

// Classifier derives intent and urgency without a language model.
type Classifier interface {
	Classify(text string) (intent, urgency string)
	Recommendations(intent string) []string
}

// IntentRule maps keywords to one intent.
type IntentRule struct {
	Intent   string   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

// Rules is the keyword table of a KeywordClassifier.
type Rules struct {
	Intents         []IntentRule        `yaml:"intents"`
	DefaultIntent   string              `yaml:"default_intent"`
	Critical        []string            `yaml:"critical"`
	High            []string            `yaml:"high"`
	Recommendations map[string][]string `yaml:"recommendations"`
	Fallback        []string            `yaml:"fallback_recommendations"`
}

// DefaultRules returns the built-in keyword table.
func DefaultRules() Rules {
	return Rules{
		Intents: []IntentRule{
			{Intent: "purchase_inquiry", Keywords: []string{"buy", "purchase", "price"}},
			{Intent: "support_request", Keywords: []string{"help", "support", "problem", "issue", "fix", "broken"}},
			{Intent: "complaint", Keywords: []string{"cancel", "refund", "complaint"}},
			{Intent: "information_request", Keywords: []string{"question", "how", "what"}},
		},
		DefaultIntent: "general_inquiry",
		Critical:      []string{"urgent", "asap", "immediately", "emergency", "critical"},
		High:          []string{"soon", "quickly", "important"},
		Recommendations: map[string][]string{
			"purchase_inquiry":    {"Provide pricing information", "Highlight current promotions", "Offer product comparison"},
			"support_request":     {"Acknowledge the issue", "Gather more details", "Escalate if needed"},
			"complaint":           {"Apologize for inconvenience", "Investigate the issue", "Offer resolution options"},
			"information_request": {"Provide clear answers", "Share relevant documentation", "Offer additional assistance"},
			"general_inquiry":     {"Understand customer needs", "Provide helpful information", "Build rapport"},
		},
		Fallback: []string{"Respond appropriately", "Be helpful"},
	}
}

// KeywordClassifier matches keywords as whole words, case-insensitively,
// allowing a plain inflection suffix ("fix" matches "fixed", not "prefix").
// Intents are checked in rule order and the first hit wins.
type KeywordClassifier struct {
	rules    Rules
	intents  []*regexp.Regexp
	critical *regexp.Regexp
	high     *regexp.Regexp
}

// NewKeywordClassifier creates a classifier over rules.
func NewKeywordClassifier(rules Rules) *KeywordClassifier {
	if rules.DefaultIntent == "" {
		rules.DefaultIntent = "general_inquiry"
	}
	c := &KeywordClassifier{
		rules:    rules,
		critical: wordMatcher(rules.Critical),
		high:     wordMatcher(rules.High),
	}
	for _, rule := range rules.Intents {
		c.intents = append(c.intents, wordMatcher(rule.Keywords))
	}
	return c
}

// wordMatcher compiles keywords into one word-bounded pattern. It returns nil
// when there is nothing to match.
func wordMatcher(words []string) *regexp.Regexp {
	var alts []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			alts = append(alts, regexp.QuoteMeta(strings.ToLower(w)))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)(?:s|es|d|ed|ing)?\b`)
}

// LoadRules reads a YAML rules file. Sections missing from the file keep
// their built-in values.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read classifier rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules over the defaults.
func ParseRules(data []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse classifier rules: %w", err)
	}
	def := DefaultRules()
	if len(r.Intents) == 0 {
		r.Intents = def.Intents
	}
	if r.DefaultIntent == "" {
		r.DefaultIntent = def.DefaultIntent
	}
	if len(r.Critical) == 0 {
		r.Critical = def.Critical
	}
	if len(r.High) == 0 {
		r.High = def.High
	}
	if r.Recommendations == nil {
		r.Recommendations = def.Recommendations
	}
	if len(r.Fallback) == 0 {
		r.Fallback = def.Fallback
	}
	return r, nil
}

func (c *KeywordClassifier) Classify(text string) (string, string) {
	lower := strings.ToLower(text)
	intent := c.rules.DefaultIntent
	for i, rule := range c.rules.Intents {
		if matches(c.intents[i], lower) {
			intent = rule.Intent
			break
		}
	}
	urgency := model.UrgencyMedium
	switch {
	case matches(c.critical, lower):
		urgency = model.UrgencyCritical
	case matches(c.high, lower):
		urgency = model.UrgencyHigh
	}
	return intent, urgency
}

func (c *KeywordClassifier) Recommendations(intent string) []string {
	if recs, ok := c.rules.Recommendations[intent]; ok {
		return append([]string(nil), recs...)
	}
	return append([]string(nil), c.rules.Fallback...)
}

func matches(re *regexp.Regexp, s string) bool {
	return re != nil && re.MatchString(s)
}
