package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/llm"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/prompt"
)

// ReasonProfileGreeting marks a returning-customer briefing built without the model.
const ReasonProfileGreeting = "llm_unavailable_profile_greeting"

const (
	returningSessions = 5
	returningMessages = 10
)

// ReturningCustomer briefs the agent on a customer opening a new chat.
// Results are cached in the insights tier. Only an unknown customer or a
// failed profile lookup returns an error.
func (o *Orchestrator) ReturningCustomer(ctx context.Context, customerID string) (model.Insight, error) {
	key := cache.ReturningKey(customerID)
	if cached, ok := o.deps.Tiers.Insights.Get(key); ok {
		return cached.Insight, nil
	}

	p, err := o.profiles.FindByID(ctx, customerID)
	if err != nil {
		return model.Insight{}, fmt.Errorf("returning customer: %w", err)
	}

	sessions, err := o.deps.Store.ListSessions(ctx, customerID, returningSessions)
	if err != nil {
		o.logger.Warn("recent sessions unavailable", zap.String("customer_id", customerID), zap.Error(err))
	}
	recent, err := o.deps.Store.GetCustomerMessages(ctx, customerID, returningMessages)
	if err != nil {
		o.logger.Warn("recent messages unavailable", zap.String("customer_id", customerID), zap.Error(err))
	}

	text := prompt.Returning(prompt.ReturningInput{Profile: p, Sessions: sessions, Recent: recent})
	reply, err := llm.CompleteWithTimeout(ctx, o.deps.LLM, text, o.cfg.LLMTimeout, o.cfg.LLMOptions)

	var insight model.Insight
	if err != nil {
		o.logger.Warn("returning briefing from profile only", zap.String("customer_id", customerID), zap.Error(err))
		insight = profileGreeting(p, sessions)
	} else {
		insight = llm.ParseReply(reply).Insight()
	}
	o.deps.Tiers.Insights.Set(key, model.CachedInsight{Insight: insight, CachedAt: time.Now()})
	return insight, nil
}

func profileGreeting(p *model.CustomerProfile, sessions []model.Session) model.Insight {
	var b strings.Builder
	fmt.Fprintf(&b, "Returning customer %s with %d previous sessions.", p.DisplayName("(name unknown)"), p.TotalSessions)
	if len(p.Tags) > 0 {
		fmt.Fprintf(&b, " Interests: %s.", strings.Join(p.Tags, ", "))
	}
	intent := model.IntentUnknown
	if n := len(p.ExtractedIntents); n > 0 {
		intent = p.ExtractedIntents[n-1].Intent
		fmt.Fprintf(&b, " Last intent: %s.", intent)
	} else if len(sessions) > 0 && sessions[0].DetectedIntent != "" {
		intent = sessions[0].DetectedIntent
	}
	if p.Summary != "" {
		b.WriteString(" " + p.Summary)
	}
	return model.Degraded(model.Insight{
		Summary:         b.String(),
		Intent:          intent,
		Urgency:         model.UrgencyLow,
		Sentiment:       model.SentimentNeutral,
		Recommendations: []string{"Greet the customer by name", "Review recent sessions before replying"},
	}, ReasonProfileGreeting)
}
