// Package transport pushes AI results to the agent-facing realtime channel.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types.
const (
	EventContextUpdate  = "ai:context_update"
	EventNextBestAction = "ai:next_best_action"
)

// Target addresses one customer's conversation and, optionally, its agent.
type Target struct {
	CustomerID string
	AgentID    string
}

// ContextUpdate refreshes the agent's customer context panel.
type ContextUpdate struct {
	Summary  string `json:"summary"`
	Budget   string `json:"budget"`
	Interest string `json:"interest"`
}

// NextBestAction carries suggested replies for the agent.
type NextBestAction struct {
	Suggestions []string `json:"suggestions"`
	Intent      string   `json:"intent"`
	Urgency     string   `json:"urgency"`
}

// NewContextUpdate fills the Unknown and General defaults.
func NewContextUpdate(summary string, prefs map[string]any) ContextUpdate {
	u := ContextUpdate{Summary: summary, Budget: "Unknown", Interest: "General"}
	if v, ok := prefs["budget"]; ok && v != nil {
		u.Budget = fmt.Sprint(v)
	}
	if v, ok := prefs["interest"]; ok && v != nil {
		u.Interest = fmt.Sprint(v)
	}
	return u
}

// Publisher delivers events. Callers log failures and carry on.
type Publisher interface {
	PublishContextUpdate(ctx context.Context, t Target, u ContextUpdate) error
	PublishNextAction(ctx context.Context, t Target, a NextBestAction) error
}

// Envelope is the JSON message written to a channel.
type Envelope struct {
	Type       string `json:"type"`
	CustomerID string `json:"customer_id"`
	AgentID    string `json:"agent_id,omitempty"`
	Payload    any    `json:"payload"`
}

// Channel is agent:<id>:events when an agent is assigned, otherwise
// customer:<id>:events.
func Channel(prefix string, t Target) string {
	if t.AgentID != "" {
		return prefix + "agent:" + t.AgentID + ":events"
	}
	return prefix + "customer:" + t.CustomerID + ":events"
}

type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes envelopes over Redis pub/sub.
type RedisPublisher struct {
	client publishClient
	prefix string
}

// NewRedisPublisher creates a publisher. prefix is prepended to every channel.
func NewRedisPublisher(client publishClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) PublishContextUpdate(ctx context.Context, t Target, u ContextUpdate) error {
	return p.publish(ctx, t, EventContextUpdate, u)
}

func (p *RedisPublisher) PublishNextAction(ctx context.Context, t Target, a NextBestAction) error {
	if a.Suggestions == nil {
		a.Suggestions = []string{}
	}
	return p.publish(ctx, t, EventNextBestAction, a)
}

func (p *RedisPublisher) publish(ctx context.Context, t Target, typ string, payload any) error {
	b, err := json.Marshal(Envelope{Type: typ, CustomerID: t.CustomerID, AgentID: t.AgentID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	if err := p.client.Publish(ctx, Channel(p.prefix, t), b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", typ, err)
	}
	return nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishContextUpdate(ctx context.Context, t Target, u ContextUpdate) error {
	p.logger.Info(EventContextUpdate, zap.String("channel", Channel("", t)), zap.String("summary", u.Summary))
	return nil
}

func (p *LogPublisher) PublishNextAction(ctx context.Context, t Target, a NextBestAction) error {
	p.logger.Info(EventNextBestAction, zap.String("channel", Channel("", t)),
		zap.String("intent", a.Intent), zap.String("urgency", a.Urgency), zap.Strings("suggestions", a.Suggestions))
	return nil
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
