// Package reprocess queues messages whose AI processing failed so they can be
// retried later.
package reprocess

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey is the Redis list holding pending jobs.
const DefaultKey = "contextai:reprocess"

// ErrEmpty is returned by Dequeue when no job is waiting.
var ErrEmpty = errors.New("reprocess queue empty")

// Job is one message awaiting another pass through the pipeline.
type Job struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	SessionID  string    `json:"session_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	SenderType string    `json:"sender_type,omitempty"`
	Content    string    `json:"content"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob stamps a job with an id and enqueue time.
func NewJob(customerID, sessionID, messageID, content, reason string) Job {
	now := time.Now().UTC()
	return Job{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		CustomerID: customerID,
		SessionID:  sessionID,
		MessageID:  messageID,
		Content:    content,
		Reason:     reason,
		EnqueuedAt: now,
	}
}

// Queue stores jobs in FIFO order.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue returns ErrEmpty when nothing is waiting.
	Dequeue(ctx context.Context) (Job, error)
}

// LogQueue records jobs in the log and drops them.
type LogQueue struct {
	logger *zap.Logger
}

// NewLogQueue creates a LogQueue.
func NewLogQueue(logger *zap.Logger) *LogQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogQueue{logger: logger}
}

func (q *LogQueue) Enqueue(ctx context.Context, job Job) error {
	q.logger.Info("queued for async processing",
		zap.String("job_id", job.ID),
		zap.String("customer_id", job.CustomerID),
		zap.String("message_id", job.MessageID),
		zap.String("reason", job.Reason))
	return nil
}

func (q *LogQueue) Dequeue(ctx context.Context) (Job, error) {
	return Job{}, ErrEmpty
}

// listClient is the part of the Redis client the queue uses.
type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisQueue keeps jobs as JSON in a Redis list.
type RedisQueue struct {
	client listClient
	key    string
}

// NewRedisQueue creates a queue on key, or DefaultKey when empty.
func NewRedisQueue(client listClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	raw, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrEmpty
	}
	if err != nil {
		return Job{}, fmt.Errorf("dequeue job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Len reports how many jobs are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
