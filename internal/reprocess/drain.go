package reprocess

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// MaxAttempts bounds how often a job is retried before it is dropped.
const MaxAttempts = 3

// Handler reprocesses one job. A non-nil error requeues it.
type Handler func(ctx context.Context, job Job) error

// Drain processes up to limit jobs and returns how many were handled.
func Drain(ctx context.Context, q Queue, limit int, handle Handler, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := 0
	for limit <= 0 || n < limit {
		job, err := q.Dequeue(ctx)
		if errors.Is(err, ErrEmpty) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
		if err := handle(ctx, job); err != nil {
			job.Attempts++
			if job.Attempts >= MaxAttempts {
				logger.Warn("reprocess job dropped", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempts), zap.Error(err))
				continue
			}
			if err := q.Enqueue(ctx, job); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}
