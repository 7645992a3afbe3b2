package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDetachTimeout bounds each background task.
const DefaultDetachTimeout = time.Minute

// Detacher runs fire-and-forget work that must outlive the request.
type Detacher struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

// NewDetacher creates a Detacher whose tasks get timeout each.
func NewDetacher(timeout time.Duration, logger *zap.Logger) *Detacher {
	if timeout <= 0 {
		timeout = DefaultDetachTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detacher{timeout: timeout, logger: logger}
}

// Go runs fn in the background. ctx supplies values only; cancelling it does
// not stop fn. Errors and panics are logged.
func (d *Detacher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", zap.String("task", name), zap.String("panic", fmt.Sprint(r)))
			}
		}()
		if err := fn(ctx); err != nil {
			d.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every started task has finished.
func (d *Detacher) Wait() {
	d.wg.Wait()
}
