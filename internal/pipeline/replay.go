package pipeline

import (
	"context"
	"fmt"

	"github.com/rcliao/contextai/internal/reprocess"
)

// Replay re-runs a queued job through Process. A job that still ends in a
// fallback insight returns an error so reprocess.Drain requeues it. Build the
// replaying orchestrator with a queue other than the one being drained, or
// every failed replay enqueues a fresh job.
func (o *Orchestrator) Replay(ctx context.Context, job reprocess.Job) error {
	out := o.Process(ctx, Input{
		CustomerID: job.CustomerID,
		SessionID:  job.SessionID,
		MessageID:  job.MessageID,
		Content:    job.Content,
		SenderType: job.SenderType,
	})
	if out.Insight.Fallback {
		return fmt.Errorf("replay %s: still degraded (%s)", job.ID, out.Insight.FallbackReason)
	}
	return nil
}
