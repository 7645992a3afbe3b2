package cli

import (
	"context"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/pipeline"
	"github.com/rcliao/contextai/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Index stored customer messages",
		Long:  "Embed stored customer messages in batches and add them to the vector index.",
		Run:   runBackfill,
	}

	cmd.Flags().String("customer", "", "Only this customer")
	cmd.Flags().IntP("limit", "l", 0, "Max messages (0 = all)")

	RootCmd.AddCommand(cmd)
}

func runBackfill(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	if err := a.requireVectors(); err != nil {
		exitErr("backfill", err)
	}
	msgs, err := a.store.ListMessages(ctx, store.ListMessagesParams{
		CustomerID: customerID,
		SenderType: model.SenderCustomer,
		Limit:      limit,
	})
	if err != nil {
		exitErr("list messages", err)
	}

	var indexed, failed atomic.Int64
	// Enough in flight to fill several batches at once.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4 * max(a.cfg.Embedding.BatchSize, 1))
	for _, m := range msgs {
		g.Go(func() error {
			if err := indexMessage(gctx, a, m); err != nil {
				a.logger.Warn("backfill message failed", zap.String("message_id", m.ID), zap.Error(err))
				failed.Add(1)
				return nil
			}
			indexed.Add(1)
			return nil
		})
	}
	g.Wait()

	printResult(map[string]int64{
		"messages": int64(len(msgs)),
		"indexed":  indexed.Load(),
		"failed":   failed.Load(),
	}, nil)
}

func indexMessage(ctx context.Context, a *app, m model.Message) error {
	vec, err := a.batcher.Add(ctx, m.Content, embedding.PriorityNormal)
	if err != nil {
		return err
	}
	return a.index.Add(ctx, pipeline.MessageDocument(m, vec))
}
