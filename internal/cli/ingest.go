package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/pipeline"
	"github.com/rcliao/contextai/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [message]",
		Short: "Store a message and index it",
		Long:  "Store a chat message without asking the model. Customer messages are embedded and indexed.",
		Run:   runIngest,
	}

	cmd.Flags().String("customer", "", "Customer id (required; created on first contact)")
	cmd.Flags().String("session", "", "Session id")
	cmd.Flags().String("sender", "customer", "Sender: customer or agent")
	cmd.Flags().String("intent", "", "Known intent of the message")

	cmd.MarkFlagRequired("customer")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")
	sessionID, _ := cmd.Flags().GetString("session")
	sender, _ := cmd.Flags().GetString("sender")
	intent, _ := cmd.Flags().GetString("intent")

	content := messageText(args)
	if content == "" {
		exitErr("ingest", errors.New("message is required (positional arg or stdin)"))
	}

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	if _, err := a.store.EnsureCustomer(ctx, customerID); err != nil {
		exitErr("customer", err)
	}
	msg, err := a.store.AddMessage(ctx, store.AddMessageParams{
		CustomerID: customerID,
		SessionID:  sessionID,
		SenderType: sender,
		Content:    content,
		Intent:     intent,
	})
	if err != nil {
		exitErr("store message", err)
	}

	indexed := false
	if msg.SenderType == model.SenderCustomer && a.requireVectors() == nil {
		vec, err := a.batcher.Add(ctx, content, embedding.PriorityUrgent)
		if err != nil {
			exitErr("embed", err)
		}
		if err := a.index.Add(ctx, pipeline.MessageDocument(*msg, vec)); err != nil {
			exitErr("index", err)
		}
		indexed = true
	}

	printResult(map[string]any{"message": msg, "indexed": indexed}, nil)
}
