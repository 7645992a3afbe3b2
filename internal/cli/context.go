package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/contextmerge"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/retrieval"
	"github.com/rcliao/contextai/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [message]",
		Short: "Assemble the context a message would be answered with",
		Long:  "Run hybrid retrieval and the context merger for a message, without calling the model.",
		Run:   runContext,
	}

	cmd.Flags().String("customer", "", "Customer id (required)")
	cmd.Flags().String("session", "", "Include this session's messages")
	cmd.Flags().String("intent", "", "Intent filter for the intent-based source (default: rule-based guess)")
	cmd.Flags().IntP("budget", "b", 0, "Max tokens of memories (default: merge.max_tokens)")

	cmd.MarkFlagRequired("customer")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")
	sessionID, _ := cmd.Flags().GetString("session")
	intent, _ := cmd.Flags().GetString("intent")
	budget, _ := cmd.Flags().GetInt("budget")

	message := messageText(args)
	if message == "" {
		exitErr("context", errors.New("message is required (positional arg or stdin)"))
	}

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	if intent == "" {
		intent, _ = a.classifier.Classify(message)
	}
	if budget <= 0 {
		budget = a.cfg.Merge.MaxTokens
	}

	orch := a.orchestrator(a.queue, nil)
	opts := retrieval.DefaultOptions()
	opts.TopK = a.cfg.Retrieval.TopK
	opts.RecentLimit = a.cfg.Retrieval.RecentLimit
	opts.Intent = intent
	res := orch.Retriever().Retrieve(ctx, customerID, message, opts)

	p, err := a.store.FindByID(ctx, customerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		exitErr("profile", err)
	}
	session := model.SessionContext{SessionID: sessionID, Messages: []model.Message{}}
	if sessionID != "" {
		if session.Messages, err = a.store.GetSessionMessages(ctx, sessionID, 50); err != nil {
			exitErr("session", err)
		}
	}

	merged := contextmerge.New(a.logger.Named("merge")).Merge(p, res.Merged, session, contextmerge.Options{MaxTokens: budget})
	printResult(map[string]any{
		"context":        merged,
		"failed_sources": res.Failed,
	}, nil)
}
