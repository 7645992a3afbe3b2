package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/pipeline"
	"github.com/rcliao/contextai/internal/prompt"
	"github.com/rcliao/contextai/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "process [message]",
		Short: "Run a message through the full pipeline",
		Long: "Store a chat message, build its context, ask the model for an insight and publish it " +
			"to the agent. The message can be a positional arg or piped via stdin.",
		Run: runProcess,
	}

	cmd.Flags().String("customer", "", "Customer id (required; created on first contact)")
	cmd.Flags().String("session", "", "Session id (default: open a new session)")
	cmd.Flags().String("agent", "", "Agent id to address events to")
	cmd.Flags().String("sender", "customer", "Sender: customer or agent")

	cmd.MarkFlagRequired("customer")

	RootCmd.AddCommand(cmd)
}

func runProcess(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")
	sessionID, _ := cmd.Flags().GetString("session")
	agentID, _ := cmd.Flags().GetString("agent")
	sender, _ := cmd.Flags().GetString("sender")

	content := messageText(args)
	if content == "" {
		exitErr("process", errors.New("message is required (positional arg or stdin)"))
	}

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	if _, err := a.store.EnsureCustomer(ctx, customerID); err != nil {
		exitErr("customer", err)
	}
	if sessionID == "" {
		sess, err := a.store.CreateSession(ctx, customerID)
		if err != nil {
			exitErr("session", err)
		}
		sessionID = sess.ID
	}
	msg, err := a.store.AddMessage(ctx, store.AddMessageParams{
		CustomerID: customerID,
		SessionID:  sessionID,
		SenderType: sender,
		Content:    content,
	})
	if err != nil {
		exitErr("store message", err)
	}

	orch := a.orchestrator(a.queue, prompt.NewTokenCounter())
	out := orch.Process(ctx, pipeline.Input{
		CustomerID: customerID,
		SessionID:  sessionID,
		AgentID:    agentID,
		MessageID:  msg.ID,
		Content:    content,
		SenderType: msg.SenderType,
	})
	orch.Wait()

	printResult(out, func() string {
		in := out.Insight
		var b strings.Builder
		fmt.Fprintf(&b, "%s\nintent: %s  urgency: %s  sentiment: %s\n", in.Summary, in.Intent, in.Urgency, in.Sentiment)
		if in.Fallback {
			fmt.Fprintf(&b, "fallback: %s\n", in.FallbackReason)
		}
		for _, r := range in.SuggestedResponses {
			fmt.Fprintf(&b, "> %s\n", r)
		}
		fmt.Fprintf(&b, "total: %s", out.Timings.Total)
		return b.String()
	})
}
