package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/embedding"
	"github.com/rcliao/contextai/internal/vectorindex"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Vector search one customer's messages",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().String("customer", "", "Customer id (required)")
	cmd.Flags().String("intent", "", "Only messages with this intent")
	cmd.Flags().IntP("top-k", "k", 5, "Max results")

	cmd.MarkFlagRequired("customer")

	RootCmd.AddCommand(cmd)
}

type searchHit struct {
	vectorindex.Match
	Score float64 `json:"score"`
}

func runSearch(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")
	intent, _ := cmd.Flags().GetString("intent")
	topK, _ := cmd.Flags().GetInt("top-k")
	query := strings.Join(args, " ")

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	if err := a.requireVectors(); err != nil {
		exitErr("search", err)
	}
	vec, err := a.batcher.Add(ctx, query, embedding.PriorityUrgent)
	if err != nil {
		exitErr("embed query", err)
	}
	var filter *vectorindex.Filter
	if intent != "" {
		filter = &vectorindex.Filter{Intent: intent}
	}
	matches, err := a.index.Query(ctx, customerID, vec, topK, filter)
	if err != nil {
		exitErr("search", err)
	}

	hits := make([]searchHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, searchHit{Match: m, Score: vectorindex.Score(m.Distance)})
	}
	printResult(hits, func() string {
		var b strings.Builder
		for _, h := range hits {
			fmt.Fprintf(&b, "%.3f  %s\n", h.Score, h.Text)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
