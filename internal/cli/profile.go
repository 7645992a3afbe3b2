package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/profile"
)

func init() {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show a customer profile",
		Run:   runProfile,
	}

	cmd.Flags().String("customer", "", "Customer id (required)")
	cmd.Flags().Bool("history", false, "Include the preference change history")
	cmd.Flags().IntP("limit", "l", 50, "Max history rows")
	cmd.Flags().Bool("hierarchy", false, "Include ultra-short, standard and detailed summaries")

	cmd.MarkFlagRequired("customer")

	RootCmd.AddCommand(cmd)
}

type profileView struct {
	Profile   *model.CustomerProfile   `json:"profile"`
	History   []model.PreferenceChange `json:"history,omitempty"`
	Hierarchy *profile.Hierarchy       `json:"hierarchy,omitempty"`
}

func runProfile(cmd *cobra.Command, args []string) {
	customerID, _ := cmd.Flags().GetString("customer")
	withHistory, _ := cmd.Flags().GetBool("history")
	limit, _ := cmd.Flags().GetInt("limit")
	withHierarchy, _ := cmd.Flags().GetBool("hierarchy")

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	p, err := a.store.FindByID(ctx, customerID)
	if err != nil {
		exitErr("profile", err)
	}
	view := profileView{Profile: p}

	if withHistory {
		if view.History, err = a.store.ListPreferenceHistory(ctx, customerID, limit); err != nil {
			exitErr("history", err)
		}
	}
	if withHierarchy {
		h := a.orchestrator(a.queue, nil).Summarizer().Hierarchy(ctx, p)
		view.Hierarchy = &h
	}

	printResult(view, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%s)  sessions: %d  summary v%d\n", p.DisplayName("(name unknown)"), p.ID, p.TotalSessions, p.SummaryVersion)
		if len(p.Tags) > 0 {
			fmt.Fprintf(&b, "tags: %s\n", strings.Join(p.Tags, ", "))
		}
		for k, v := range p.Preferences {
			fmt.Fprintf(&b, "  %s: %v\n", k, v)
		}
		if p.Summary != "" {
			b.WriteString(p.Summary)
		}
		return strings.TrimRight(b.String(), "\n")
	})
}
