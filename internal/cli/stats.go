package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database, index and cache statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statsView struct {
	*store.Stats
	VectorProvider string                 `json:"vector_provider"`
	IndexedVectors *int                   `json:"indexed_vectors,omitempty"`
	Cache          map[string]cache.Stats `json:"cache"`
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	st, err := a.store.Stats(ctx, a.cfg.DBPath)
	if err != nil {
		exitErr("stats", err)
	}
	view := statsView{Stats: st, VectorProvider: a.cfg.Vector.Provider, Cache: a.tiers.Stats()}
	if a.sqliteIdx != nil {
		n, err := a.sqliteIdx.Count(ctx)
		if err != nil {
			exitErr("count vectors", err)
		}
		view.IndexedVectors = &n
	}
	printResult(view, nil)
}
