package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored model bundles",
	Long:  `List every stored model bundle, newest first, marking the current one.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		bundles, err := o.History(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list bundles: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(bundles) == 0 {
			fmt.Fprintln(out, "No models yet.")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Train one from your lead ledger:")
			fmt.Fprintln(out, "  fcast train leads.csv")
			return nil
		}

		// Print table
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTRAINED\tHISTORY\tBLOBS\tSIZE\tCURRENT")

		for _, b := range bundles {
			current := ""
			if b.Current {
				current = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%.1fy\t%d\t%s\t%s\n",
				b.ID,
				b.TrainedAt.Format("2006-01-02 15:04"),
				b.DataSpanYears,
				len(b.Blobs),
				formatBytes(b.TotalSize()),
				current,
			)
		}

		return w.Flush()
	})
}

func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	if n < 1024*1024 {
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
