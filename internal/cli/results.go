package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
	"github.com/funnelcast/funnelcast/internal/stats"
)

var resultsFormat string

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Show stage conversion rates",
	Long: `Show the probability that a lead at each funnel stage completes, with
95% confidence intervals. Without a trained model the fallback table is
shown.`,
	Args: cobra.NoArgs,
	RunE: runRates,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show training metrics for the current model",
	Long:  `Show cross-validation error for the seasonal model and classification metrics for the lead scorer.`,
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

func init() {
	for _, cmd := range []*cobra.Command{ratesCmd, metricsCmd} {
		cmd.Flags().StringVarP(&resultsFormat, "format", "f", "table", "output format (table or json)")
		rootCmd.AddCommand(cmd)
	}
}

func runRates(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		rates, err := o.Rates(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if resultsFormat == "json" {
			return writeJSON(out, map[string]any{"rates_source": rates.Source(), "rates": rates.Table()})
		}

		fmt.Fprintf(out, "SOURCE: %s\n", rates.Source())
		fmt.Fprintln(out)

		// Print table header
		fmt.Fprintln(out, "STAGE           RATE     95% CI            REACHED  COMPLETED")
		fmt.Fprintln(out, strings.Repeat("─", 64))
		for _, r := range rates.Table() {
			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", r.Lower*100, r.Upper*100)
			if r.Reached == 0 {
				ciStr = "N/A"
			}
			fmt.Fprintf(out, "%-14s  %-7s  %-16s  %-7d  %d\n",
				r.Stage,
				formatPercent(r.Rate),
				ciStr,
				r.Reached,
				r.Completed,
			)
		}

		if rates.Source() == stats.SourceFallback {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "No learned rates yet: run 'fcast train' on a ledger with concluded leads.")
		}
		return nil
	})
}

func runMetrics(cmd *cobra.Command, args []string) error {
	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		meta, err := o.Metadata(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if resultsFormat == "json" {
			return writeJSON(out, map[string]any{
				"bundle_id":        meta.BundleID,
				"constituents":     meta.Constituents,
				"seasonal_metrics": meta.SeasonalMetrics,
				"tree_metrics":     meta.TreeMetrics,
			})
		}

		fmt.Fprintf(out, "BUNDLE: %s\n", meta.BundleID)
		fmt.Fprintln(out)

		fmt.Fprintln(out, "SEASONAL")
		if m := meta.SeasonalMetrics; m != nil {
			scope := fmt.Sprintf("%d rolling folds", m.Folds)
			if m.InSample {
				scope = "in sample"
			}
			fmt.Fprintf(out, "  MAPE %s  MAE %s  RMSE %s  (%s)\n", formatPercent(m.MAPE), formatMoney(m.MAE), formatMoney(m.RMSE), scope)
		} else {
			fmt.Fprintln(out, "  not trained")
		}
		fmt.Fprintln(out)

		fmt.Fprintln(out, "LEAD SCORER")
		r := meta.TreeMetrics
		if r == nil {
			fmt.Fprintln(out, "  not trained")
			return nil
		}
		fmt.Fprintf(out, "  rounds %d (best %d), test log loss %.4f\n", r.Rounds, r.BestIteration, r.TestLogLoss)
		for _, split := range []struct {
			name string
			c    stats.Classification
		}{{"train", r.Train}, {"test", r.Test}} {
			c := split.c
			fmt.Fprintf(out, "  %-5s  n=%-5d accuracy %s  auc %.3f  precision %s  recall %s  f1 %.3f\n",
				split.name, c.Samples, formatPercent(c.Accuracy), c.AUC, formatPercent(c.Precision), formatPercent(c.Recall), c.F1)
		}
		cm := r.Test.Confusion
		fmt.Fprintf(out, "  confusion (test): TN %d  FP %d  FN %d  TP %d\n", cm[0][0], cm[0][1], cm[1][0], cm[1][1])
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  FEATURE                 GAIN")
		for _, imp := range r.FeatureImportance {
			fmt.Fprintf(out, "  %-22s  %s\n", imp.Feature, formatPercent(imp.Gain))
		}
		return nil
	})
}
