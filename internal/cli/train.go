package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/artifact"
	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
)

var trainCmd = &cobra.Command{
	Use:   "train <ledger.csv>",
	Short: "Train models on a lead ledger and publish them",
	Long: `Train the seasonal model, the lead scorer and the stage conversion
rates on a CSV ledger, then publish them as the current model bundle.

A constituent that fails to train is recorded as absent; training only
fails when all three fail.

Example:
  fcast train leads.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	f, err := openLedger(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		meta, err := o.Train(cmd.Context(), f)
		if err != nil {
			return err
		}
		printTraining(cmd.OutOrStdout(), meta)
		return nil
	})
}

func printTraining(w io.Writer, meta *artifact.Metadata) {
	fmt.Fprintf(w, "BUNDLE: %s\n", meta.BundleID)
	fmt.Fprintf(w, "TRAINED: %s\n", meta.TrainedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "HISTORY: %.1f years, last complete month %s\n", meta.DataSpanYears, meta.LastCompleteMonth)
	if len(meta.ExcludedMonths) > 0 {
		fmt.Fprintf(w, "EXCLUDED: %s (incomplete)\n", strings.Join(meta.ExcludedMonths, ", "))
	}
	fmt.Fprintln(w)

	for _, c := range meta.Constituents {
		status := "ok"
		if !c.Present {
			status = "absent: " + c.Error
		}
		fmt.Fprintf(w, "  %-9s %s\n", c.Name, status)
	}
}
