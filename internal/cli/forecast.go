package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
)

var (
	forecastDate   string
	forecastFormat string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast <ledger.csv>",
	Short: "Forecast the next 12 months from the current model",
	Long: `Score the ledger's open pipeline against the published model bundle and
print a 12-month revenue forecast with bounds.

Examples:
  fcast forecast leads.csv --date 2024-06-30
  fcast forecast leads.csv --format csv > forecast.csv
  fcast forecast leads.csv --format json > forecast.json`,
	Args: cobra.ExactArgs(1),
	RunE: runForecast,
}

var runCmd = &cobra.Command{
	Use:   "run <ledger.csv>",
	Short: "Train and forecast in one step",
	Long: `Train on the ledger, publish the bundle, and forecast from it.

Example:
  fcast run leads.csv --date 2024-06-30 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	for _, cmd := range []*cobra.Command{forecastCmd, runCmd} {
		cmd.Flags().StringVar(&forecastDate, "date", "", "reference date YYYY-MM-DD (default today)")
		cmd.Flags().StringVarP(&forecastFormat, "format", "f", "table", "output format (table, csv or json)")
		rootCmd.AddCommand(cmd)
	}
}

func checkFormat(format string) error {
	switch format {
	case "table", "csv", "json":
		return nil
	}
	return fmt.Errorf("invalid format: must be 'table', 'csv' or 'json'")
}

func runForecast(cmd *cobra.Command, args []string) error {
	if err := checkFormat(forecastFormat); err != nil {
		return err
	}
	ref, err := parseDate(forecastDate)
	if err != nil {
		return err
	}
	f, err := openLedger(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		res, err := o.Forecast(cmd.Context(), f, ref)
		if err != nil {
			return err
		}
		return writeForecast(cmd.OutOrStdout(), forecastFormat, res)
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := checkFormat(forecastFormat); err != nil {
		return err
	}
	ref, err := parseDate(forecastDate)
	if err != nil {
		return err
	}
	f, err := openLedger(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		report, err := o.TrainAndForecast(cmd.Context(), f, ref)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch forecastFormat {
		case "json":
			return writeJSON(out, report)
		case "csv":
			return writeForecastCSV(out, report.Forecast)
		}
		printTraining(out, report.Training)
		fmt.Fprintln(out)
		return writeForecast(out, "table", report.Forecast)
	})
}
