package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/pipeline"
)

var (
	statsDate   string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats <ledger.csv>",
	Short: "Summarize a lead ledger",
	Long: `Validate a ledger and print its statistics: lead counts, conversion rate,
revenue, distributions by stage, lead source and destination, and the
open pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "reference date YYYY-MM-DD (default last trip date)")
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "table", "output format (table or json)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ref, err := parseDate(statsDate)
	if err != nil {
		return err
	}
	f, err := openLedger(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, _ *config.Config, _ *zap.Logger) error {
		st, err := o.Inspect(f, ref)
		if err != nil {
			return err
		}
		if statsFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return printStats(cmd.OutOrStdout(), st)
	})
}

func printStats(out io.Writer, st *dataset.Stats) error {
	fmt.Fprintf(out, "LEADS: %s (%s completed, %s active, %s repeat customers)\n",
		formatNumber(st.TotalLeads), formatNumber(st.CompletedTrips), formatNumber(st.ActiveLeads), formatNumber(st.RepeatCustomers))
	fmt.Fprintf(out, "CONVERSION: %s of concluded leads\n", formatPercent(st.ConversionRate))
	fmt.Fprintf(out, "TRIPS: %s to %s (%.1f years, %d months)\n", st.TripRange.Start, st.TripRange.End, st.DataSpanYears, st.Months)
	r := st.Revenue
	fmt.Fprintf(out, "REVENUE: total %s, mean %s, median %s, min %s, max %s\n",
		formatMoney(r.Total), formatMoney(r.Mean), formatMoney(r.Median), formatMoney(r.Min), formatMoney(r.Max))
	m := st.MonthlyRevenue
	fmt.Fprintf(out, "MONTHLY: mean %s, median %s, max %s\n", formatMoney(m.Mean), formatMoney(m.Median), formatMoney(m.Max))
	fmt.Fprintf(out, "PIPELINE: %s open value\n", formatMoney(st.PipelineValue))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, section := range []struct {
		title string
		rows  []dataset.CategoryCount
	}{
		{"STAGE", st.StageCounts},
		{"LEAD SOURCE", st.LeadSources},
		{"DESTINATION", st.Destinations},
		{"OPEN STAGE", st.PipelineByStage},
	} {
		fmt.Fprintf(w, "%s\tCOUNT\tSHARE\tREVENUE\n", section.title)
		for _, c := range section.rows {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.Name, c.Count, formatPercent(c.Share), formatMoney(c.Revenue))
		}
		fmt.Fprintln(w, "\t\t\t")
	}
	return w.Flush()
}
