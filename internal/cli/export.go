package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/funnelcast/funnelcast/internal/forecast"
)

func writeForecast(w io.Writer, format string, res *forecast.Result) error {
	switch format {
	case "csv":
		return writeForecastCSV(w, res)
	case "json":
		return writeJSON(w, res)
	}
	return writeForecastTable(w, res)
}

func writeForecastCSV(out io.Writer, res *forecast.Result) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	// Write header
	if err := w.Write([]string{"date", "forecast", "lower", "upper", "method"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	// Write rows
	for _, p := range res.Points {
		row := []string{
			p.Date,
			formatFloat(p.Forecast),
			formatFloat(p.Lower),
			formatFloat(p.Upper),
			p.Method,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeForecastTable(out io.Writer, res *forecast.Result) error {
	fmt.Fprintf(out, "BUNDLE: %s\n", res.BundleID)
	fmt.Fprintf(out, "REFERENCE DATE: %s (last complete month %s)\n", res.ReferenceDate, res.LastCompleteMonth)
	fmt.Fprintf(out, "MODELS: %s\n", strings.Join(res.Constituents, ", "))
	fmt.Fprintf(out, "RATES: %s\n", res.RatesSource)
	fmt.Fprintf(out, "PIPELINE: %d open leads\n", res.PipelineLeads)
	if len(res.ExcludedMonths) > 0 {
		fmt.Fprintf(out, "EXCLUDED: %s (incomplete)\n", strings.Join(res.ExcludedMonths, ", "))
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "MONTH\tFORECAST\tLOWER\tUPPER\t")
	var total float64
	for _, p := range res.Points {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", p.Date[:7], formatMoney(p.Forecast), formatMoney(p.Lower), formatMoney(p.Upper))
		total += p.Forecast
	}
	fmt.Fprintf(w, "TOTAL\t%s\t\t\t\n", formatMoney(total))
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	a := res.Anchor
	if a.Corrected {
		fmt.Fprintf(out, "Anchor: %s was unusually low (%s); using the trailing average %s\n",
			a.LastMonth, formatMoney(a.LastMonthRevenue), formatMoney(a.Value))
	} else {
		fmt.Fprintf(out, "Anchor: %s revenue %s\n", a.LastMonth, formatMoney(a.Value))
	}
	if res.FirstMonthCapped {
		fmt.Fprintln(out, "First month capped against the anchor")
	}
	return nil
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatMoney(v float64) string {
	return "$" + formatNumber(int(math.Round(v)))
}

func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
