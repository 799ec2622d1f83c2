package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/funnelcast/funnelcast/internal/testutil"
)

// execute runs the root command with args against a fresh database in dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--db", filepath.Join(dir, "fcast.db"), "--log-level", "error"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeLedger(t *testing.T, dir string) (string, string) {
	t.Helper()

	opts := testutil.DefaultLedgerOptions()
	path := filepath.Join(dir, "leads.csv")
	if err := os.WriteFile(path, testutil.GenerateLedger(t, opts), 0o644); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}
	return path, opts.AsOf().Format("2006-01-02")
}

func TestForecast_BeforeTrain(t *testing.T) {
	dir := t.TempDir()
	ledger, date := writeLedger(t, dir)

	_, err := execute(t, dir, "forecast", ledger, "--date", date, "--format", "table")
	if err == nil || !strings.Contains(err.Error(), "MODEL_NOT_TRAINED") {
		t.Errorf("expected model-not-trained error, got %v", err)
	}
}

func TestTrainThenForecastCSV(t *testing.T) {
	dir := t.TempDir()
	ledger, date := writeLedger(t, dir)

	output, err := execute(t, dir, "train", ledger)
	if err != nil {
		t.Fatalf("train failed: %v\n%s", err, output)
	}
	for _, want := range []string{"BUNDLE:", "seasonal", "tree", "rule"} {
		if !strings.Contains(output, want) {
			t.Errorf("train output missing %q:\n%s", want, output)
		}
	}

	output, err = execute(t, dir, "forecast", ledger, "--date", date, "--format", "csv")
	if err != nil {
		t.Fatalf("forecast failed: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse csv output: %v", err)
	}
	if len(rows) != 13 {
		t.Fatalf("expected header plus 12 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "date,forecast,lower,upper,method" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if rows[1][4] != "ensemble" {
		t.Errorf("expected ensemble method, got %q", rows[1][4])
	}
}

func TestRunJSON(t *testing.T) {
	dir := t.TempDir()
	ledger, date := writeLedger(t, dir)

	output, err := execute(t, dir, "run", ledger, "--date", date, "--format", "json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var report struct {
		Training struct {
			BundleID string `json:"bundle_id"`
		} `json:"training"`
		Forecast struct {
			Points      []json.RawMessage `json:"forecast"`
			RatesSource string            `json:"rates_source"`
		} `json:"forecast"`
	}
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("failed to decode json output: %v", err)
	}
	if report.Training.BundleID == "" || len(report.Forecast.Points) != 12 {
		t.Errorf("unexpected report: %s", output)
	}
	if report.Forecast.RatesSource != "empirical" {
		t.Errorf("expected empirical rates, got %q", report.Forecast.RatesSource)
	}
}

func TestRatesHistoryAndPrune(t *testing.T) {
	dir := t.TempDir()
	ledger, _ := writeLedger(t, dir)

	output, err := execute(t, dir, "rates", "--format", "table")
	if err != nil {
		t.Fatalf("rates failed: %v", err)
	}
	if !strings.Contains(output, "SOURCE: fallback") {
		t.Errorf("expected fallback rates before training:\n%s", output)
	}

	for range 2 {
		if _, err := execute(t, dir, "train", ledger); err != nil {
			t.Fatalf("train failed: %v", err)
		}
	}

	output, err = execute(t, dir, "rates", "--format", "table")
	if err != nil {
		t.Fatalf("rates failed: %v", err)
	}
	if !strings.Contains(output, "SOURCE: empirical") || !strings.Contains(output, "final_payment") {
		t.Errorf("unexpected rates output:\n%s", output)
	}

	output, err = execute(t, dir, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(output), "\n"); lines != 2 {
		t.Errorf("expected header and 2 bundles:\n%s", output)
	}

	output, err = execute(t, dir, "prune", "--keep", "1", "--yes")
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if !strings.Contains(output, "Deleted 1 bundles.") {
		t.Errorf("unexpected prune output: %s", output)
	}
}

func TestMetricsAndStats(t *testing.T) {
	dir := t.TempDir()
	ledger, date := writeLedger(t, dir)

	if _, err := execute(t, dir, "train", ledger); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	output, err := execute(t, dir, "metrics", "--format", "table")
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	for _, want := range []string{"SEASONAL", "MAPE", "LEAD SCORER", "days_in_funnel"} {
		if !strings.Contains(output, want) {
			t.Errorf("metrics output missing %q:\n%s", want, output)
		}
	}

	output, err = execute(t, dir, "stats", ledger, "--date", date, "--format", "table")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	for _, want := range []string{"LEADS:", "LEAD SOURCE", "DESTINATION", "Italy"} {
		if !strings.Contains(output, want) {
			t.Errorf("stats output missing %q:\n%s", want, output)
		}
	}
}

func TestInvalidFormat(t *testing.T) {
	dir := t.TempDir()
	ledger, _ := writeLedger(t, dir)

	_, err := execute(t, dir, "forecast", ledger, "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "invalid format") {
		t.Errorf("expected invalid format error, got %v", err)
	}
}

func TestFormatMoney(t *testing.T) {
	tests := map[float64]string{
		0:         "$0",
		999.4:     "$999",
		75000:     "$75,000",
		1234567.8: "$1,234,568",
	}
	for in, want := range tests {
		if got := formatMoney(in); got != want {
			t.Errorf("formatMoney(%v) = %q, want %q", in, got, want)
		}
	}
}
