package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fcast",
	Short: "funnelcast - 12-month revenue forecasts from a sales pipeline ledger",
	Long: `funnelcast trains a seasonal model, a gradient-boosted lead scorer and
stage conversion rates on a CSV lead ledger, then blends them into a
12-month revenue forecast with confidence bounds.

Single Go binary, models stored in an embedded SQLite file.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "model database path (default from config, ./fcast.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnvOrDefault("FCAST_CONFIG", ""), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
