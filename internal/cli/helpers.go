package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/artifact"
	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/logging"
	"github.com/funnelcast/funnelcast/internal/pipeline"
)

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// withOrchestrator opens the model store, executes the function, and handles
// cleanup.
func withOrchestrator(ctx context.Context, fn func(*pipeline.Orchestrator, *config.Config, *zap.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := artifact.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	o, err := pipeline.New(ctx, s, cfg, logger)
	if err != nil {
		return err
	}
	return fn(o, cfg, logger)
}

// openLedger opens a CSV ledger; "-" reads stdin.
func openLedger(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return f, nil
}

// parseDate parses a --date flag. Empty means today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}
