package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
	"github.com/funnelcast/funnelcast/internal/server"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the funnelcast HTTP server.

The server provides:
  - POST /api/train, /api/forecast, /api/train-and-forecast (CSV body)
  - GET /api/model, /api/models, /api/rates
  - Prometheus metrics at /metrics
  - Health check at /health

Example:
  fcast serve --port 8000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config, 8000)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withOrchestrator(ctx, func(o *pipeline.Orchestrator, cfg *config.Config, logger *zap.Logger) error {
		if port != 0 {
			cfg.Server.Port = port
		}
		return server.New(o, cfg.Server, logger.Named("server")).Start(ctx)
	})
}
