package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/config"
	"github.com/funnelcast/funnelcast/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(newPruneCmd())
}

func newPruneCmd() *cobra.Command {
	var keep int
	var yes bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old model bundles",
		Long: `Delete all but the newest stored bundles. The current bundle is never
deleted.

Example:
  fcast prune --keep 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(o *pipeline.Orchestrator, cfg *config.Config, _ *zap.Logger) error {
				if !cmd.Flags().Changed("keep") {
					keep = cfg.Storage.KeepBundles
				}
				if keep < 1 {
					return fmt.Errorf("invalid --keep %d: must be at least 1", keep)
				}

				bundles, err := o.History(cmd.Context())
				if err != nil {
					return err
				}
				if len(bundles) <= keep {
					fmt.Fprintf(cmd.OutOrStdout(), "Nothing to prune (%d bundles stored).\n", len(bundles))
					return nil
				}

				if !yes {
					ok, err := confirm(fmt.Sprintf("Delete %d old bundles, keeping the newest %d", len(bundles)-keep, keep))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}

				n, err := o.Prune(cmd.Context(), keep)
				if err != nil {
					return fmt.Errorf("failed to prune: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d bundles.\n", n)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", 5, "number of newest bundles to keep")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
