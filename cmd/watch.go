package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newWatchCmd creates the daemon subcommand.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run checks on a schedule and serve the operator API",
		Long: `Schedules check runs, or light and confirm runs when watch.mode is
"light", reloads the target list when its file changes, and serves health,
metrics and state over HTTP until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Watch(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watch: %w", err)
			}
			appInstance.Logger().Info("watch command finished")
			return nil
		},
	}
}
