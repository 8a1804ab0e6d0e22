package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/restockwatch/internal/targets"
)

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect the target list",
	}
	var file string
	validate := &cobra.Command{
		Use:         "validate",
		Short:       "Load and validate the target list",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				path = opts.cfg.Paths.Targets
			}
			reg, err := targets.Load(path)
			if err != nil {
				return fmt.Errorf("validate %s: %w", path, err)
			}
			opts.logger.Info("targets valid", zap.String("path", path), zap.Int("targets", reg.Len()))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d targets OK\n", path, reg.Len())
			return err
		},
	}
	validate.Flags().StringVar(&file, "file", "", "target list to validate (default paths.targets)")
	cmd.AddCommand(validate)
	return cmd
}
