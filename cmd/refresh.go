package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refreshes the mirror once and exits",
		Long: `Fetches the upstream notice list and rewrites the configured store, the
same way GET /update-data does, then exits. Requires the store variant.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := appInstance.Close(cmd.Context()); cerr != nil {
					appInstance.Logger().Warn("close failed", zap.Error(cerr))
				}
			}()

			res, err := appInstance.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d notices (removed %d, ids %d-%d)\n",
				res.Fetched, res.Removed, res.FirstID, res.NextID-1)
			if err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
}
