package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the notice page and API",
		Long: `Starts the HTTP server. In the store variant notices are read from the
mirror and GET /update-data refreshes it; in the proxy variant every request
fetches the upstream feed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			// Run closes the application on shutdown.
			return appInstance.Run(cmd.Context())
		},
	}
}
