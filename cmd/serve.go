package cmd

import (
	"context"
	"fmt"

	"tripwire/bootstrap"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the matching engine service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := bootstrap.NewApp(ctx, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}

		if err := app.Start(ctx); err != nil {
			app.Shutdown()
			return fmt.Errorf("failed to start application: %w", err)
		}

		app.WaitForShutdown()
		app.Shutdown()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
