package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tripwire/bootstrap"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a one-shot sync of all configured feed sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		app, err := bootstrap.NewApp(ctx, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		defer app.Shutdown()

		sources := app.Config.FeedSources()
		if len(sources) == 0 {
			return fmt.Errorf("no feed sources configured")
		}

		result := app.Ingestor.Ingest(ctx, sources...)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
