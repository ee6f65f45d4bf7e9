package main

import (
	"fmt"
	"os"

	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/settings"
	"github.com/spf13/cobra"
)

var (
	serviceURL string
	apiKey     string
	transport  string
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "runbatch",
		Short: "Create and follow batches of test runs",
		Long: `runbatch submits batches of test runs to an execution service,
follows their event streams and reconciles each run into a final result.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			internal.InitializeConfiguration(configPath)
		},
		SilenceUsage: true,
	}
)

func init() {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()

	rootCmd.PersistentFlags().StringVar(&serviceURL, "url", settings.Settings.ServiceURL, "execution service base url")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", settings.Settings.APIKey, "execution service api key")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", settings.Settings.Transport, "event transport: sse or ws")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", internal.ConfigPath, "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
