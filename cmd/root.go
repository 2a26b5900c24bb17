package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mspro-labs/koredoko/internal/config"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "koredoko",
	Short: "Find the store in a screenshot and open it on Google Maps",
	Long: `koredoko reads store details (name, address, phone, hours) out of an
uploaded image with a Gemini vision model and turns them into Google Maps
search links.

Run "koredoko serve" for the web UI, or "koredoko extract" on local files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML settings file (default $CONFIG_PATH or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
