package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"locker-kiosk-backend/config"
	"locker-kiosk-backend/internal/logging"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lockerd",
	Short: "Package locker kiosk backend",
	Long: `lockerd serves the package locker kiosk. Reservation records are kept
in step with the locker controller, and a valid pickup code opens its door.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("lockerd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "", "path to config.yaml (default $CONFIG_PATH or ./config/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// loadConfig resolves the config path, loads it and configures the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	logging.Logger.Info().Str("path", configPath).Msg("configuration loaded")
	return cfg, nil
}
