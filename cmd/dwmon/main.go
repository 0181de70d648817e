package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dwmon/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "dwmon",
	Short: "Data watchdog for event-producing tables",
	Long: `dwmon periodically pulls recent rows from source databases, keeps a
deduplicated copy, and checks that each configured time window holds an
expected number of events.

Checkers live inline in the config file or as <name>.dwmon files in the
checkers directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and sets up logging. When the default
// config file is absent the built-in defaults are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_, statErr := os.Stat(configFile)
	if errors.Is(statErr, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg := config.Default()
		setupLogging(cfg.Logging)
		logrus.WithField("config_file", configFile).Warn("Config file not found, using defaults")
		return cfg, nil
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
