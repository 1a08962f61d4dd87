// Package commands holds the themis CLI subcommands.
package commands

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/themis-legal/themis/internal/config"
)

// SetupLogging configures the global zerolog logger from flags.
func SetupLogging(cmd *cobra.Command) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if jsonLogs, _ := cmd.Flags().GetBool("json-logs"); !jsonLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
	}
	return nil
}

// loadConfig reads the config named by --config and applies the configured
// log level unless --log-level was given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl == "" {
		if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}
	return cfg, nil
}
