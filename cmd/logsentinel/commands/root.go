package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"logsentinel/internal/config"
	"logsentinel/internal/logging"
)

const Version = "0.3.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "logsentinel",
	Short: "Log classification and anomaly scoring",
	Long: `logsentinel classifies log records by keyword rules, scores them against a
learned baseline of normal activity, and surfaces high-risk records while
tracking the health of both models.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $LOGSENTINEL_CONFIG, else built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the config")
}

// loadManager returns a watched manager when a config file is named and a
// static one over defaults otherwise.
func loadManager() (*config.Manager, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("LOGSENTINEL_CONFIG")
	}
	if path == "" {
		cfg, err := config.LoadOrDefault("")
		if err != nil {
			return nil, err
		}
		return config.NewStaticManager(cfg), nil
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return mgr, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	return logging.NewLeveled(level, cfg.Logging)
}
