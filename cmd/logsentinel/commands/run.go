package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"logsentinel/internal/app"
	"logsentinel/internal/ingest"
	"logsentinel/internal/stream"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze a log stream until interrupted",
	Long: `Run loads the saved bundle, starts the monitoring API and analyzes records
from the configured source (Kafka or tailed files).

Examples:
  # Live stream from the sources in the config
  logsentinel run --config logsentinel.yaml

  # One pass over a file, then exit
  logsentinel run --input app.log`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("input", "", "analyze this file once instead of the configured live source")
}

func runRun(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")

	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger, level := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, mgr, app.Options{Logger: logger, Level: level, LevelOverride: logLevel, Version: Version})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.LoadBundle(ctx); err != nil {
		return err
	}
	if cls, sc := a.Coordinator().Ready(); !cls && !sc && cfg.Training.InputPath != "" {
		records, err := ingest.ReadFile(ctx, cfg.Training.InputPath, a.Parser(), logger)
		if err != nil {
			return err
		}
		if err := a.Train(ctx, records); err != nil {
			return fmt.Errorf("train from %s: %w", cfg.Training.InputPath, err)
		}
	}

	var src stream.Source
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		src = ingest.NewLineSource(f, a.Parser(), logger)
	} else {
		src, err = a.Source(ctx)
		if err != nil {
			return err
		}
	}
	return a.Run(ctx, src)
}
