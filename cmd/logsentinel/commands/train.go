package commands

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"logsentinel/internal/app"
	"logsentinel/internal/ingest"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Learn a baseline from historical logs and save the bundle",
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().String("input", "", "training file, JSON lines or plain text (default training.input_path)")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		input = cfg.Training.InputPath
	}
	if input == "" {
		return errors.New("no training input; pass --input or set training.input_path")
	}
	logger, _ := newLogger(cfg)
	ctx := cmd.Context()

	a, err := app.New(ctx, mgr, app.Options{Logger: logger, Version: Version})
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := ingest.ReadFile(ctx, input, a.Parser(), logger)
	if err != nil {
		return err
	}
	if err := a.Train(ctx, records); err != nil {
		return err
	}
	d := a.Coordinator().Profile().Data()
	fmt.Fprintf(cmd.OutOrStdout(), "trained on %s records (%d hours, %d sources, %d known IPs, mean response %.1fms)\n",
		humanize.Comma(int64(len(records))), len(d.HourFrequency), len(d.SourceFrequency), len(d.KnownIPs), d.ResponseMean)
	return nil
}
