package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"logsentinel/internal/app"
	"logsentinel/internal/model"
)

var classifyCmd = &cobra.Command{
	Use:   "classify MESSAGE...",
	Short: "Classify messages, and score them when a baseline bundle exists",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().Bool("json", false, "print full analysis summaries as JSON")
	classifyCmd.Flags().String("source", "", "source type attached to each message")
}

func runClassify(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	source, _ := cmd.Flags().GetString("source")

	mgr, err := loadManager()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	logger, _ := newLogger(cfg)
	ctx := cmd.Context()

	a, err := app.New(ctx, mgr, app.Options{Logger: logger, Version: Version})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.LoadBundle(ctx); err != nil {
		return err
	}
	coord := a.Coordinator()
	if cls, _ := coord.Ready(); !cls {
		if err := coord.TrainClassifier(nil); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	summaries := make([]model.AnalysisSummary, 0, len(args))
	for i, msg := range args {
		s, err := coord.Analyze(model.LogRecord{
			ID:         fmt.Sprintf("cli-%d", i+1),
			Timestamp:  now,
			Message:    msg,
			SourceType: source,
		})
		if err != nil {
			return err
		}
		summaries = append(summaries, s)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	for i, s := range summaries {
		line := []string{fmt.Sprintf("%q", args[i])}
		if s.Classification != nil {
			line = append(line, string(s.Classification.Category), fmt.Sprintf("%.2f", s.Classification.Confidence))
		}
		line = append(line, "risk="+string(s.RiskLevel))
		if s.Anomaly != nil && s.Anomaly.IsAnomaly {
			line = append(line, "anomaly="+s.Anomaly.Explanation)
		}
		fmt.Fprintln(out, strings.Join(line, "\t"))
	}
	return nil
}
