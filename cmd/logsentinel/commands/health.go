package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"logsentinel/internal/model"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show model health from a running instance",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().String("api-url", "http://localhost:8081", "base URL of the logsentinel API")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
}

func runHealth(cmd *cobra.Command, _ []string) error {
	base, _ := cmd.Flags().GetString("api-url")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(base, "/")+"/health", nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch health: %w", err)
	}
	defer resp.Body.Close()
	// 503 still carries the snapshot; it only signals a critical overall status.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("fetch health: unexpected status %s", resp.Status)
	}
	var snap model.HealthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "overall: %s (as of %s)\n", snap.Overall, humanize.Time(snap.Timestamp))
	names := make([]string, 0, len(snap.Models))
	for name := range snap.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := snap.Models[name]
		fmt.Fprintf(out, "  %-18s %-8s predictions=%s errors=%s (%.2f%%) avg_latency=%.2fms",
			name, r.Status, humanize.Comma(r.TotalPredictions), humanize.Comma(r.ErrorCount), r.ErrorRate*100, r.AvgLatencyMS)
		if r.AccuracySamples > 0 {
			fmt.Fprintf(out, " accuracy=%.2f", r.AvgAccuracy)
		}
		fmt.Fprintln(out)
		for _, v := range r.Violations {
			fmt.Fprintf(out, "    - %s\n", v)
		}
	}
	if snap.Overall == model.HealthCritical {
		return fmt.Errorf("overall status is %s", snap.Overall)
	}
	return nil
}
