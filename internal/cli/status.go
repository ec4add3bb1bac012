package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/courier/internal/core/config"
	"github.com/vietddude/courier/internal/tiering/health"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current health of all delivery tiers",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://localhost:%d/health/detailed", cfg.Server.Port)
	resp, err := client.Get(url)
	if err != nil {
		slog.Error("Failed to reach courier", "url", url, "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		slog.Error("Failed to decode health report", "error", err)
		os.Exit(1)
	}

	fmt.Printf("System: %s  queue=%d  open_issues=%d\n\n",
		report.SystemStatus, report.QueueLen, report.OpenIssues)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIER\tTYPE\tSTATUS\tCIRCUIT\tERR RATE\tLATENCY\tIN-FLIGHT\tTIMEOUT")

	for _, th := range report.Tiers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%dms\t%d/%d\t%dms\n",
			th.ID, th.Type, th.Status, th.Circuit,
			th.ErrorRate, th.AvgLatencyMS, th.InFlight, th.Capacity, th.TimeoutMS)
	}
	_ = w.Flush()
}
