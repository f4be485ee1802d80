package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/httputil"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Monitor a running API server",
	Long: `Polls a running API server and displays aggregation statistics.

Displayed:
- Tracked / valid / finalized segment counts
- Average samples per segment and average comfort score
- Finalization rate

Example:
  go run ./cmd/roadpulse status
  go run ./cmd/roadpulse status --refresh 5s --once`,
	RunE: runStatus,
}

var (
	statusURL     string
	statusRefresh time.Duration
	statusOnce    bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:8090", "API server base URL")
	statusCmd.Flags().DurationVar(&statusRefresh, "refresh", 3*time.Second, "refresh interval")
	statusCmd.Flags().BoolVar(&statusOnce, "once", false, "print once and exit")
}

type statsResponse struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	Stats         struct {
		TotalSegments        int     `json:"total_segments"`
		ValidSegments        int     `json:"valid_segments"`
		FinalizedSegments    int     `json:"finalized_segments"`
		AvgSamplesPerSegment float64 `json:"avg_samples_per_segment"`
		AvgComfortScore      float64 `json:"avg_comfort_score"`
		FinalizationRate     float64 `json:"finalization_rate"`
	} `json:"stats"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)
	client := httputil.NewWithTimeout(cfg, log, 5*time.Second).DisableRetry()

	display := func() error {
		resp, err := client.Get(cmd.Context(), statusURL+"/api/v1/stats")
		if err != nil {
			return fmt.Errorf("fetch stats: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("stats endpoint returned %d", resp.StatusCode)
		}

		var stats statsResponse
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}

		fmt.Printf("[%s] uptime %ds\n", time.Now().Format("15:04:05"), stats.UptimeSeconds)
		fmt.Printf("  segments: %d tracked, %d valid, %d finalized (%.0f%%)\n",
			stats.Stats.TotalSegments,
			stats.Stats.ValidSegments,
			stats.Stats.FinalizedSegments,
			stats.Stats.FinalizationRate*100)
		fmt.Printf("  avg samples/segment: %.1f, avg comfort: %.3f\n",
			stats.Stats.AvgSamplesPerSegment,
			stats.Stats.AvgComfortScore)

		return nil
	}

	if err := display(); err != nil {
		return err
	}
	if statusOnce {
		return nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			return nil
		case <-ticker.C:
			if err := display(); err != nil {
				fmt.Printf("  error: %v\n", err)
			}
		}
	}
}
