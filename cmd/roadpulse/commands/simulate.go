package commands

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/httputil"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate synthetic probe traffic",
	Long: `Submits synthetic vehicle predictions to a running API server.

Each simulated vehicle drives a random walk over a synthetic road
network and submits comfort predictions at the configured rate.
Useful for load testing and for populating a development instance.

Example:
  go run ./cmd/roadpulse simulate
  go run ./cmd/roadpulse simulate --vehicles 50 --segments 200 --rate 100
  go run ./cmd/roadpulse simulate --url http://localhost:8090 --duration 30s`,
	RunE: runSimulate,
}

var (
	simURL      string
	simVehicles int
	simSegments int
	simRate     float64
	simDuration time.Duration
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringVar(&simURL, "url", "http://localhost:8090", "API server base URL")
	simulateCmd.Flags().IntVar(&simVehicles, "vehicles", 10, "number of simulated vehicles")
	simulateCmd.Flags().IntVar(&simSegments, "segments", 100, "number of road segments in the synthetic network")
	simulateCmd.Flags().Float64Var(&simRate, "rate", 20, "predictions per second across all vehicles")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "how long to run (0 = until interrupted)")
}

type simulatedVehicle struct {
	id      string
	segment int
	// Each vehicle has a bias so segment scores converge to distinct
	// values rather than uniform noise.
	comfortBias float64
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)
	client := httputil.New(cfg, log).DisableRetry()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	vehicles := make([]*simulatedVehicle, simVehicles)
	for i := range vehicles {
		vehicles[i] = &simulatedVehicle{
			id:          fmt.Sprintf("sim_veh_%03d", i),
			segment:     rng.Intn(simSegments),
			comfortBias: rng.Float64(),
		}
	}

	limiter := rate.NewLimiter(rate.Limit(simRate), 1)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if simDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, simDuration)
		defer cancel()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	fmt.Printf("Simulating %d vehicles over %d segments at %.0f predictions/s\n",
		simVehicles, simSegments, simRate)
	fmt.Println("Press Ctrl+C to stop")

	endpoint := simURL + "/api/v1/predictions"
	var sent, failed int

	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		v := vehicles[rng.Intn(len(vehicles))]

		// Random walk to an adjacent segment
		v.segment = (v.segment + rng.Intn(3) - 1 + simSegments) % simSegments

		// Segment roughness follows the segment index; vehicle bias and
		// noise keep individual predictions spread out.
		segmentComfort := float64(v.segment) / float64(simSegments)
		score := clamp01(segmentComfort*0.7 + v.comfortBias*0.2 + rng.Float64()*0.1)

		payload := map[string]interface{}{
			"segment_id":       fmt.Sprintf("sim_seg_%04d", v.segment),
			"vehicle_id":       v.id,
			"comfort_score":    score,
			"confidence":       0.5 + rng.Float64()*0.5,
			"pothole_detected": score < 0.2 && rng.Float64() < 0.3,
			"speed":            8 + rng.Float64()*20,
			"heading":          rng.Float64() * 360,
		}

		resp, err := client.PostJSON(ctx, endpoint, payload)
		if err != nil {
			failed++
			if failed%100 == 1 {
				log.WithError(err).Warn("Submission failed")
			}
			continue
		}
		resp.Body.Close()
		sent++

		if sent%500 == 0 {
			log.WithFields(map[string]interface{}{
				"sent":   sent,
				"failed": failed,
			}).Info("Simulation progress")
		}
	}

	fmt.Printf("\nSimulation finished: %d sent, %d failed\n", sent, failed)
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
