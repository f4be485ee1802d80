package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaylee/roadpulse/backend/internal/aggregator"
	"github.com/jaylee/roadpulse/backend/internal/api"
	"github.com/jaylee/roadpulse/backend/internal/api/handlers"
	"github.com/jaylee/roadpulse/backend/internal/contracts"
	"github.com/jaylee/roadpulse/backend/internal/history"
	"github.com/jaylee/roadpulse/backend/internal/route"
	"github.com/jaylee/roadpulse/backend/internal/scheduler"
	"github.com/jaylee/roadpulse/backend/internal/scheduler/jobs"
	"github.com/jaylee/roadpulse/backend/internal/segcache"
	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/database"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
	"github.com/jaylee/roadpulse/backend/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the RoadPulse HTTP API server.

This command:
- Aggregates incoming vehicle predictions per segment
- Serves segment snapshots and route evaluation
- Runs the background cache cleanup job

Endpoints:
  POST /api/v1/predictions                    - Submit predictions
  GET  /api/v1/segments                       - List segments
  GET  /api/v1/segments/{id}                  - Segment snapshot
  GET  /api/v1/segments/{id}/history          - Recent predictions
  GET  /api/v1/segments/live                  - Websocket live feed
  POST /api/v1/routes/evaluate                - Route cost evaluation
  GET  /api/v1/stats                          - Service statistics
  GET  /health                                - Health check

Example:
  go run ./cmd/roadpulse api
  go run ./cmd/roadpulse api --port 8090`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (overrides PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if apiPort != "" {
		cfg.Port = apiPort
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port":        cfg.Port,
		"env":         cfg.Env,
		"buffer_size": cfg.Aggregator.BufferSize,
		"cache_ttl":   cfg.Cache.TTL.String(),
	}).Info("Initializing RoadPulse API server")

	// 3. Core: cache + aggregator + route evaluator
	cache := segcache.New(cfg.Cache.TTL, log)
	agg := aggregator.New(cfg.Aggregator.BufferSize, cache, log)
	evaluator := route.NewEvaluator(cache)

	// 4. Optional Postgres: audit log, snapshot persistence, warm start
	var db *database.DB
	var repo *history.Repository
	var writer *history.Writer
	if cfg.Database.Enabled {
		db, err = database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo = history.NewRepository(db.Pool)
		if err := repo.EnsureSchema(cmd.Context()); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}

		snaps, err := repo.LoadValidSnapshots(cmd.Context(), time.Now())
		if err != nil {
			return fmt.Errorf("load snapshots: %w", err)
		}
		cache.Restore(snaps)

		writer = history.NewWriter(repo, history.WriterConfig{}, log)
		writer.Start(context.Background())
		defer writer.Stop()

		log.Info("Connected to database")
	}

	// 5. Optional Redis: snapshot mirror + ingest rate limiting
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	redisCache := redis.NewCache(redisClient, "roadpulse")
	rateLimiter := redis.NewRateLimiter(redisClient, "roadpulse")

	if redisClient.Enabled() {
		log.Info("Connected to Redis")
	}

	// 6. Live feed hub
	hub := api.NewLiveHub(log)

	// 7. Publish hooks: live feed, history writer, snapshot mirror
	agg.OnPublish(func(_ contracts.Prediction, snap contracts.SegmentSnapshot) {
		hub.Publish(snap)
	})
	if writer != nil {
		agg.OnPublish(writer.Record)
	}
	if redisClient.Enabled() {
		ttl := cfg.Cache.TTL
		agg.OnPublish(func(_ contracts.Prediction, snap contracts.SegmentSnapshot) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := redisCache.Set(ctx, redis.SegmentKey(snap.SegmentID), snap, ttl); err != nil {
				log.WithError(err).Warn("Failed to mirror snapshot to Redis")
			}
		})
	}

	// 8. Handlers + router
	deps := api.RouterDeps{
		Predictions: handlers.NewPredictionHandler(agg, cfg.Ingest.MaxBatch, log),
		Segments:    handlers.NewSegmentHandler(cache, agg, log),
		Routes:      handlers.NewRouteHandler(evaluator, log),
		Admin:       handlers.NewAdminHandler(cache, repo, log),
		Stats:       handlers.NewStatsHandler(agg, log),
		LiveHub:     hub,
		Redis:       redisClient,
		RateLimiter: rateLimiter,
		Ingest:      cfg.Ingest,
		Logger:      log,
	}
	if db != nil {
		deps.DB = db
	}
	router := api.NewRouter(deps)

	// 9. Scheduler: periodic cache sweep, daily snapshot persistence
	sched := scheduler.New(log)
	if err := sched.AddJob(jobs.NewCacheCleanupJob(cache, cfg.Cache.CleanupSchedule, log)); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}
	if repo != nil {
		if err := sched.AddJob(jobs.NewSnapshotPersistJob(cache, repo, log)); err != nil {
			return fmt.Errorf("schedule snapshot persist: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// 10. Start server with graceful shutdown
	server := api.New(cfg, log, router)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("RoadPulse API running on http://localhost:%s\n", cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
