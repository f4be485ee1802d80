package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/jaylee/roadpulse/backend/internal/api/handlers"
	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
	"github.com/jaylee/roadpulse/backend/pkg/redis"
)

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps carries everything the router wires up.
type RouterDeps struct {
	Predictions *handlers.PredictionHandler
	Segments    *handlers.SegmentHandler
	Routes      *handlers.RouteHandler
	Admin       *handlers.AdminHandler
	Stats       *handlers.StatsHandler
	LiveHub     *LiveHub

	// Optional: nil disables the corresponding health probe / limiter
	DB          Pinger
	Redis       *redis.Client
	RateLimiter *redis.RateLimiter
	Ingest      config.IngestConfig

	Logger *logger.Logger
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps RouterDeps) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(deps)).Methods("GET")

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	ingest := api.PathPrefix("/predictions").Subrouter()
	ingest.HandleFunc("", deps.Predictions.Ingest).Methods("POST")
	if deps.RateLimiter != nil && deps.Ingest.RateLimit > 0 {
		ingest.Use(rateLimitMiddleware(deps.RateLimiter, deps.Ingest, deps.Logger))
	}

	api.HandleFunc("/segments", deps.Segments.List).Methods("GET")
	api.Handle("/segments/live", deps.LiveHub).Methods("GET")
	api.HandleFunc("/segments/{segment_id}", deps.Segments.Get).Methods("GET")
	api.HandleFunc("/segments/{segment_id}/history", deps.Segments.History).Methods("GET")

	api.HandleFunc("/routes/evaluate", deps.Routes.Evaluate).Methods("POST")

	api.HandleFunc("/stats", deps.Stats.Get).Methods("GET")

	api.HandleFunc("/admin/cleanup", deps.Admin.Cleanup).Methods("POST")
	api.HandleFunc("/admin/cache-clear", deps.Admin.CacheClear).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(recoveryMiddleware(deps.Logger))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(deps RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{
			"api":   "ok",
			"cache": "ok",
		}
		status := "ok"

		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.Ping(ctx); err != nil {
				components["database"] = "unreachable"
				status = "degraded"
			} else {
				components["database"] = "ok"
			}
		}

		if deps.Redis != nil {
			if deps.Redis.Enabled() {
				components["redis"] = "ok"
			} else {
				components["redis"] = "disabled"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     status,
			"service":    "roadpulse-api",
			"components": components,
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware caps per-source submission rates using the Redis
// sliding window. The source key is the client IP. A disabled Redis
// client allows everything, so the middleware is safe to install
// unconditionally.
func rateLimitMiddleware(limiter *redis.RateLimiter, cfg config.IngestConfig, log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				source = r.RemoteAddr
			}

			allowed, remaining, err := limiter.Allow(r.Context(), redis.RateLimitConfig{
				Key:    source,
				Limit:  cfg.RateLimit,
				Window: cfg.RateWindow,
			})
			if err != nil {
				// Rate limiting must not take ingestion down with it
				log.WithError(err).Warn("Rate limit check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Rate limit exceeded",
				})
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
