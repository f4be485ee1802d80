package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaylee/roadpulse/backend/internal/history"
	"github.com/jaylee/roadpulse/backend/pkg/config"
	"github.com/jaylee/roadpulse/backend/pkg/database"
	"github.com/jaylee/roadpulse/backend/pkg/logger"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired data from the database",
	Long: `Deletes expired segment snapshot rows from the database.

The running API server sweeps its in-memory cache on its own
schedule; this command reclaims the persistent side. Requires
DB_ENABLED=true and DATABASE_URL.

Example:
  go run ./cmd/roadpulse cleanup`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Database.Enabled {
		return fmt.Errorf("database is disabled; set DB_ENABLED=true")
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	repo := history.NewRepository(db.Pool)
	removed, err := repo.DeleteExpiredSnapshots(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("delete expired snapshots: %w", err)
	}

	log.WithField("removed", removed).Info("Expired snapshot rows deleted")
	fmt.Printf("Removed %d expired snapshot rows\n", removed)

	return nil
}
