package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rentora/media-migrator/internal/db"
	"github.com/rentora/media-migrator/internal/pkg/dbctx"
	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/repos"
)

// Operator tool: moves error photos, and processing photos stuck longer than
// -stale-after (leftovers of a killed run), back to pending so the next
// migration run picks them up again.
func main() {
	var (
		agency     string
		staleAfter time.Duration
		dryRun     bool
	)
	flag.StringVar(&agency, "agency", "", "restrict to units of this agency id")
	flag.DurationVar(&staleAfter, "stale-after", time.Hour, "requeue processing photos older than this")
	flag.BoolVar(&dryRun, "dry-run", false, "count requeueable photos without moving them")
	flag.Parse()

	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	agencyID := uuid.Nil
	if agency != "" {
		agencyID, err = uuid.Parse(agency)
		if err != nil {
			log.Error("Invalid agency id", "agency", agency, "error", err)
			os.Exit(1)
		}
	}

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}

	photoRepo := repos.NewPhotoRepo(postgresService.DB(), log)
	dbc := dbctx.Context{Ctx: context.Background()}

	if dryRun {
		count, err := photoRepo.CountRequeueable(dbc, agencyID, staleAfter)
		if err != nil {
			log.Error("Failed to count requeueable photos", "error", err)
			os.Exit(1)
		}
		fmt.Printf("[dry-run] would requeue %d photo(s)\n", count)
		return
	}

	moved, err := photoRepo.Requeue(dbc, agencyID, staleAfter)
	if err != nil {
		log.Error("Requeue failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d photo(s)\n", moved)
}
