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
	"github.com/rentora/media-migrator/internal/platform/gcp"
	"github.com/rentora/media-migrator/internal/platform/gdrive"
	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/repos"
	"github.com/rentora/media-migrator/internal/services"
)

func main() {
	var (
		batchSize  int
		agency     string
		dryRun     bool
		maxBatches int
		delay      time.Duration
		statusOnly bool
	)
	flag.IntVar(&batchSize, "batch", services.DefaultBatchSize, "photos per batch")
	flag.StringVar(&agency, "agency", "", "restrict to units of this agency id")
	flag.BoolVar(&dryRun, "dry-run", false, "report pending work without migrating")
	flag.IntVar(&maxBatches, "max-batches", 0, "stop after this many batches (0 = unlimited)")
	flag.DurationVar(&delay, "delay", services.DefaultItemDelay, "pause between photos")
	flag.BoolVar(&statusOnly, "status", false, "print status counts and exit")
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
	ctx := context.Background()

	if statusOnly {
		counts, err := photoRepo.StatusCounts(dbctx.Context{Ctx: ctx}, agencyID)
		if err != nil {
			log.Error("Failed to read status counts", "error", err)
			os.Exit(1)
		}
		fmt.Printf("none=%d pending=%d processing=%d done=%d error=%d total=%d\n",
			counts.None, counts.Pending, counts.Processing, counts.Done, counts.Error, counts.Total())
		return
	}

	capacityService := services.NewCapacityService(photoRepo, log)

	// Dry runs never touch either adapter, so skip their credential checks.
	var source services.SourceProvider
	var store services.ObjectStore
	if !dryRun {
		driveService, err := gdrive.NewDriveService(log)
		if err != nil {
			log.Error("Drive init failed", "error", err)
			os.Exit(1)
		}
		bucketService, err := gcp.NewBucketService(log)
		if err != nil {
			log.Error("Bucket init failed", "error", err)
			os.Exit(1)
		}
		source = driveService
		store = bucketService
	}

	migrationService := services.NewMigrationService(photoRepo, capacityService, source, store, log)

	stats, err := migrationService.Run(ctx, services.RunOptions{
		BatchSize:  batchSize,
		AgencyID:   agencyID,
		DryRun:     dryRun,
		MaxBatches: maxBatches,
		ItemDelay:  delay,
	})
	if err != nil {
		log.Error("Migration run failed", "error", err)
		os.Exit(1)
	}

	// Per-photo failures are routine; they are already recorded and reported.
	log.Info("Migration run finished",
		"batches", stats.Batches,
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
	)
}
