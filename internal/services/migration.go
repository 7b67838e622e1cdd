package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rentora/media-migrator/internal/pkg/dbctx"
	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/repos"
	"github.com/rentora/media-migrator/internal/types"
)

// SourceProvider fetches original photo bytes from the external content
// source. Errors are soft: the driver records them per item and moves on.
type SourceProvider interface {
	FetchBytes(ctx context.Context, fileID string) ([]byte, error)
}

// ObjectStore uploads migrated bytes and returns the stable public URL.
// Same soft-error contract as SourceProvider.
type ObjectStore interface {
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
}

const (
	DefaultBatchSize = 50
	DefaultItemDelay = 200 * time.Millisecond

	maxErrorDetails = 10
)

// Per-item error messages recorded on the photo row. Permanent preconditions
// and capacity rejections keep distinct texts so an operator can tell them
// from transient transfer failures.
const (
	errNoSourceRef  = "No source reference"
	errDownloadFail = "Failed to download from source"
	errUploadFail   = "Failed to upload to destination"
)

type RunOptions struct {
	BatchSize  int
	AgencyID   uuid.UUID
	DryRun     bool
	MaxBatches int           // 0 = unlimited
	ItemDelay  time.Duration // pause between items, source API rate limit
}

type ItemError struct {
	PhotoID uuid.UUID
	Message string
}

type RunStats struct {
	Batches      int
	Processed    int
	Succeeded    int
	Failed       int
	WouldProcess int // dry run only
	Promoted     int64
	Errors       []ItemError // first maxErrorDetails only
	TotalErrors  int
	FinalCounts  types.StatusCounts
}

// MigrationService drains the pending photo backlog in bounded batches.
// A single photo's failure never aborts the run; metadata store failures do.
type MigrationService interface {
	Run(ctx context.Context, opts RunOptions) (*RunStats, error)
	SetOutput(w io.Writer)
}

type migrationService struct {
	log      *logger.Logger
	photos   repos.PhotoRepo
	capacity CapacityService
	source   SourceProvider
	store    ObjectStore
	out      io.Writer
}

func NewMigrationService(
	photos repos.PhotoRepo,
	capacity CapacityService,
	source SourceProvider,
	store ObjectStore,
	baseLog *logger.Logger,
) MigrationService {
	return &migrationService{
		log:      baseLog.With("service", "MigrationService"),
		photos:   photos,
		capacity: capacity,
		source:   source,
		store:    store,
		out:      os.Stdout,
	}
}

// SetOutput redirects progress output; used by tests and quiet runs.
func (m *migrationService) SetOutput(w io.Writer) { m.out = w }

func (m *migrationService) Run(ctx context.Context, opts RunOptions) (*RunStats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	dbc := dbctx.Context{Ctx: ctx}
	stats := &RunStats{}

	counts, err := m.photos.StatusCounts(dbc, opts.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("read status counts: %w", err)
	}
	m.log.Info("Migration run starting",
		"none", counts.None,
		"pending", counts.Pending,
		"processing", counts.Processing,
		"done", counts.Done,
		"error", counts.Error,
		"dry_run", opts.DryRun,
	)

	// Seed the pending queue only when there is no existing backlog, so a
	// resumed run keeps draining instead of re-promoting.
	if counts.Pending == 0 && counts.None > 0 && !opts.DryRun {
		promoted, err := m.photos.BulkPromoteNoneToPending(dbc, opts.AgencyID)
		if err != nil {
			return nil, fmt.Errorf("promote none to pending: %w", err)
		}
		stats.Promoted = promoted
		m.log.Info("Promoted photos to pending", "count", promoted)
	}

	if opts.DryRun {
		return m.dryRun(dbc, opts, stats)
	}

	for {
		if opts.MaxBatches > 0 && stats.Batches >= opts.MaxBatches {
			m.log.Info("Batch cap reached, stopping", "batches", stats.Batches)
			break
		}
		batch, err := m.photos.ClaimPending(dbc, opts.BatchSize, opts.AgencyID)
		if err != nil {
			return nil, fmt.Errorf("claim pending batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		stats.Batches++

		for _, photo := range batch {
			itemErr, err := m.processPhoto(ctx, dbc, photo)
			if err != nil {
				return nil, err
			}
			stats.Processed++
			if itemErr == nil {
				stats.Succeeded++
				fmt.Fprint(m.out, ".")
			} else {
				stats.Failed++
				stats.TotalErrors++
				if len(stats.Errors) < maxErrorDetails {
					stats.Errors = append(stats.Errors, *itemErr)
				}
				fmt.Fprint(m.out, "x")
			}
			if opts.ItemDelay > 0 {
				time.Sleep(opts.ItemDelay)
			}
		}
		fmt.Fprintf(m.out, "\nbatch %d: processed=%d succeeded=%d failed=%d\n",
			stats.Batches, stats.Processed, stats.Succeeded, stats.Failed)
	}

	final, err := m.photos.StatusCounts(dbc, opts.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("read final status counts: %w", err)
	}
	stats.FinalCounts = final
	m.printSummary(stats)
	return stats, nil
}

// dryRun reports the pending backlog without claiming anything and without
// touching either adapter.
func (m *migrationService) dryRun(dbc dbctx.Context, opts RunOptions, stats *RunStats) (*RunStats, error) {
	photos, err := m.photos.ListPending(dbc, 0, opts.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	wouldProcess := len(photos)
	if opts.MaxBatches > 0 {
		limit := opts.MaxBatches * opts.BatchSize
		if wouldProcess > limit {
			wouldProcess = limit
		}
	}
	stats.WouldProcess = wouldProcess

	final, err := m.photos.StatusCounts(dbc, opts.AgencyID)
	if err != nil {
		return nil, fmt.Errorf("read final status counts: %w", err)
	}
	stats.FinalCounts = final

	fmt.Fprintf(m.out, "[dry-run] would process %d pending photo(s)\n", wouldProcess)
	return stats, nil
}

// processPhoto runs one already-claimed photo to a terminal state for this
// run. A non-nil ItemError is a recorded soft failure; a non-nil error means
// the metadata store itself failed and the run must abort.
func (m *migrationService) processPhoto(ctx context.Context, dbc dbctx.Context, photo *types.Photo) (*ItemError, error) {
	itemLog := m.log.With("photo_id", photo.ID.String(), "unit_id", photo.UnitID.String())

	if photo.DriveFileID == nil || strings.TrimSpace(*photo.DriveFileID) == "" {
		return m.recordFailure(dbc, photo, errNoSourceRef, itemLog, nil)
	}

	if photo.Slot != types.SlotNone {
		ok, err := m.capacity.CanPromote(dbc, photo.UnitID, photo.Slot)
		if err != nil {
			return nil, fmt.Errorf("capacity check for photo %s: %w", photo.ID, err)
		}
		if !ok {
			msg := fmt.Sprintf("Slot %s is at capacity", photo.Slot)
			return m.recordFailure(dbc, photo, msg, itemLog, nil)
		}
	}

	data, err := m.source.FetchBytes(ctx, *photo.DriveFileID)
	if err != nil {
		return m.recordFailure(dbc, photo, errDownloadFail, itemLog, err)
	}

	key := destinationKey(photo)
	url, err := m.store.Store(ctx, key, photo.MimeType, data)
	if err != nil {
		return m.recordFailure(dbc, photo, errUploadFail, itemLog, err)
	}

	if err := m.photos.MarkDone(dbc, photo.ID, url, key); err != nil {
		return nil, fmt.Errorf("mark done for photo %s: %w", photo.ID, err)
	}
	itemLog.Debug("Photo migrated", "key", key)
	return nil, nil
}

// recordFailure writes the terminal error state for one photo. Its own error
// return is fatal: if the metadata store cannot record the failure, the run
// has lost its checkpoint and must stop.
func (m *migrationService) recordFailure(dbc dbctx.Context, photo *types.Photo, msg string, itemLog *logger.Logger, cause error) (*ItemError, error) {
	if cause != nil {
		itemLog.Warn("Photo migration failed", "reason", msg, "error", cause)
	} else {
		itemLog.Warn("Photo migration failed", "reason", msg)
	}
	if err := m.photos.MarkError(dbc, photo.ID, msg); err != nil {
		return nil, fmt.Errorf("mark error for photo %s: %w", photo.ID, err)
	}
	return &ItemError{PhotoID: photo.ID, Message: msg}, nil
}

func (m *migrationService) printSummary(stats *RunStats) {
	fmt.Fprintf(m.out, "\nmigration complete: processed=%d succeeded=%d failed=%d\n",
		stats.Processed, stats.Succeeded, stats.Failed)
	fmt.Fprintf(m.out, "status counts: none=%d pending=%d processing=%d done=%d error=%d\n",
		stats.FinalCounts.None,
		stats.FinalCounts.Pending,
		stats.FinalCounts.Processing,
		stats.FinalCounts.Done,
		stats.FinalCounts.Error,
	)
	if stats.TotalErrors > 0 {
		fmt.Fprintf(m.out, "errors (%d total, first %d):\n", stats.TotalErrors, len(stats.Errors))
		for _, e := range stats.Errors {
			fmt.Fprintf(m.out, "  %s: %s\n", e.PhotoID, e.Message)
		}
	}
}

// destinationKey builds the durable storage path for a photo's migrated
// bytes: units/{unitID}/photos/hd/{photoID}.{ext}.
func destinationKey(photo *types.Photo) string {
	return fmt.Sprintf("units/%s/photos/hd/%s.%s", photo.UnitID, photo.ID, extForMime(photo.MimeType))
}

func extForMime(mimeType string) string {
	if strings.Contains(strings.ToLower(mimeType), "png") {
		return "png"
	}
	return "jpg"
}
