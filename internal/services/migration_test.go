package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentora/media-migrator/internal/pkg/dbctx"
	"github.com/rentora/media-migrator/internal/repos"
	"github.com/rentora/media-migrator/internal/repos/testutil"
	"github.com/rentora/media-migrator/internal/types"
)

type fakeSource struct {
	calls int
	fail  map[string]bool
}

func (f *fakeSource) FetchBytes(ctx context.Context, fileID string) ([]byte, error) {
	f.calls++
	if f.fail[fileID] {
		return nil, errors.New("source unavailable")
	}
	return []byte("bytes-" + fileID), nil
}

type fakeStore struct {
	calls   int
	fail    bool
	objects map[string][]byte
}

func (f *fakeStore) Store(ctx context.Context, key, contentType string, data []byte) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("store unavailable")
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return "https://cdn.test/" + key, nil
}

type fixture struct {
	gdb    *gorm.DB
	photos repos.PhotoRepo
	units  repos.UnitRepo
	source *fakeSource
	store  *fakeStore
	svc    MigrationService
	dbc    dbctx.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	photos := repos.NewPhotoRepo(gdb, log)
	units := repos.NewUnitRepo(gdb, log)
	source := &fakeSource{fail: map[string]bool{}}
	store := &fakeStore{}
	svc := NewMigrationService(photos, NewCapacityService(photos, log), source, store, log)
	svc.SetOutput(io.Discard)
	return &fixture{
		gdb:    gdb,
		photos: photos,
		units:  units,
		source: source,
		store:  store,
		svc:    svc,
		dbc:    dbctx.Context{Ctx: context.Background()},
	}
}

func (f *fixture) seedUnit(t *testing.T) *types.Unit {
	t.Helper()
	unit := &types.Unit{AgencyID: uuid.New(), Name: "unit"}
	if _, err := f.units.Create(f.dbc, []*types.Unit{unit}); err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	return unit
}

func (f *fixture) seedPhotos(t *testing.T, ps []*types.Photo) {
	t.Helper()
	for _, p := range ps {
		if p.MimeType == "" {
			p.MimeType = "image/jpeg"
		}
	}
	if _, err := f.photos.Create(f.dbc, ps); err != nil {
		t.Fatalf("seed photos: %v", err)
	}
}

func (f *fixture) photoByID(t *testing.T, id uuid.UUID) *types.Photo {
	t.Helper()
	got, err := f.photos.GetByIDs(f.dbc, []uuid.UUID{id})
	if err != nil || len(got) != 1 {
		t.Fatalf("get photo %s: err=%v len=%d", id, err, len(got))
	}
	return got[0]
}

func TestRunPromotesAndMigratesBacklog(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var seeded []*types.Photo
	for i := 0; i < 3; i++ {
		ref := fmt.Sprintf("drive-%d", i)
		seeded = append(seeded, &types.Photo{
			UnitID:          unit.ID,
			DriveFileID:     &ref,
			Slot:            types.SlotPrimary,
			MigrationStatus: types.MigrationStatusNone,
		})
	}
	f.seedPhotos(t, seeded)

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Promoted != 3 {
		t.Fatalf("promoted: want=3 got=%d", stats.Promoted)
	}
	if stats.Succeeded != 3 || stats.Failed != 0 {
		t.Fatalf("stats: want succeeded=3 failed=0 got succeeded=%d failed=%d", stats.Succeeded, stats.Failed)
	}
	if stats.FinalCounts.Done != 3 || stats.FinalCounts.Pending != 0 || stats.FinalCounts.Error != 0 {
		t.Fatalf("final counts: %+v", stats.FinalCounts)
	}

	wantPrefix := fmt.Sprintf("units/%s/photos/hd/", unit.ID)
	for _, p := range seeded {
		got := f.photoByID(t, p.ID)
		if got.MigrationStatus != types.MigrationStatusDone {
			t.Fatalf("photo %s: want=done got=%s", p.ID, got.MigrationStatus)
		}
		if got.StorageURL == nil || !strings.HasPrefix(*got.StorageURL, "https://cdn.test/"+wantPrefix) {
			t.Fatalf("photo %s storage url: %v", p.ID, got.StorageURL)
		}
		if got.StorageKey == nil || !strings.HasSuffix(*got.StorageKey, ".jpg") {
			t.Fatalf("photo %s storage key: %v", p.ID, got.StorageKey)
		}
		if got.QualityVersion != 2 {
			t.Fatalf("photo %s quality version: want=2 got=%d", p.ID, got.QualityVersion)
		}
	}
	if len(f.store.objects) != 3 {
		t.Fatalf("stored objects: want=3 got=%d", len(f.store.objects))
	}
}

func TestRunIsolatesSinglePhotoFailure(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var seeded []*types.Photo
	for i := 1; i <= 5; i++ {
		ref := fmt.Sprintf("f%d", i)
		seeded = append(seeded, &types.Photo{
			UnitID:          unit.ID,
			DriveFileID:     &ref,
			MigrationStatus: types.MigrationStatusPending,
		})
	}
	f.seedPhotos(t, seeded)
	f.source.fail["f3"] = true

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Succeeded != 4 || stats.Failed != 1 {
		t.Fatalf("stats: want succeeded=4 failed=1 got succeeded=%d failed=%d", stats.Succeeded, stats.Failed)
	}
	if stats.TotalErrors != 1 || len(stats.Errors) != 1 {
		t.Fatalf("error records: total=%d detailed=%d", stats.TotalErrors, len(stats.Errors))
	}
	if stats.Errors[0].Message != "Failed to download from source" {
		t.Fatalf("error message: %q", stats.Errors[0].Message)
	}

	for _, p := range seeded {
		got := f.photoByID(t, p.ID)
		if *p.DriveFileID == "f3" {
			if got.MigrationStatus != types.MigrationStatusError {
				t.Fatalf("failed photo: want=error got=%s", got.MigrationStatus)
			}
			if got.MigrationError == nil || *got.MigrationError != "Failed to download from source" {
				t.Fatalf("failed photo message: %v", got.MigrationError)
			}
		} else if got.MigrationStatus != types.MigrationStatusDone {
			t.Fatalf("photo %s: want=done got=%s", p.ID, got.MigrationStatus)
		}
	}
}

func TestRunRejectsPhotoWhenSlotAtCapacity(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var occupants []*types.Photo
	for i := 0; i < SlotPrimaryCapacity; i++ {
		occupants = append(occupants, &types.Photo{
			UnitID:          unit.ID,
			Slot:            types.SlotPrimary,
			MigrationStatus: types.MigrationStatusDone,
		})
	}
	f.seedPhotos(t, occupants)

	ref := "overflow"
	extra := &types.Photo{
		UnitID:          unit.ID,
		DriveFileID:     &ref,
		Slot:            types.SlotPrimary,
		MigrationStatus: types.MigrationStatusPending,
	}
	f.seedPhotos(t, []*types.Photo{extra})

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed: want=1 got=%d", stats.Failed)
	}
	got := f.photoByID(t, extra.ID)
	if got.MigrationStatus != types.MigrationStatusError {
		t.Fatalf("overflow photo: want=error got=%s", got.MigrationStatus)
	}
	if got.MigrationError == nil || !strings.Contains(*got.MigrationError, "capacity") {
		t.Fatalf("overflow photo message: %v", got.MigrationError)
	}
	// Capacity is rejected before any adapter call.
	if f.source.calls != 0 || f.store.calls != 0 {
		t.Fatalf("adapters touched on capacity rejection: source=%d store=%d", f.source.calls, f.store.calls)
	}
}

func TestRunRecordsMissingSourceReference(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	f.seedPhotos(t, []*types.Photo{{
		UnitID:          unit.ID,
		MigrationStatus: types.MigrationStatusPending,
	}})

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Failed != 1 || stats.TotalErrors != 1 {
		t.Fatalf("stats: failed=%d errors=%d", stats.Failed, stats.TotalErrors)
	}
	if stats.Errors[0].Message != "No source reference" {
		t.Fatalf("error message: %q", stats.Errors[0].Message)
	}
	if f.source.calls != 0 {
		t.Fatalf("source must not be called without a reference")
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var seeded []*types.Photo
	for i := 0; i < 4; i++ {
		ref := fmt.Sprintf("d%d", i)
		seeded = append(seeded, &types.Photo{
			UnitID:          unit.ID,
			DriveFileID:     &ref,
			MigrationStatus: types.MigrationStatusPending,
		})
	}
	f.seedPhotos(t, seeded)

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 2, DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.WouldProcess != 4 {
		t.Fatalf("would process: want=4 got=%d", stats.WouldProcess)
	}
	if f.source.calls != 0 || f.store.calls != 0 {
		t.Fatalf("dry run touched adapters: source=%d store=%d", f.source.calls, f.store.calls)
	}
	counts, err := f.photos.StatusCounts(f.dbc, uuid.Nil)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Pending != 4 || counts.Processing != 0 || counts.Done != 0 {
		t.Fatalf("dry run mutated statuses: %+v", counts)
	}
}

func TestDryRunRespectsBatchCap(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var seeded []*types.Photo
	for i := 0; i < 7; i++ {
		ref := fmt.Sprintf("d%d", i)
		seeded = append(seeded, &types.Photo{
			UnitID:          unit.ID,
			DriveFileID:     &ref,
			MigrationStatus: types.MigrationStatusPending,
		})
	}
	f.seedPhotos(t, seeded)

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 2, MaxBatches: 2, DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.WouldProcess != 4 {
		t.Fatalf("would process: want=4 got=%d", stats.WouldProcess)
	}
}

func TestRunStopsAtBatchCap(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var seeded []*types.Photo
	for i := 0; i < 120; i++ {
		ref := fmt.Sprintf("bulk-%03d", i)
		seeded = append(seeded, &types.Photo{
			UnitID:          unit.ID,
			DriveFileID:     &ref,
			MigrationStatus: types.MigrationStatusPending,
		})
	}
	f.seedPhotos(t, seeded)

	stats, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 50, MaxBatches: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Batches != 2 || stats.Processed != 100 {
		t.Fatalf("batch cap: batches=%d processed=%d", stats.Batches, stats.Processed)
	}
	if stats.FinalCounts.Done != 100 {
		t.Fatalf("done: want=100 got=%d", stats.FinalCounts.Done)
	}
	if stats.FinalCounts.Pending != 20 {
		t.Fatalf("pending left: want=20 got=%d", stats.FinalCounts.Pending)
	}
}

// Terminal-state exclusivity over the full photo set after a mixed run:
// storage_url is set iff done, migration_error is set iff error.
func TestTerminalStateExclusivityAfterRun(t *testing.T) {
	f := newFixture(t)
	unit := f.seedUnit(t)

	var seeded []*types.Photo
	for i := 0; i < 6; i++ {
		ref := fmt.Sprintf("m%d", i)
		p := &types.Photo{
			UnitID:          unit.ID,
			DriveFileID:     &ref,
			MigrationStatus: types.MigrationStatusPending,
		}
		if i == 4 {
			p.DriveFileID = nil
		}
		seeded = append(seeded, p)
	}
	f.seedPhotos(t, seeded)
	f.source.fail["m2"] = true

	if _, err := f.svc.Run(context.Background(), RunOptions{BatchSize: 3}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var all []*types.Photo
	if err := f.gdb.Find(&all).Error; err != nil {
		t.Fatalf("load photos: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("photos: want=6 got=%d", len(all))
	}
	for _, p := range all {
		hasURL := p.StorageURL != nil
		hasErr := p.MigrationError != nil
		if hasURL != (p.MigrationStatus == types.MigrationStatusDone) {
			t.Fatalf("photo %s: status=%s storage_url set=%v", p.ID, p.MigrationStatus, hasURL)
		}
		if hasErr != (p.MigrationStatus == types.MigrationStatusError) {
			t.Fatalf("photo %s: status=%s migration_error set=%v", p.ID, p.MigrationStatus, hasErr)
		}
	}
}

func TestDestinationKey(t *testing.T) {
	unitID := uuid.New()
	photoID := uuid.New()
	p := &types.Photo{ID: photoID, UnitID: unitID, MimeType: "image/png"}
	want := fmt.Sprintf("units/%s/photos/hd/%s.png", unitID, photoID)
	if got := destinationKey(p); got != want {
		t.Fatalf("key: want=%s got=%s", want, got)
	}

	p.MimeType = "image/jpeg"
	if got := destinationKey(p); !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("jpeg key: %s", got)
	}
	p.MimeType = "IMAGE/PNG"
	if got := destinationKey(p); !strings.HasSuffix(got, ".png") {
		t.Fatalf("uppercase png key: %s", got)
	}
	p.MimeType = ""
	if got := destinationKey(p); !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("unknown mime key: %s", got)
	}
}
