package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentora/media-migrator/internal/pkg/dbctx"
	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/types"
)

// PhotoRepo is the system of record for per-photo migration state.
//
// Claiming works by flipping a batch of pending rows to processing inside a
// single transaction, so a claimed photo is never handed out twice — neither
// within a run nor by a second ClaimPending call.
type PhotoRepo interface {
	Create(dbc dbctx.Context, photos []*types.Photo) ([]*types.Photo, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Photo, error)
	ListPending(dbc dbctx.Context, limit int, agencyID uuid.UUID) ([]*types.Photo, error)
	ClaimPending(dbc dbctx.Context, limit int, agencyID uuid.UUID) ([]*types.Photo, error)
	MarkDone(dbc dbctx.Context, id uuid.UUID, storageURL, storageKey string) error
	MarkError(dbc dbctx.Context, id uuid.UUID, message string) error
	BulkPromoteNoneToPending(dbc dbctx.Context, agencyID uuid.UUID) (int64, error)
	StatusCounts(dbc dbctx.Context, agencyID uuid.UUID) (types.StatusCounts, error)
	CountInSlot(dbc dbctx.Context, unitID uuid.UUID, slot string) (int64, error)
	Requeue(dbc dbctx.Context, agencyID uuid.UUID, staleAfter time.Duration) (int64, error)
	CountRequeueable(dbc dbctx.Context, agencyID uuid.UUID, staleAfter time.Duration) (int64, error)
}

type photoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPhotoRepo(db *gorm.DB, baseLog *logger.Logger) PhotoRepo {
	return &photoRepo{
		db:  db,
		log: baseLog.With("repo", "PhotoRepo"),
	}
}

func (r *photoRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// scopeAgency restricts a photo query to units owned by the given agency.
// A nil agency id means no restriction.
func scopeAgency(q *gorm.DB, agencyID uuid.UUID) *gorm.DB {
	if agencyID == uuid.Nil {
		return q
	}
	return q.Where("unit_id IN (?)",
		q.Session(&gorm.Session{NewDB: true}).
			Model(&types.Unit{}).
			Select("id").
			Where("agency_id = ?", agencyID),
	)
}

func (r *photoRepo) Create(dbc dbctx.Context, photos []*types.Photo) ([]*types.Photo, error) {
	if len(photos) == 0 {
		return []*types.Photo{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&photos).Error; err != nil {
		return nil, err
	}
	return photos, nil
}

func (r *photoRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Photo, error) {
	var out []*types.Photo
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListPending reads pending photos FIFO without claiming them. Dry runs use
// this so a reported photo keeps its pending status.
func (r *photoRepo) ListPending(dbc dbctx.Context, limit int, agencyID uuid.UUID) ([]*types.Photo, error) {
	var out []*types.Photo
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Where("migration_status = ?", types.MigrationStatusPending)
	q = scopeAgency(q, agencyID)
	q = q.Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimPending selects up to limit pending photos FIFO and flips them to
// processing before returning them.
func (r *photoRepo) ClaimPending(dbc dbctx.Context, limit int, agencyID uuid.UUID) ([]*types.Photo, error) {
	if limit <= 0 {
		return []*types.Photo{}, nil
	}
	var claimed []*types.Photo
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var batch []*types.Photo
		q := tx.Where("migration_status = ?", types.MigrationStatusPending)
		q = scopeAgency(q, agencyID)
		if err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(batch))
		for _, p := range batch {
			ids = append(ids, p.ID)
		}
		if err := tx.Model(&types.Photo{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"migration_status": types.MigrationStatusProcessing,
				"updated_at":       time.Now(),
			}).Error; err != nil {
			return err
		}
		for _, p := range batch {
			p.MigrationStatus = types.MigrationStatusProcessing
		}
		claimed = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		claimed = []*types.Photo{}
	}
	return claimed, nil
}

// MarkDone finalizes a successful migration. A done photo never carries a
// stale error message, so migration_error is cleared here.
func (r *photoRepo) MarkDone(dbc dbctx.Context, id uuid.UUID, storageURL, storageKey string) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Photo{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"migration_status": types.MigrationStatusDone,
			"migration_error":  nil,
			"storage_url":      storageURL,
			"storage_key":      storageKey,
			"quality_version":  2,
			"migrated_at":      now,
			"updated_at":       now,
		}).Error
}

func (r *photoRepo) MarkError(dbc dbctx.Context, id uuid.UUID, message string) error {
	if id == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Photo{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"migration_status": types.MigrationStatusError,
			"migration_error":  message,
			"updated_at":       time.Now(),
		}).Error
}

// BulkPromoteNoneToPending queues every none-status photo for migration.
// Idempotent: a second call with no new none photos promotes nothing.
func (r *photoRepo) BulkPromoteNoneToPending(dbc dbctx.Context, agencyID uuid.UUID) (int64, error) {
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Photo{}).
		Where("migration_status = ?", types.MigrationStatusNone)
	q = scopeAgency(q, agencyID)
	res := q.Updates(map[string]interface{}{
		"migration_status": types.MigrationStatusPending,
		"updated_at":       time.Now(),
	})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *photoRepo) StatusCounts(dbc dbctx.Context, agencyID uuid.UUID) (types.StatusCounts, error) {
	var rows []struct {
		MigrationStatus string
		N               int64
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Photo{}).
		Select("migration_status, COUNT(*) AS n").
		Group("migration_status")
	q = scopeAgency(q, agencyID)
	if err := q.Find(&rows).Error; err != nil {
		return types.StatusCounts{}, err
	}
	var counts types.StatusCounts
	for _, row := range rows {
		switch row.MigrationStatus {
		case types.MigrationStatusNone:
			counts.None = row.N
		case types.MigrationStatusPending:
			counts.Pending = row.N
		case types.MigrationStatusProcessing:
			counts.Processing = row.N
		case types.MigrationStatusDone:
			counts.Done = row.N
		case types.MigrationStatusError:
			counts.Error = row.N
		}
	}
	return counts, nil
}

// CountInSlot counts non-hidden photos in a unit's slot across every
// migration status. Hidden photos do not occupy slot capacity.
func (r *photoRepo) CountInSlot(dbc dbctx.Context, unitID uuid.UUID, slot string) (int64, error) {
	var count int64
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Photo{}).
		Where("unit_id = ? AND slot = ? AND is_hidden = ?", unitID, slot, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *photoRepo) requeueScope(dbc dbctx.Context, agencyID uuid.UUID, staleAfter time.Duration) *gorm.DB {
	staleCutoff := time.Now().Add(-staleAfter)
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Photo{}).
		Where(
			"migration_status = ? OR (migration_status = ? AND updated_at < ?)",
			types.MigrationStatusError,
			types.MigrationStatusProcessing,
			staleCutoff,
		)
	return scopeAgency(q, agencyID)
}

// Requeue moves error photos, and processing photos stuck longer than
// staleAfter (a crashed run's leftovers), back to pending. The recorded
// error message is cleared so a later success cannot resurrect it.
func (r *photoRepo) Requeue(dbc dbctx.Context, agencyID uuid.UUID, staleAfter time.Duration) (int64, error) {
	res := r.requeueScope(dbc, agencyID, staleAfter).
		Updates(map[string]interface{}{
			"migration_status": types.MigrationStatusPending,
			"migration_error":  nil,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *photoRepo) CountRequeueable(dbc dbctx.Context, agencyID uuid.UUID, staleAfter time.Duration) (int64, error) {
	var count int64
	if err := r.requeueScope(dbc, agencyID, staleAfter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
