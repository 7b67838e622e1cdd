package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentora/media-migrator/internal/pkg/dbctx"
	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/types"
)

type UnitRepo interface {
	Create(dbc dbctx.Context, units []*types.Unit) ([]*types.Unit, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Unit, error)
	GetByAgencyID(dbc dbctx.Context, agencyID uuid.UUID) ([]*types.Unit, error)
}

type unitRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUnitRepo(db *gorm.DB, baseLog *logger.Logger) UnitRepo {
	return &unitRepo{
		db:  db,
		log: baseLog.With("repo", "UnitRepo"),
	}
}

func (r *unitRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *unitRepo) Create(dbc dbctx.Context, units []*types.Unit) ([]*types.Unit, error) {
	if len(units) == 0 {
		return []*types.Unit{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}

func (r *unitRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Unit, error) {
	var out []*types.Unit
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

func (r *unitRepo) GetByAgencyID(dbc dbctx.Context, agencyID uuid.UUID) ([]*types.Unit, error) {
	var out []*types.Unit
	if agencyID == uuid.Nil {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("agency_id = ?", agencyID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
