package services

import (
	"github.com/google/uuid"

	"github.com/rentora/media-migrator/internal/pkg/dbctx"
	"github.com/rentora/media-migrator/internal/platform/logger"
	"github.com/rentora/media-migrator/internal/repos"
	"github.com/rentora/media-migrator/internal/types"
)

// Slot occupancy limits per unit. Counts include every non-hidden photo in
// the slot regardless of migration status, so a slot already holding its
// maximum rejects further promotions.
const (
	SlotPrimaryCapacity   = 5
	SlotSecondaryCapacity = 20
)

func SlotCapacity(slot string) int {
	switch slot {
	case types.SlotPrimary:
		return SlotPrimaryCapacity
	case types.SlotSecondary:
		return SlotSecondaryCapacity
	default:
		return 0
	}
}

type CapacityService interface {
	CanPromote(dbc dbctx.Context, unitID uuid.UUID, slot string) (bool, error)
}

type capacityService struct {
	log    *logger.Logger
	photos repos.PhotoRepo
}

func NewCapacityService(photos repos.PhotoRepo, baseLog *logger.Logger) CapacityService {
	return &capacityService{
		log:    baseLog.With("service", "CapacityService"),
		photos: photos,
	}
}

// CanPromote reports whether the slot still has room. Unslotted photos are
// exempt and always allowed. The check is advisory at processing time: the
// driver runs as a single sequential process, so no lock is taken here.
func (s *capacityService) CanPromote(dbc dbctx.Context, unitID uuid.UUID, slot string) (bool, error) {
	limit := SlotCapacity(slot)
	if limit <= 0 {
		return true, nil
	}
	count, err := s.photos.CountInSlot(dbc, unitID, slot)
	if err != nil {
		return false, err
	}
	return count < int64(limit), nil
}
