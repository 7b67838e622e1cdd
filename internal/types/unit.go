package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Unit is the rental unit that owns photos. The pipeline never mutates it;
// it only exists here for agency scoping and the photo foreign key.
type Unit struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AgencyID uuid.UUID `gorm:"type:uuid;not null;index" json:"agency_id"`
	Name     string    `gorm:"column:name" json:"name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Unit) TableName() string { return "unit" }

func (u *Unit) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
