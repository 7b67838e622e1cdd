package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migration lifecycle of a photo. Status only moves forward:
// none -> pending -> processing -> done, or processing/pending -> error.
const (
	MigrationStatusNone       = "none"
	MigrationStatusPending    = "pending"
	MigrationStatusProcessing = "processing"
	MigrationStatusDone       = "done"
	MigrationStatusError      = "error"
)

// Capacity buckets on a unit. An empty slot means the photo is unslotted
// and exempt from capacity checks.
const (
	SlotPrimary   = "primary"
	SlotSecondary = "secondary"
	SlotNone      = ""
)

type Photo struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UnitID uuid.UUID `gorm:"type:uuid;not null;index" json:"unit_id"`
	Unit   *Unit     `gorm:"constraint:OnDelete:CASCADE;foreignKey:UnitID;references:ID" json:"unit,omitempty"`

	DriveFileID *string `gorm:"column:drive_file_id;index" json:"drive_file_id,omitempty"`
	MimeType    string  `gorm:"column:mime_type" json:"mime_type"`
	Slot        string  `gorm:"column:slot;index" json:"slot"`
	Position    int     `gorm:"column:position;default:0" json:"position"`
	IsHidden    bool    `gorm:"column:is_hidden;not null;default:false" json:"is_hidden"`

	MigrationStatus string  `gorm:"column:migration_status;not null;default:'none';index" json:"migration_status"`
	MigrationError  *string `gorm:"column:migration_error" json:"migration_error,omitempty"`
	StorageURL      *string `gorm:"column:storage_url" json:"storage_url,omitempty"`
	StorageKey      *string `gorm:"column:storage_key" json:"storage_key,omitempty"`
	QualityVersion  int     `gorm:"column:quality_version;not null;default:1" json:"quality_version"`

	Exif datatypes.JSON `gorm:"column:exif;type:jsonb" json:"exif,omitempty"`

	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`
	MigratedAt *time.Time `gorm:"column:migrated_at" json:"migrated_at,omitempty"`
}

func (Photo) TableName() string { return "photo" }

func (p *Photo) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// StatusCounts is an aggregate snapshot of the migration backlog.
type StatusCounts struct {
	None       int64 `json:"none"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Error      int64 `json:"error"`
}

func (c StatusCounts) Total() int64 {
	return c.None + c.Pending + c.Processing + c.Done + c.Error
}
