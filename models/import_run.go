package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Import run statuses
const (
	ImportStatusCompleted = "completed"
	ImportStatusFailed    = "failed"
)

// Import modes
const (
	ImportModeInsert = "insert"
	ImportModeUpsert = "upsert"
)

// ImportRun records one execution of the data importer
type ImportRun struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Source         string  `gorm:"size:255;not null" json:"source"`
	Mode           string  `gorm:"size:10;not null" json:"mode"`
	Status         string  `gorm:"size:20;not null;index" json:"status"`
	TotalProcessed int     `json:"total_processed"`
	ImportedCount  int     `json:"imported_count"`
	SkippedCount   int     `json:"skipped_count"`
	FailedCount    int     `json:"failed_count"`
	Message        *string `gorm:"type:text" json:"message,omitempty"`
}

// BeforeCreate hook to generate UUID
func (r *ImportRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name
func (ImportRun) TableName() string {
	return "import_runs"
}
