package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Dataset export formats
const (
	ExportFormatCSV  = "csv"
	ExportFormatXLSX = "xlsx"
)

// DatasetExport is a published snapshot of the dataset that users can download
type DatasetExport struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Format      string `gorm:"size:10;not null" json:"format"`
	StorageKey  string `gorm:"size:500;not null" json:"storage_key"`
	URL         string `gorm:"size:1000" json:"url"`
	RowCount    int    `json:"row_count"`
	SizeBytes   int64  `json:"size_bytes"`
	TriggeredBy string `gorm:"size:20;not null" json:"triggered_by"` // api or schedule
}

// BeforeCreate hook to generate UUID
func (e *DatasetExport) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name
func (DatasetExport) TableName() string {
	return "dataset_exports"
}
