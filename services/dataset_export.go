package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"gdp_atlas_go/models"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// Export triggers recorded on models.DatasetExport
const (
	ExportTriggerAPI      = "api"
	ExportTriggerSchedule = "schedule"
)

const exportSheet = "Data"

// DatasetExporter renders the dataset for download and publishes snapshots
type DatasetExporter struct {
	db      *gorm.DB
	store   *DataEntryStore
	storage StorageProvider
}

// NewDatasetExporter creates an exporter reading from db and publishing to storage
func NewDatasetExporter(db *gorm.DB, storage StorageProvider) *DatasetExporter {
	return &DatasetExporter{db: db, store: NewDataEntryStore(db), storage: storage}
}

// ExportHeader returns the column headers of exported files
func ExportHeader() []string {
	return append([]string{"country_code", "country_name", "year"}, EntryFieldNames()...)
}

// ContentType returns the MIME type for an export format
func ContentType(format string) string {
	return contentTypeFor("dataset." + format)
}

// Write renders the entries matching filter to w and returns the number of rows written
func (x *DatasetExporter) Write(ctx context.Context, w io.Writer, format string, filter EntryFilter) (int, error) {
	if format != models.ExportFormatCSV && format != models.ExportFormatXLSX {
		return 0, invalid("format", "must be %s or %s", models.ExportFormatCSV, models.ExportFormatXLSX)
	}

	entries, err := x.store.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	countries, err := ListCountries(ctx, x.db)
	if err != nil {
		return 0, err
	}
	names := make(map[string]string, len(countries))
	for _, c := range countries {
		names[c.Code] = c.Name
	}

	if format == models.ExportFormatXLSX {
		err = WriteXLSX(w, entries, names)
	} else {
		err = WriteCSV(w, entries, names)
	}
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Publish renders a snapshot, uploads it and records it in the export log
func (x *DatasetExporter) Publish(ctx context.Context, format string, filter EntryFilter, triggeredBy string) (*models.DatasetExport, error) {
	var buf bytes.Buffer
	rows, err := x.Write(ctx, &buf, format, filter)
	if err != nil {
		return nil, err
	}

	key := GenerateDatasetExportKey(format, time.Now())
	size := int64(buf.Len())
	stored, err := x.storage.UploadReader(ctx, &buf, key, ContentType(format), size)
	if err != nil {
		return nil, fmt.Errorf("failed to publish dataset: %w", err)
	}

	export := &models.DatasetExport{
		Format:      format,
		StorageKey:  stored.Key,
		URL:         stored.URL,
		RowCount:    rows,
		SizeBytes:   stored.FileSize,
		TriggeredBy: triggeredBy,
	}
	if err := x.db.WithContext(ctx).Create(export).Error; err != nil {
		// Keep storage and the export log consistent
		if delErr := x.storage.Delete(ctx, stored.Key); delErr != nil {
			return nil, fmt.Errorf("failed to record export: %w (cleanup failed: %v)", err, delErr)
		}
		return nil, fmt.Errorf("failed to record export: %w", err)
	}

	return export, nil
}

// ListDatasetExports returns the most recent snapshots first
func ListDatasetExports(ctx context.Context, db *gorm.DB, limit int) ([]models.DatasetExport, error) {
	exports := []models.DatasetExport{}
	query := db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&exports).Error; err != nil {
		return nil, fmt.Errorf("failed to list dataset exports: %w", err)
	}
	return exports, nil
}

// WriteCSV writes entries as CSV; unknown values are empty cells
func WriteCSV(w io.Writer, entries []models.DataEntry, names map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, 0, len(entryFields)+3)
	for i := range entries {
		e := &entries[i]
		record = append(record[:0], e.CountryCode, names[e.CountryCode], strconv.Itoa(e.Year))
		for _, f := range entryFields {
			record = append(record, formatValue(f.value(e)))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes entries to a single-sheet workbook; unknown values are empty cells
func WriteXLSX(w io.Writer, entries []models.DataEntry, names map[string]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet writer: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	header := ExportHeader()
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", headerRow); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		row := make([]interface{}, 0, len(header))
		row = append(row, e.CountryCode, names[e.CountryCode], e.Year)
		for _, field := range entryFields {
			row = append(row, field.value(e))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
