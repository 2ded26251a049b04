package services

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gdp_atlas_go/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// importHeaderMap maps source dataset headers onto data entry columns.
// Canonical column names are accepted too, so exported files import unchanged.
var importHeaderMap = func() map[string]string {
	m := map[string]string{
		"alpha_2":                     "country_code",
		"year":                        "year",
		"population_WDI":              "population",
		"GDP":                         "gdp",
		"life_expectancy":             "life_expectancy",
		"net_migration":               "migration",
		"internet_users_pct":          "internet",
		"human_capital_index":         "hci",
		"school_enroll_secondary_gpi": "enrollment",
		"urban_population_pct":        "urban_pop",
		"infant_mortality_rate":       "infant_mortality",
		"female_population_pct":       "female",
		"male_population_pct":         "male",
		"country_code":                "country_code",
	}
	for _, f := range entryFields {
		m[f.Name] = f.Name
	}
	return m
}()

// Headers holding the country name, used when the code column is blank
var nameHeaders = []string{"name", "country_name"}

const (
	importBatchSize = 200
	maxImportErrors = 100
)

// ImportOptions controls how an import writes to the store
type ImportOptions struct {
	// Mode is models.ImportModeInsert (default) or models.ImportModeUpsert
	Mode string
	// Source names the imported file in the import log
	Source string
}

// ImportResult contains the summary of the import process
type ImportResult struct {
	RunID          string   `json:"run_id"`
	TotalProcessed int      `json:"total_processed"`
	ImportedCount  int      `json:"imported_count"`
	SkippedCount   int      `json:"skipped_count"`
	FailedCount    int      `json:"failed_count"`
	Errors         []string `json:"errors,omitempty"`
}

func (r *ImportResult) addError(format string, args ...interface{}) {
	if len(r.Errors) < maxImportErrors {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

// EntryImporter loads country-year observations from tabular files.
// Valid rows are written in a single transaction: either all of them are saved or none.
type EntryImporter struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// NewEntryImporter creates an importer writing to db
func NewEntryImporter(db *gorm.DB, logger *zap.SugaredLogger) *EntryImporter {
	return &EntryImporter{db: db, logger: logger}
}

// ImportFile imports a .csv or .xlsx file from disk
func (im *EntryImporter) ImportFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return im.ImportReader(ctx, filepath.Base(path), f, opts)
}

// ImportReader imports r, choosing the format from the extension of filename
func (im *EntryImporter) ImportReader(ctx context.Context, filename string, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	if opts.Source == "" {
		opts.Source = filename
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return im.ImportCSV(ctx, r, opts)
	case ".xlsx":
		return im.ImportXLSX(ctx, r, opts)
	default:
		return nil, invalid("file", "unsupported file type %q, expected .csv or .xlsx", filepath.Ext(filename))
	}
}

// ImportCSV imports a comma separated file whose first row is the header
func (im *EntryImporter) ImportCSV(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	reader := csv.NewReader(skipBOM(r))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, invalid("file", "cannot read CSV header: %v", err)
	}

	return im.importRows(ctx, header, reader.Read, opts)
}

// ImportXLSX imports the first sheet of an Excel workbook whose first row is the header
func (im *EntryImporter) ImportXLSX(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, invalid("file", "cannot open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, invalid("file", "workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	next := func() ([]string, error) {
		if !rows.Next() {
			if err := rows.Error(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return rows.Columns(excelize.Options{RawCellValue: true})
	}

	header, err := next()
	if err != nil {
		return nil, invalid("file", "cannot read sheet header: %v", err)
	}

	return im.importRows(ctx, header, next, opts)
}

func (im *EntryImporter) importRows(ctx context.Context, header []string, next func() ([]string, error), opts ImportOptions) (*ImportResult, error) {
	if opts.Mode == "" {
		opts.Mode = models.ImportModeInsert
	}
	if opts.Mode != models.ImportModeInsert && opts.Mode != models.ImportModeUpsert {
		return nil, invalid("mode", "must be %s or %s", models.ImportModeInsert, models.ImportModeUpsert)
	}

	columns := make(map[string]int)
	for i, h := range header {
		if column, ok := importHeaderMap[strings.TrimSpace(h)]; ok {
			if _, dup := columns[column]; !dup {
				columns[column] = i
			}
		}
	}
	if _, ok := columns["year"]; !ok {
		return nil, invalid("file", "header has no year column")
	}
	nameIndex := -1
	for i, h := range header {
		for _, n := range nameHeaders {
			if strings.EqualFold(strings.TrimSpace(h), n) {
				nameIndex = i
			}
		}
	}

	validCodes, err := CountryCodes(ctx, im.db)
	if err != nil {
		return nil, err
	}
	im.logger.Infow("starting import", "source", opts.Source, "mode", opts.Mode, "countries", len(validCodes))

	result := &ImportResult{}
	unique := make(map[EntryKey]*models.DataEntry)
	var order []EntryKey

	for line := 2; ; line++ {
		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("file", "cannot read row %d: %v", line, err)
		}
		if isBlankRow(row) {
			continue
		}
		result.TotalProcessed++

		cell := func(column string) string {
			i, ok := columns[column]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		code := normalizeCountryCode(cell("country_code"))
		if code == "" && nameIndex >= 0 && nameIndex < len(row) &&
			strings.EqualFold(strings.TrimSpace(row[nameIndex]), "namibia") {
			// Namibia's ISO code "NA" is read as a missing value by most tooling
			code = "NA"
		}

		year, yearOK := castInt(cell("year"))
		if code == "" || !yearOK || year == 0 {
			im.logger.Warnw("skipping row: missing country code or year", "row", line)
			result.SkippedCount++
			continue
		}
		if !validCodes[code] {
			im.logger.Warnw("skipping row: unknown country code", "row", line, "code", code)
			result.SkippedCount++
			continue
		}

		entry := &models.DataEntry{CountryCode: code, Year: int(year)}
		for _, f := range entryFields {
			if _, ok := columns[f.Name]; ok {
				f.set(entry, castCell(f, cell(f.Name)))
			}
		}
		if err := validateEntry(entry); err != nil {
			result.FailedCount++
			result.addError("row %d: %v", line, err)
			continue
		}

		key := EntryKey{CountryCode: code, Year: entry.Year}
		if existing, ok := unique[key]; ok {
			result.SkippedCount++
			if keepExisting(unique[EntryKey{CountryCode: code, Year: entry.Year - 1}], existing, entry) {
				im.logger.Warnw("duplicate entry, keeping earlier row", "row", line, "key", key.String())
				continue
			}
			im.logger.Warnw("duplicate entry, overwriting earlier row", "row", line, "key", key.String())
		} else {
			order = append(order, key)
		}
		unique[key] = entry
	}

	entries := make([]models.DataEntry, 0, len(order))
	for _, key := range order {
		entries = append(entries, *unique[key])
	}

	if len(entries) == 0 {
		im.logger.Warnw("no valid data found to import", "source", opts.Source)
		im.recordRun(ctx, opts, result, nil)
		return result, nil
	}

	im.logger.Infow("processed file", "source", opts.Source, "records", len(entries))

	err = im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.Mode == models.ImportModeInsert {
			if err := rejectExisting(tx, entries); err != nil {
				return err
			}
			if err := tx.CreateInBatches(&entries, importBatchSize).Error; err != nil {
				return translateImportError(err)
			}
			return nil
		}

		assign := []string{"updated_at"}
		for _, f := range entryFields {
			if _, ok := columns[f.Name]; ok {
				assign = append(assign, f.Name)
			}
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "country_code"}, {Name: "year"}},
			DoUpdates: clause.AssignmentColumns(assign),
		}).CreateInBatches(&entries, importBatchSize).Error
		if err != nil {
			return translateImportError(err)
		}
		return nil
	})
	if err != nil {
		im.logger.Errorw("import transaction rolled back, no data was saved", "source", opts.Source, "error", err)
		im.recordRun(ctx, opts, result, err)
		return result, err
	}

	result.ImportedCount = len(entries)
	im.logger.Infow("import completed", "source", opts.Source, "imported", result.ImportedCount,
		"skipped", result.SkippedCount, "failed", result.FailedCount)
	im.recordRun(ctx, opts, result, nil)
	return result, nil
}

// recordRun stores the outcome in the import log. Failing to log does not fail the import.
func (im *EntryImporter) recordRun(ctx context.Context, opts ImportOptions, result *ImportResult, importErr error) {
	run := models.ImportRun{
		Source:         opts.Source,
		Mode:           opts.Mode,
		Status:         models.ImportStatusCompleted,
		TotalProcessed: result.TotalProcessed,
		ImportedCount:  result.ImportedCount,
		SkippedCount:   result.SkippedCount,
		FailedCount:    result.FailedCount,
	}
	if importErr != nil {
		run.Status = models.ImportStatusFailed
		msg := importErr.Error()
		run.Message = &msg
	} else if len(result.Errors) > 0 {
		msg := strings.Join(result.Errors, "\n")
		run.Message = &msg
	}

	if err := im.db.WithContext(ctx).Create(&run).Error; err != nil {
		im.logger.Warnw("failed to record import run", "source", opts.Source, "error", err)
		return
	}
	result.RunID = run.ID
}

// ListImportRuns returns the most recent import runs first
func ListImportRuns(ctx context.Context, db *gorm.DB, limit int) ([]models.ImportRun, error) {
	runs := []models.ImportRun{}
	query := db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	return runs, nil
}

// keepExisting decides between two rows for the same country and year by keeping the one
// whose GDP is closer to the previous year's. Without comparable GDPs the later row wins.
func keepExisting(previousYear, existing, candidate *models.DataEntry) bool {
	if previousYear == nil || previousYear.GDP == nil || existing.GDP == nil || candidate.GDP == nil {
		return false
	}
	prev := *previousYear.GDP
	return math.Abs(prev-*existing.GDP) < math.Abs(prev-*candidate.GDP)
}

// rejectExisting fails with ErrDuplicateEntry if any entry is already stored
func rejectExisting(tx *gorm.DB, entries []models.DataEntry) error {
	codes := make(map[string]bool)
	lo, hi := entries[0].Year, entries[0].Year
	for _, e := range entries {
		codes[e.CountryCode] = true
		lo = min(lo, e.Year)
		hi = max(hi, e.Year)
	}
	codeList := make([]string, 0, len(codes))
	for code := range codes {
		codeList = append(codeList, code)
	}

	var stored []EntryKey
	err := tx.Model(&models.DataEntry{}).
		Select("country_code, year").
		Where("country_code IN ? AND year BETWEEN ? AND ?", codeList, lo, hi).
		Scan(&stored).Error
	if err != nil {
		return fmt.Errorf("failed to check existing entries: %w", err)
	}

	existing := make(map[EntryKey]bool, len(stored))
	for _, k := range stored {
		existing[k] = true
	}
	for _, e := range entries {
		key := EntryKey{CountryCode: e.CountryCode, Year: e.Year}
		if existing[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, key)
		}
	}
	return nil
}

func translateImportError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicateEntry, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", ErrUnknownCountry, err)
	default:
		return fmt.Errorf("failed to write entries: %w", err)
	}
}

// nullMarkers are cell values that mean "no data" in the source datasets
var nullMarkers = map[string]bool{"": true, "na": true, "n/a": true, "..": true, "null": true}

// parseNumber reads a numeric cell. Null markers, thousands separators and
// non-finite values are handled; ok is false when there is no usable number.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if nullMarkers[strings.ToLower(s)] {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	x, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

// castInt accepts integers written as floats ("1234.0") and truncates them
func castInt(s string) (int64, bool) {
	x, ok := parseNumber(s)
	if !ok || x >= math.MaxInt64 || x < math.MinInt64 {
		return 0, false
	}
	return int64(math.Trunc(x)), true
}

// castCell converts a cell for f; values that cannot be read become unknown
func castCell(f entryField, s string) interface{} {
	if f.Kind == intField {
		if n, ok := castInt(s); ok {
			return n
		}
		return nil
	}
	if x, ok := parseNumber(s); ok {
		return x
	}
	return nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// skipBOM drops a leading UTF-8 byte order mark, common in spreadsheet CSV exports
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		br.Discard(3)
	}
	return br
}
