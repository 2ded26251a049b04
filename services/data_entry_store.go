package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gdp_atlas_go/models"

	"gorm.io/gorm"
)

// EntryKey identifies a data entry
type EntryKey struct {
	CountryCode string
	Year        int
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s/%d", k.CountryCode, k.Year)
}

func (k EntryKey) normalized() EntryKey {
	return EntryKey{CountryCode: normalizeCountryCode(k.CountryCode), Year: k.Year}
}

// EntryChanges maps indicator names to new values for a partial update.
// A nil value marks the indicator as unknown; indicators not present are left untouched.
type EntryChanges map[string]interface{}

// DataEntryStore provides transactional CRUD over data entries.
// Every write runs in its own transaction and is rolled back on any error.
type DataEntryStore struct {
	db *gorm.DB
}

// NewDataEntryStore creates a store backed by db
func NewDataEntryStore(db *gorm.DB) *DataEntryStore {
	return &DataEntryStore{db: db}
}

// Create persists a new entry. It fails with ErrUnknownCountry when the country is not
// in the reference table and with ErrDuplicateEntry when the key already exists.
func (s *DataEntryStore) Create(ctx context.Context, entry *models.DataEntry) (*models.DataEntry, error) {
	record := *entry
	record.CountryCode = normalizeCountryCode(record.CountryCode)
	record.Country = nil
	// Timestamps are assigned on write so default ordering follows insertion
	record.CreatedAt, record.UpdatedAt = time.Time{}, time.Time{}

	if err := validateEntry(&record); err != nil {
		return nil, err
	}
	key := EntryKey{CountryCode: record.CountryCode, Year: record.Year}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireCountry(tx, key.CountryCode); err != nil {
			return err
		}

		exists, err := entryExists(tx, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, key)
		}

		if err := tx.Create(&record).Error; err != nil {
			return translateWriteError(err, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Get returns the entry stored under key
func (s *DataEntryStore) Get(ctx context.Context, key EntryKey) (*models.DataEntry, error) {
	key = key.normalized()
	entry, err := findEntry(s.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Query returns entries matching filter. No match yields an empty slice.
func (s *DataEntryStore) Query(ctx context.Context, filter EntryFilter) ([]models.DataEntry, error) {
	query, err := filter.apply(s.db.WithContext(ctx).Model(&models.DataEntry{}))
	if err != nil {
		return nil, err
	}

	entries := []models.DataEntry{}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query data entries: %w", err)
	}
	return entries, nil
}

// Update applies changes to an existing entry. Key fields cannot be changed.
func (s *DataEntryStore) Update(ctx context.Context, key EntryKey, changes EntryChanges) (*models.DataEntry, error) {
	key = key.normalized()

	updates, err := changes.columns()
	if err != nil {
		return nil, err
	}

	var updated *models.DataEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := findEntry(tx, key)
		if err != nil {
			return err
		}

		if len(updates) > 0 {
			if err := tx.Model(current).Updates(updates).Error; err != nil {
				return translateWriteError(err, key)
			}
		}

		updated, err = findEntry(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Delete removes the entry stored under key. Deleting a missing key, including one
// that was already deleted, fails with ErrEntryNotFound.
func (s *DataEntryStore) Delete(ctx context.Context, key EntryKey) error {
	key = key.normalized()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("country_code = ? AND year = ?", key.CountryCode, key.Year).
			Delete(&models.DataEntry{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete data entry %s: %w", key, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
		}
		return nil
	})
}

// Upsert creates the entry or revises the stored one. Only indicators that are known on
// entry overwrite stored values; use Update to mark an indicator unknown.
// The boolean result reports whether a new entry was created.
func (s *DataEntryStore) Upsert(ctx context.Context, entry *models.DataEntry) (*models.DataEntry, bool, error) {
	record := *entry
	record.CountryCode = normalizeCountryCode(record.CountryCode)
	record.Country = nil
	// Timestamps are assigned on write so default ordering follows insertion
	record.CreatedAt, record.UpdatedAt = time.Time{}, time.Time{}

	if err := validateEntry(&record); err != nil {
		return nil, false, err
	}
	key := EntryKey{CountryCode: record.CountryCode, Year: record.Year}

	var result *models.DataEntry
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireCountry(tx, key.CountryCode); err != nil {
			return err
		}

		current, err := findEntry(tx, key)
		if errors.Is(err, ErrEntryNotFound) {
			if err := tx.Create(&record).Error; err != nil {
				return translateWriteError(err, key)
			}
			created = true
			result = &record
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		for _, f := range entryFields {
			if v := f.value(&record); v != nil {
				updates[f.Name] = v
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(current).Updates(updates).Error; err != nil {
				return translateWriteError(err, key)
			}
		}

		result, err = findEntry(tx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return result, created, nil
}

// columns validates the changes and converts them to column assignments
func (c EntryChanges) columns() (map[string]interface{}, error) {
	updates := make(map[string]interface{}, len(c))
	for name, raw := range c {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "country_code", "year":
			return nil, invalid(name, "key fields cannot be changed")
		}

		f, ok := lookupField(name)
		if !ok {
			return nil, invalid(name, "unknown field")
		}
		v, err := f.coerce(raw)
		if err != nil {
			return nil, err
		}
		updates[f.Name] = v
	}
	return updates, nil
}

func findEntry(tx *gorm.DB, key EntryKey) (*models.DataEntry, error) {
	var entry models.DataEntry
	err := tx.Where("country_code = ? AND year = ?", key.CountryCode, key.Year).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data entry %s: %w", key, err)
	}
	return &entry, nil
}

func entryExists(tx *gorm.DB, key EntryKey) (bool, error) {
	var count int64
	err := tx.Model(&models.DataEntry{}).
		Where("country_code = ? AND year = ?", key.CountryCode, key.Year).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check data entry %s: %w", key, err)
	}
	return count > 0, nil
}

func requireCountry(tx *gorm.DB, code string) error {
	var count int64
	if err := tx.Model(&models.Country{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check country %s: %w", code, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCountry, code)
	}
	return nil
}

// translateWriteError maps constraint violations reported by the driver onto the
// store's error values
func translateWriteError(err error, key EntryKey) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, key)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %s", ErrUnknownCountry, key.CountryCode)
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return invalid("", "%s rejected by database constraint: %v", key, err)
	default:
		return fmt.Errorf("failed to write data entry %s: %w", key, err)
	}
}
