package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gdp_atlas_go/db"
	"gdp_atlas_go/models"
	"gdp_atlas_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) (*DataEntryStore, *gorm.DB) {
	t.Helper()
	database := testutil.NewTestDB(t)
	testutil.SeedCountries(t, database)
	return NewDataEntryStore(database), database
}

func countEntries(t *testing.T, database *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, database.Model(&models.DataEntry{}).Count(&count).Error)
	return count
}

func TestDataEntryStoreCreate(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()

	t.Run("ReadBackEqualsInput", func(t *testing.T) {
		input := &models.DataEntry{
			CountryCode:    "US",
			Year:           2022,
			GDP:            testutil.Float(25.46e12),
			Population:     testutil.Int(333000000),
			LifeExpectancy: testutil.Float(76.4),
			Migration:      testutil.Int(-12000),
		}
		_, err := store.Create(ctx, input)
		require.NoError(t, err)

		got, err := store.Get(ctx, EntryKey{CountryCode: "US", Year: 2022})
		require.NoError(t, err)
		assert.Equal(t, input.GDP, got.GDP)
		assert.Equal(t, input.Population, got.Population)
		assert.Equal(t, input.LifeExpectancy, got.LifeExpectancy)
		assert.Equal(t, input.Migration, got.Migration)

		// Unset fields read back unknown, never zero
		assert.Nil(t, got.Internet)
		assert.Nil(t, got.HCI)
		assert.Nil(t, got.Enrollment)
		assert.Nil(t, got.UrbanPop)
		assert.Nil(t, got.InfantMortality)
		assert.Nil(t, got.Female)
		assert.Nil(t, got.Male)
	})

	t.Run("ZeroIsNotUnknown", func(t *testing.T) {
		_, err := store.Create(ctx, &models.DataEntry{CountryCode: "MX", Year: 2000, GDP: testutil.Float(0)})
		require.NoError(t, err)

		got, err := store.Get(ctx, EntryKey{CountryCode: "MX", Year: 2000})
		require.NoError(t, err)
		require.NotNil(t, got.GDP)
		assert.Equal(t, 0.0, *got.GDP)
		assert.Nil(t, got.Population)
	})

	t.Run("DuplicateKeepsOriginal", func(t *testing.T) {
		_, err := store.Create(ctx, &models.DataEntry{CountryCode: "US", Year: 2022, GDP: testutil.Float(1)})
		assert.ErrorIs(t, err, ErrDuplicateEntry)

		got, err := store.Get(ctx, EntryKey{CountryCode: "US", Year: 2022})
		require.NoError(t, err)
		assert.Equal(t, 25.46e12, *got.GDP)
	})

	t.Run("UnknownCountryPersistsNothing", func(t *testing.T) {
		before := countEntries(t, database)
		_, err := store.Create(ctx, &models.DataEntry{CountryCode: "ZZ", Year: 2022})
		assert.ErrorIs(t, err, ErrUnknownCountry)
		assert.Equal(t, before, countEntries(t, database))
	})

	t.Run("NormalizesCountryCode", func(t *testing.T) {
		created, err := store.Create(ctx, &models.DataEntry{CountryCode: " ca ", Year: 1990})
		require.NoError(t, err)
		assert.Equal(t, "CA", created.CountryCode)
	})

	t.Run("DoesNotModifyInput", func(t *testing.T) {
		input := &models.DataEntry{CountryCode: "na", Year: 1995}
		_, err := store.Create(ctx, input)
		require.NoError(t, err)
		assert.Equal(t, "na", input.CountryCode)
	})
}

func TestDataEntryStoreValidation(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry models.DataEntry
		field string
	}{
		{"NegativeGDP", models.DataEntry{CountryCode: "US", Year: 2020, GDP: testutil.Float(-1)}, "gdp"},
		{"NegativePopulation", models.DataEntry{CountryCode: "US", Year: 2020, Population: testutil.Int(-5)}, "population"},
		{"BadCode", models.DataEntry{CountryCode: "USA", Year: 2020}, "country_code"},
		{"EmptyCode", models.DataEntry{Year: 2020}, "country_code"},
		{"ZeroYear", models.DataEntry{CountryCode: "US"}, "year"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, &tt.entry)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidationError(err))
		})
	}

	// Negative net migration is a valid observation
	_, err := store.Create(ctx, &models.DataEntry{CountryCode: "US", Year: 2020, Migration: testutil.Int(-300)})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), countEntries(t, database))
}

func TestDataEntryStoreEnforcedByDatabase(t *testing.T) {
	_, database := setupStore(t)

	// Writes that bypass the store still hit the constraints
	err := database.Create(&models.DataEntry{CountryCode: "ZZ", Year: 2020}).Error
	assert.Error(t, err)

	err = database.Create(&models.DataEntry{CountryCode: "US", Year: 2020, GDP: testutil.Float(-10)}).Error
	assert.Error(t, err)

	require.NoError(t, database.Create(&models.DataEntry{CountryCode: "US", Year: 2021}).Error)
	err = database.Create(&models.DataEntry{CountryCode: "US", Year: 2021}).Error
	assert.ErrorIs(t, translateWriteError(err, EntryKey{CountryCode: "US", Year: 2021}), ErrDuplicateEntry)
}

func TestTranslateWriteError(t *testing.T) {
	key := EntryKey{CountryCode: "US", Year: 2020}

	err := translateWriteError(fmt.Errorf("insert: %w", gorm.ErrCheckConstraintViolated), key)
	assert.True(t, IsValidationError(err))

	assert.ErrorIs(t, translateWriteError(gorm.ErrForeignKeyViolated, key), ErrUnknownCountry)
	assert.ErrorIs(t, translateWriteError(gorm.ErrDuplicatedKey, key), ErrDuplicateEntry)

	err = translateWriteError(errors.New("disk I/O error"), key)
	assert.False(t, IsValidationError(err))
	assert.ErrorContains(t, err, "US/2020")
}

func TestDataEntryStoreIgnoresClientTimestamps(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	epoch := time.Unix(0, 0).UTC()

	_, err := store.Create(ctx, &models.DataEntry{CountryCode: "US", Year: 2022})
	require.NoError(t, err)
	_, err = store.Create(ctx, &models.DataEntry{CountryCode: "CA", Year: 2023})
	require.NoError(t, err)

	created, err := store.Create(ctx, &models.DataEntry{CountryCode: "MX", Year: 1990, CreatedAt: epoch, UpdatedAt: epoch})
	require.NoError(t, err)
	assert.True(t, created.CreatedAt.After(epoch))
	assert.True(t, created.UpdatedAt.After(epoch))

	upserted, _, err := store.Upsert(ctx, &models.DataEntry{CountryCode: "NA", Year: 1990, CreatedAt: epoch})
	require.NoError(t, err)
	assert.True(t, upserted.CreatedAt.After(epoch))

	entries, err := store.Query(ctx, EntryFilter{})
	require.NoError(t, err)
	order := make([]string, len(entries))
	for i, e := range entries {
		order[i] = e.CountryCode
	}
	assert.Equal(t, []string{"US", "CA", "MX", "NA"}, order)
}

func TestDataEntryStoreUpdate(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	key := EntryKey{CountryCode: "US", Year: 2021}

	_, err := store.Create(ctx, &models.DataEntry{
		CountryCode: "US",
		Year:        2021,
		GDP:         testutil.Float(23.3e12),
		Population:  testutil.Int(331900000),
	})
	require.NoError(t, err)

	t.Run("SingleFieldLeavesOthers", func(t *testing.T) {
		updated, err := store.Update(ctx, key, EntryChanges{"population": int64(332000000)})
		require.NoError(t, err)
		assert.Equal(t, int64(332000000), *updated.Population)
		require.NotNil(t, updated.GDP)
		assert.Equal(t, 23.3e12, *updated.GDP)
	})

	t.Run("NilMarksUnknown", func(t *testing.T) {
		updated, err := store.Update(ctx, key, EntryChanges{"gdp": nil, "internet": 91.8})
		require.NoError(t, err)
		assert.Nil(t, updated.GDP)
		assert.Equal(t, 91.8, *updated.Internet)
		assert.Equal(t, int64(332000000), *updated.Population)
	})

	t.Run("AcceptsWholeFloatForInteger", func(t *testing.T) {
		updated, err := store.Update(ctx, key, EntryChanges{"population": 332500000.0})
		require.NoError(t, err)
		assert.Equal(t, int64(332500000), *updated.Population)
	})

	t.Run("RejectsFractionalInteger", func(t *testing.T) {
		_, err := store.Update(ctx, key, EntryChanges{"population": 1.5})
		assert.True(t, IsValidationError(err))
	})

	t.Run("RejectsNegative", func(t *testing.T) {
		_, err := store.Update(ctx, key, EntryChanges{"gdp": -3.0, "internet": 10.0})
		assert.True(t, IsValidationError(err))

		// Nothing from the rejected change set was applied
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 91.8, *got.Internet)
	})

	t.Run("KeyFieldsAreImmutable", func(t *testing.T) {
		for _, field := range []string{"country_code", "year", "Year"} {
			_, err := store.Update(ctx, key, EntryChanges{field: "CA"})
			assert.True(t, IsValidationError(err), field)
		}
		_, err := store.Get(ctx, key)
		assert.NoError(t, err)
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := store.Update(ctx, key, EntryChanges{"happiness": 7.0})
		assert.True(t, IsValidationError(err))
	})

	t.Run("MissingKey", func(t *testing.T) {
		missing := EntryKey{CountryCode: "US", Year: 1900}
		_, err := store.Update(ctx, missing, EntryChanges{"gdp": 1.0})
		assert.ErrorIs(t, err, ErrEntryNotFound)

		_, err = store.Get(ctx, missing)
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("EmptyChangesReturnsCurrent", func(t *testing.T) {
		got, err := store.Update(ctx, key, EntryChanges{})
		require.NoError(t, err)
		assert.Equal(t, int64(332500000), *got.Population)
	})
}

func TestDataEntryStoreDelete(t *testing.T) {
	store, database := setupStore(t)
	ctx := context.Background()
	key := EntryKey{CountryCode: "CA", Year: 2023}

	_, err := store.Create(ctx, &models.DataEntry{CountryCode: "CA", Year: 2023})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, key))
	assert.Equal(t, int64(0), countEntries(t, database))

	err = store.Delete(ctx, key)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	err = store.Delete(ctx, EntryKey{CountryCode: "ZZ", Year: 2023})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestDataEntryStoreUpsert(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	entry, created, err := store.Upsert(ctx, &models.DataEntry{CountryCode: "MX", Year: 2015, Population: testutil.Int(121000000)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, entry.GDP)

	entry, created, err = store.Upsert(ctx, &models.DataEntry{CountryCode: "MX", Year: 2015, GDP: testutil.Float(1.17e12)})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1.17e12, *entry.GDP)
	assert.Equal(t, int64(121000000), *entry.Population)

	_, _, err = store.Upsert(ctx, &models.DataEntry{CountryCode: "ZZ", Year: 2015})
	assert.ErrorIs(t, err, ErrUnknownCountry)

	_, _, err = store.Upsert(ctx, &models.DataEntry{CountryCode: "MX", Year: 2015, Population: testutil.Int(-1)})
	assert.True(t, IsValidationError(err))
}

func TestDataEntryStoreQuery(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	seed := []models.DataEntry{
		{CountryCode: "US", Year: 2020, GDP: testutil.Float(21.06e12), Population: testutil.Int(331500000)},
		{CountryCode: "CA", Year: 2020, GDP: testutil.Float(1.65e12), Population: testutil.Int(38000000)},
		{CountryCode: "MX", Year: 2020, Population: testutil.Int(128900000)},
		{CountryCode: "US", Year: 2010, GDP: testutil.Float(15.05e12)},
	}
	for i := range seed {
		_, err := store.Create(ctx, &seed[i])
		require.NoError(t, err)
	}

	keys := func(entries []models.DataEntry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = EntryKey{CountryCode: e.CountryCode, Year: e.Year}.String()
		}
		return out
	}

	t.Run("InsertionOrderByDefault", func(t *testing.T) {
		entries, err := store.Query(ctx, EntryFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"US/2020", "CA/2020", "MX/2020", "US/2010"}, keys(entries))
	})

	t.Run("CountryAndYearRange", func(t *testing.T) {
		from, to := 2015, 2025
		entries, err := store.Query(ctx, EntryFilter{CountryCodes: []string{"us", "ca"}, YearFrom: &from, YearTo: &to})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"US/2020", "CA/2020"}, keys(entries))
	})

	t.Run("Presence", func(t *testing.T) {
		entries, err := store.Query(ctx, EntryFilter{Conditions: []FieldCondition{{Field: "gdp", Op: OpUnknown}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"MX/2020"}, keys(entries))

		entries, err = store.Query(ctx, EntryFilter{Conditions: []FieldCondition{{Field: "population", Op: OpKnown}}})
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("Comparison", func(t *testing.T) {
		entries, err := store.Query(ctx, EntryFilter{
			Conditions: []FieldCondition{{Field: "population", Op: OpGt, Value: int64(100000000)}},
			OrderBy:    "population",
			Descending: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"US/2020", "MX/2020"}, keys(entries))
	})

	t.Run("UnknownValuesNeverMatchComparisons", func(t *testing.T) {
		entries, err := store.Query(ctx, EntryFilter{Conditions: []FieldCondition{{Field: "gdp", Op: OpGte, Value: 0.0}}})
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("Paging", func(t *testing.T) {
		entries, err := store.Query(ctx, EntryFilter{OrderBy: "year", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, 2020, entries[0].Year)
	})

	t.Run("NoMatchIsEmpty", func(t *testing.T) {
		entries, err := store.Query(ctx, EntryFilter{CountryCodes: []string{"NA"}})
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})

	t.Run("InvertedYearRangeIsEmpty", func(t *testing.T) {
		from, to := 2025, 2020
		entries, err := store.Query(ctx, EntryFilter{YearFrom: &from, YearTo: &to})
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	})

	t.Run("InvalidFilter", func(t *testing.T) {
		filters := []EntryFilter{
			{OrderBy: "color"},
			{Conditions: []FieldCondition{{Field: "color", Op: OpKnown}}},
			{Conditions: []FieldCondition{{Field: "gdp", Op: "like", Value: 1.0}}},
			{Conditions: []FieldCondition{{Field: "gdp", Op: OpEq}}},
			{Limit: -1},
		}
		for _, filter := range filters {
			_, err := store.Query(ctx, filter)
			assert.True(t, IsValidationError(err), "%+v", filter)
		}
	})
}

func TestDataEntryStoreScenarios(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	ca := EntryKey{CountryCode: "CA", Year: 2023}

	_, err := store.Create(ctx, &models.DataEntry{CountryCode: "US", Year: 2022, GDP: testutil.Float(25460000000000), Population: testutil.Int(333000000)})
	require.NoError(t, err)
	_, err = store.Create(ctx, &models.DataEntry{CountryCode: "CA", Year: 2023, Population: testutil.Int(40000000)})
	require.NoError(t, err)

	entries, err := store.Query(ctx, EntryFilter{Conditions: []FieldCondition{{Field: "gdp", Op: OpUnknown}}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CA", entries[0].CountryCode)
	assert.Equal(t, 2023, entries[0].Year)

	_, err = store.Update(ctx, ca, EntryChanges{"population": int64(41000000)})
	require.NoError(t, err)
	got, err := store.Get(ctx, ca)
	require.NoError(t, err)
	assert.Equal(t, int64(41000000), *got.Population)
	assert.Nil(t, got.GDP)

	require.NoError(t, store.Delete(ctx, ca))
	_, err = store.Get(ctx, ca)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, store.Delete(ctx, ca), ErrEntryNotFound)
}

// Readers running alongside a writer only ever see complete entries
func TestDataEntryStoreConcurrentReaders(t *testing.T) {
	database, err := db.OpenSQLite(filepath.Join(t.TempDir(), "concurrent.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(database) })
	require.NoError(t, db.Migrate(database))
	testutil.SeedCountries(t, database)

	store := NewDataEntryStore(database)
	ctx := context.Background()
	const years = 40

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for year := 1; year <= years; year++ {
			entry := &models.DataEntry{CountryCode: "US", Year: 1980 + year, GDP: testutil.Float(float64(year)), Population: testutil.Int(int64(year))}
			if _, err := store.Create(ctx, entry); err != nil {
				t.Errorf("create %d: %v", year, err)
				return
			}
			if _, err := store.Update(ctx, EntryKey{CountryCode: "US", Year: 1980 + year},
				EntryChanges{"gdp": float64(year * 2), "population": int64(year * 2)}); err != nil {
				t.Errorf("update %d: %v", year, err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				entries, err := store.Query(ctx, EntryFilter{CountryCodes: []string{"US"}})
				if err != nil {
					t.Errorf("query: %v", err)
					return
				}
				for _, e := range entries {
					// gdp and population always move together
					if e.GDP == nil || e.Population == nil || int64(*e.GDP) != *e.Population {
						t.Errorf("observed partial entry %s/%d", e.CountryCode, e.Year)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	entries, err := store.Query(ctx, EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, years)
}
