package testutil

import (
	"testing"

	"gdp_atlas_go/db"
	"gdp_atlas_go/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewTestDB opens a migrated in-memory SQLite database private to the calling test.
// A unique shared-cache name keeps tests isolated while every pooled connection sees
// the same data.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbName := "mem_" + uuid.New().String()
	database, err := db.OpenSQLite("file:"+dbName+"?mode=memory&cache=shared", "test")
	require.NoError(t, err)

	// Shared-cache memory databases lock per table, so serialize access
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(database))
	t.Cleanup(func() { db.Close(database) })

	return database
}

// SeedCountries inserts a small set of reference countries used across tests
func SeedCountries(t *testing.T, database *gorm.DB) []models.Country {
	t.Helper()

	americas := "Americas"
	countries := []models.Country{
		{Code: "US", Name: "United States", Latitude: 38, Longitude: -97, Region: &americas},
		{Code: "CA", Name: "Canada", Latitude: 60, Longitude: -95, Region: &americas},
		{Code: "MX", Name: "Mexico", Latitude: 23, Longitude: -102, Region: &americas},
		{Code: "NA", Name: "Namibia", Latitude: -22, Longitude: 17},
	}
	require.NoError(t, database.Create(&countries).Error)
	return countries
}

func Float(v float64) *float64 {
	return &v
}

func Int(v int64) *int64 {
	return &v
}
