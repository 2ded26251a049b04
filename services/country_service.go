package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"strings"

	"gdp_atlas_go/models"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// countryRecord is one element of the static country dataset (countries.json)
type countryRecord struct {
	ISO2      string
	Name      string
	Latitude  float64
	Longitude float64
	Region    string
	Subregion string
}

// SeedResult summarizes a bootstrap run
type SeedResult struct {
	Total   int
	Created int
	Skipped int // already present or unusable records
}

var namePolicy = bluemonday.StrictPolicy()

// cleanText strips any markup from externally sourced text
func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(s)))
}

// SeedCountriesFromFile loads the country reference dataset at path
func SeedCountriesFromFile(ctx context.Context, db *gorm.DB, path string) (*SeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open country dataset: %w", err)
	}
	defer f.Close()

	return SeedCountries(ctx, db, f)
}

// SeedCountries populates the countries table from a JSON dataset.
// Existing countries are left untouched, so running it again creates nothing.
func SeedCountries(ctx context.Context, db *gorm.DB, r io.Reader) (*SeedResult, error) {
	records, err := decodeCountryRecords(r)
	if err != nil {
		return nil, err
	}

	result := &SeedResult{Total: len(records)}
	seen := make(map[string]bool, len(records))
	countries := make([]models.Country, 0, len(records))
	for _, rec := range records {
		code := normalizeCountryCode(rec.ISO2)
		name := cleanText(rec.Name)
		if !countryCodePattern.MatchString(code) || name == "" || seen[code] {
			result.Skipped++
			continue
		}
		seen[code] = true

		country := models.Country{
			Code:      code,
			Name:      name,
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
		}
		if region := cleanText(rec.Region); region != "" {
			country.Region = &region
		}
		if subregion := cleanText(rec.Subregion); subregion != "" {
			country.Subregion = &subregion
		}
		countries = append(countries, country)
	}

	if len(countries) == 0 {
		return result, nil
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&countries, 100)
		if res.Error != nil {
			return fmt.Errorf("failed to insert countries: %w", res.Error)
		}
		result.Created = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Skipped += len(countries) - result.Created
	return result, nil
}

// decodeCountryRecords accepts coordinates both as JSON numbers and as strings,
// since published country datasets use either
func decodeCountryRecords(r io.Reader) ([]countryRecord, error) {
	var raw []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode country dataset: %w", err)
	}

	records := make([]countryRecord, 0, len(raw))
	for _, item := range raw {
		rec := countryRecord{
			ISO2:      stringValue(item["iso2"]),
			Name:      stringValue(item["name"]),
			Region:    stringValue(item["region"]),
			Subregion: stringValue(item["subregion"]),
		}
		rec.Latitude, _ = floatValue(item["latitude"])
		rec.Longitude, _ = floatValue(item["longitude"])
		records = append(records, rec)
	}
	return records, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func floatValue(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, ok := parseNumber(x)
		return f, ok
	}
	return 0, false
}

// ListCountries returns every country ordered by name
func ListCountries(ctx context.Context, db *gorm.DB) ([]models.Country, error) {
	countries := []models.Country{}
	if err := db.WithContext(ctx).Order("name ASC").Find(&countries).Error; err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	return countries, nil
}

// GetCountry returns the country with the given code
func GetCountry(ctx context.Context, db *gorm.DB, code string) (*models.Country, error) {
	code = normalizeCountryCode(code)

	var country models.Country
	err := db.WithContext(ctx).Where("code = ?", code).First(&country).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCountryNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch country %s: %w", code, err)
	}
	return &country, nil
}

// CountryCodes returns the set of known country codes
func CountryCodes(ctx context.Context, db *gorm.DB) (map[string]bool, error) {
	var codes []string
	if err := db.WithContext(ctx).Model(&models.Country{}).Pluck("code", &codes).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch country codes: %w", err)
	}

	set := make(map[string]bool, len(codes))
	for _, code := range codes {
		set[code] = true
	}
	return set, nil
}
