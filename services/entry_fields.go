package services

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"gdp_atlas_go/models"
)

type fieldKind int

const (
	floatField fieldKind = iota
	intField
)

// entryField describes one optional indicator column of models.DataEntry.
// The name doubles as the column name, the JSON key and the export header.
type entryField struct {
	Name        string
	Kind        fieldKind
	NonNegative bool
	float       func(e *models.DataEntry) **float64
	int         func(e *models.DataEntry) **int64
}

// entryFields lists the indicator columns in export order
var entryFields = []entryField{
	{Name: "gdp", Kind: floatField, NonNegative: true, float: func(e *models.DataEntry) **float64 { return &e.GDP }},
	{Name: "population", Kind: intField, NonNegative: true, int: func(e *models.DataEntry) **int64 { return &e.Population }},
	{Name: "life_expectancy", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.LifeExpectancy }},
	{Name: "migration", Kind: intField, int: func(e *models.DataEntry) **int64 { return &e.Migration }},
	{Name: "internet", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.Internet }},
	{Name: "hci", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.HCI }},
	{Name: "enrollment", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.Enrollment }},
	{Name: "urban_pop", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.UrbanPop }},
	{Name: "infant_mortality", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.InfantMortality }},
	{Name: "female", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.Female }},
	{Name: "male", Kind: floatField, float: func(e *models.DataEntry) **float64 { return &e.Male }},
}

var entryFieldsByName = func() map[string]entryField {
	m := make(map[string]entryField, len(entryFields))
	for _, f := range entryFields {
		m[f.Name] = f
	}
	return m
}()

var countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)

const (
	minYear = 1
	maxYear = 9999
)

// EntryFieldNames returns the optional indicator names in export order
func EntryFieldNames() []string {
	names := make([]string, len(entryFields))
	for i, f := range entryFields {
		names[i] = f.Name
	}
	return names
}

func lookupField(name string) (entryField, bool) {
	f, ok := entryFieldsByName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// value returns the stored value as float64 or int64, or nil when unknown
func (f entryField) value(e *models.DataEntry) interface{} {
	if f.Kind == intField {
		if p := *f.int(e); p != nil {
			return *p
		}
		return nil
	}
	if p := *f.float(e); p != nil {
		return *p
	}
	return nil
}

func (f entryField) isSet(e *models.DataEntry) bool {
	return f.value(e) != nil
}

// set stores v, which must already be coerced (nil, float64 or int64)
func (f entryField) set(e *models.DataEntry, v interface{}) {
	if f.Kind == intField {
		if v == nil {
			*f.int(e) = nil
			return
		}
		n := v.(int64)
		*f.int(e) = &n
		return
	}
	if v == nil {
		*f.float(e) = nil
		return
	}
	x := v.(float64)
	*f.float(e) = &x
}

// coerce converts a caller-supplied value into the field's storage type.
// nil stays nil and means unknown.
func (f entryField) coerce(raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}

	var x float64
	switch v := raw.(type) {
	case float64:
		x = v
	case float32:
		x = float64(v)
	case int:
		x = float64(v)
	case int32:
		x = float64(v)
	case int64:
		if f.Kind == intField {
			return f.checkSign(v)
		}
		x = float64(v)
	case json.Number:
		if f.Kind == intField {
			if n, err := v.Int64(); err == nil {
				return f.checkSign(n)
			}
		}
		parsed, err := v.Float64()
		if err != nil {
			return nil, invalid(f.Name, "%q is not a number", v.String())
		}
		x = parsed
	default:
		return nil, invalid(f.Name, "expected a number or null, got %T", raw)
	}

	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil, invalid(f.Name, "must be a finite number")
	}
	if f.Kind == intField {
		if x != math.Trunc(x) || x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, invalid(f.Name, "must be a whole number")
		}
		return f.checkSign(int64(x))
	}
	if f.NonNegative && x < 0 {
		return nil, invalid(f.Name, "must not be negative")
	}
	return x, nil
}

func (f entryField) checkSign(n int64) (interface{}, error) {
	if f.NonNegative && n < 0 {
		return nil, invalid(f.Name, "must not be negative")
	}
	return n, nil
}

func normalizeCountryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// validateEntry checks the key and every known indicator of e
func validateEntry(e *models.DataEntry) error {
	if !countryCodePattern.MatchString(e.CountryCode) {
		return invalid("country_code", "%q is not a two-letter country code", e.CountryCode)
	}
	if e.Year < minYear || e.Year > maxYear {
		return invalid("year", "%d is out of range", e.Year)
	}
	for _, f := range entryFields {
		v := f.value(e)
		if v == nil {
			continue
		}
		if _, err := f.coerce(v); err != nil {
			return err
		}
	}
	return nil
}
