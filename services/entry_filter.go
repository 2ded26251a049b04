package services

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Condition operators
const (
	OpUnknown = "unknown"
	OpKnown   = "known"
	OpEq      = "eq"
	OpNe      = "ne"
	OpGt      = "gt"
	OpGte     = "gte"
	OpLt      = "lt"
	OpLte     = "lte"
)

var comparisonOps = map[string]string{
	OpEq:  "=",
	OpNe:  "<>",
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
}

// FieldCondition is a predicate over one indicator, e.g. "gdp is unknown" or
// "population > 1000000"
type FieldCondition struct {
	Field string
	Op    string
	Value interface{}
}

// EntryFilter holds filter options for querying data entries
type EntryFilter struct {
	CountryCodes []string
	YearFrom     *int
	YearTo       *int
	Conditions   []FieldCondition
	// OrderBy is an indicator name, "country_code", "year" or "created_at".
	// Empty keeps insertion order.
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

// ParseCondition parses the "field:op[:value]" notation used by the HTTP API,
// e.g. "gdp:unknown" or "population:gt:1000000"
func ParseCondition(s string) (FieldCondition, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return FieldCondition{}, invalid("where", "%q must look like field:op[:value]", s)
	}

	cond := FieldCondition{Field: strings.TrimSpace(parts[0]), Op: strings.ToLower(strings.TrimSpace(parts[1]))}
	switch cond.Op {
	case OpUnknown, OpKnown:
		if len(parts) == 3 {
			return FieldCondition{}, invalid("where", "operator %s takes no value", cond.Op)
		}
		return cond, nil
	}

	if len(parts) != 3 {
		return FieldCondition{}, invalid("where", "operator %s needs a value", cond.Op)
	}
	raw := strings.TrimSpace(parts[2])
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		cond.Value = n
		return cond, nil
	}
	x, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return FieldCondition{}, invalid("where", "%q is not a number", raw)
	}
	cond.Value = x
	return cond, nil
}

func (c FieldCondition) apply(query *gorm.DB) (*gorm.DB, error) {
	f, ok := lookupField(c.Field)
	if !ok {
		return nil, invalid("where", "unknown field %q", c.Field)
	}

	switch c.Op {
	case OpUnknown:
		return query.Where(f.Name + " IS NULL"), nil
	case OpKnown:
		return query.Where(f.Name + " IS NOT NULL"), nil
	}

	sqlOp, ok := comparisonOps[c.Op]
	if !ok {
		return nil, invalid("where", "unknown operator %q", c.Op)
	}
	if c.Value == nil {
		return nil, invalid("where", "operator %s needs a value, use %s to match unknown values", c.Op, OpUnknown)
	}

	// Comparisons are not bound by the field's sign constraint
	operand := f
	operand.NonNegative = false
	if f.Kind == intField {
		// Allow "population > 1.5e6" style thresholds on integer columns
		operand.Kind = floatField
	}
	v, err := operand.coerce(c.Value)
	if err != nil {
		return nil, err
	}
	return query.Where(fmt.Sprintf("%s %s ?", f.Name, sqlOp), v), nil
}

func (f EntryFilter) apply(query *gorm.DB) (*gorm.DB, error) {
	if len(f.CountryCodes) > 0 {
		codes := make([]string, 0, len(f.CountryCodes))
		for _, code := range f.CountryCodes {
			if code = normalizeCountryCode(code); code != "" {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			query = query.Where("country_code IN ?", codes)
		}
	}
	if f.YearFrom != nil {
		query = query.Where("year >= ?", *f.YearFrom)
	}
	if f.YearTo != nil {
		query = query.Where("year <= ?", *f.YearTo)
	}

	for _, cond := range f.Conditions {
		var err error
		if query, err = cond.apply(query); err != nil {
			return nil, err
		}
	}

	direction := "ASC"
	if f.Descending {
		direction = "DESC"
	}
	switch column := strings.ToLower(strings.TrimSpace(f.OrderBy)); column {
	case "":
		query = query.Order("created_at " + direction).Order("country_code " + direction).Order("year " + direction)
	case "country_code", "year", "created_at":
		query = query.Order(column + " " + direction).Order("country_code").Order("year")
	default:
		field, ok := lookupField(column)
		if !ok {
			return nil, invalid("order", "cannot order by %q", f.OrderBy)
		}
		query = query.Order(field.Name + " " + direction).Order("country_code").Order("year")
	}

	if f.Limit < 0 || f.Offset < 0 {
		return nil, invalid("limit", "limit and offset must not be negative")
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	return query, nil
}
