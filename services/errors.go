package services

import (
	"errors"
	"fmt"
)

// Store errors. Callers match them with errors.Is; the wrapped message carries the key.
var (
	ErrDuplicateEntry  = errors.New("data entry already exists")
	ErrUnknownCountry  = errors.New("country does not exist")
	ErrEntryNotFound   = errors.New("data entry not found")
	ErrCountryNotFound = errors.New("country not found")
)

// ValidationError reports a write rejected before it reached the database
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid data entry: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is or wraps a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
