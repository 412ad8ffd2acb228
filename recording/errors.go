package recording

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrValidation matches any *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound matches any *NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a lookup by an unknown identifier.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

// ParseOrdinal parses a chunk ordinal in base 10. Signs, fractions and
// anything beyond the int range are rejected.
func ParseOrdinal(s string) (int, error) {
	if s == "" {
		return 0, &ValidationError{Field: "chunkNumber", Reason: "is required"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, &ValidationError{Field: "chunkNumber", Reason: fmt.Sprintf("%q is not a non-negative integer", s)}
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: "chunkNumber", Reason: fmt.Sprintf("%q is out of range", s)}
	}
	return n, nil
}

func checkOrdinal(ordinal int) error {
	if ordinal < 0 {
		return &ValidationError{Field: "chunkNumber", Reason: "must be non-negative"}
	}
	return nil
}
