package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAttempts is returned when an optimization is requested with
	// max_attempts <= 0.
	ErrInvalidAttempts = errors.New("max attempts must be positive")

	// ErrNilOrder is returned when an operation receives a nil order.
	ErrNilOrder = errors.New("order is required")

	// ErrNilReview is returned when an audit batch contains a nil review.
	ErrNilReview = errors.New("review is required")

	// ErrInvalidAmount is returned for negative or non-finite amounts.
	ErrInvalidAmount = errors.New("amount must be a non-negative finite number")

	// ErrInvalidTenant is returned for tenant IDs that cannot be used as a
	// bus subject token or cache key segment.
	ErrInvalidTenant = errors.New("invalid tenant id")
)

// MaxTenantIDLength bounds client-supplied tenant IDs.
const MaxTenantIDLength = 64

// ValidateTenantID accepts 1 to MaxTenantIDLength letters, digits, '-' and
// '_'. IDs starting with '_' are reserved.
func ValidateTenantID(id string) error {
	if id == "" || len(id) > MaxTenantIDLength || id[0] == '_' {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidTenant, id)
		}
	}
	return nil
}

// ValidationError reports an unrecognized enumerated choice.
type ValidationError struct {
	Field   string
	Value   string
	Choices []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: choose from %s", e.Field, e.Value, strings.Join(e.Choices, ", "))
}

// ValidateChoice returns a *ValidationError unless value is one of choices.
func ValidateChoice(field, value string, choices []string) error {
	for _, c := range choices {
		if c == value {
			return nil
		}
	}
	return &ValidationError{Field: field, Value: value, Choices: choices}
}
