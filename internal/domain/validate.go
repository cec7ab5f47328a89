package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalid marks input rejected before any request is made.
var ErrInvalid = errors.New("invalid input")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

// Invalid creates a typed validation error.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsInvalid checks if an error is a validation error.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}

// MinPasswordLength is the shortest password accepted for signup and login.
const MinPasswordLength = 6

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{10,14}$`)
	// city, street, house, apartment
	addressPattern = regexp.MustCompile(`^[\p{L}\s-]+,\s*[\p{L}\s-]+,\s*(?:[\p{L}0-9\s.-]*[\p{L}0-9]+)+,\s*[\p{L}0-9/-]+$`)
)

// ValidateCredentials checks an email/password pair.
func ValidateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" {
		return Invalid("email", "required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Invalid("email", "not an email address")
	}
	if len(password) < MinPasswordLength {
		return Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	return nil
}

// ValidatePhone accepts an empty value or an international number.
func ValidatePhone(phone string) error {
	if phone == "" || phonePattern.MatchString(phone) {
		return nil
	}
	return Invalid("phone_number", "expected +<country><number>, 11-15 digits")
}

// ValidateAddress checks the "city, street, house, apartment" shape.
func ValidateAddress(address string) error {
	if !addressPattern.MatchString(strings.TrimSpace(address)) {
		return Invalid("address", `expected "city, street, house, apartment"`)
	}
	return nil
}

// ValidateRating accepts whole or half stars between 1 and 5.
func ValidateRating(rating float64) error {
	if rating < 1 || rating > 5 {
		return Invalid("rating", "must be between 1 and 5")
	}
	if rating*2 != float64(int(rating*2)) {
		return Invalid("rating", "must be a whole or half star")
	}
	return nil
}
