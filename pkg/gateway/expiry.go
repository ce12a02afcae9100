package gateway

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrValidation = errors.New("validation failed")

// ValidationError carries the text shown to the user for a rejected input.
type ValidationError struct {
	Text string
}

func (e *ValidationError) Error() string { return e.Text }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

const (
	TextKeyRequired    = "Key is required"
	TextValueRequired  = "Value is required"
	TextExpiryRequired = "Expiry is required"
	TextExpiryNaN      = "Expiry time should be a number"
	TextExpiryPositive = "Expiry time should be greater than 0"
	TextExpiryTooLarge = "Expiry time is too large"
)

type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
)

// ParseUnit maps a unit name to a Unit. Unknown names fall back to Seconds.
func ParseUnit(s string) Unit {
	switch Unit(strings.ToLower(strings.TrimSpace(s))) {
	case Minutes, "m", "min":
		return Minutes
	case Hours, "h":
		return Hours
	default:
		return Seconds
	}
}

func (u Unit) Multiplier() int {
	switch u {
	case Minutes:
		return 60
	case Hours:
		return 3600
	default:
		return 1
	}
}

// NormalizeExpiry turns the user's expiry text and unit into whole seconds.
func NormalizeExpiry(raw string, unit Unit) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &ValidationError{Text: TextExpiryRequired}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Text: TextExpiryNaN}
	}
	if n <= 0 {
		return 0, &ValidationError{Text: TextExpiryPositive}
	}
	if n > math.MaxInt/unit.Multiplier() {
		return 0, &ValidationError{Text: TextExpiryTooLarge}
	}
	return n * unit.Multiplier(), nil
}
