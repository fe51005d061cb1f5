// Package validation provides centralized input validation for aura.
//
// Every check returns an error from the internal/errors taxonomy so callers
// can classify failures with errors.Is. Checks never have side effects.
package validation

import (
	"math"
	"strconv"
	"time"

	"github.com/xtxerr/aura/internal/errors"
)

// =============================================================================
// Numeric Validation
// =============================================================================

// Finite rejects NaN and ±Inf.
func Finite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.NewInvalidValue(field, v, "must be finite")
	}
	return nil
}

// Percent requires a finite value inside [0, 100].
func Percent(field string, v float64) error {
	if err := Finite(field, v); err != nil {
		return err
	}
	if v < 0 || v > 100 {
		return errors.NewInvalidValue(field, v, "must be between 0 and 100")
	}
	return nil
}

// PositiveFinite requires a finite value > 0.
func PositiveFinite(field string, v float64) error {
	if err := Finite(field, v); err != nil {
		return err
	}
	if v <= 0 {
		return errors.NewInvalidValue(field, v, "must be > 0")
	}
	return nil
}

// PositiveInt requires n >= 1.
func PositiveInt(field string, n int) error {
	return MinInt(field, n, 1)
}

// MinInt requires n >= minimum.
func MinInt(field string, n, minimum int) error {
	if n < minimum {
		return errors.NewInvalidArgument(field, "must be >= "+strconv.Itoa(minimum))
	}
	return nil
}

// =============================================================================
// Range Validation
// =============================================================================

// TimeRange validates optional inclusive bounds. A nil bound is unbounded on
// that side. Given bounds must be finite and start must not exceed end.
func TimeRange(start, end *float64) error {
	if start != nil {
		if err := Finite("start", *start); err != nil {
			return err
		}
	}
	if end != nil {
		if err := Finite("end", *end); err != nil {
			return err
		}
	}
	if start != nil && end != nil && *start > *end {
		return errors.NewInvalidArgument("range", "start must be <= end")
	}
	return nil
}

// =============================================================================
// Interval Validation
// =============================================================================

// Interval converts a seconds value into a duration. The value must be finite
// and > 0 and must not round down to a zero duration.
func Interval(seconds float64) (time.Duration, error) {
	if err := PositiveFinite("interval", seconds); err != nil {
		return 0, err
	}
	if seconds > math.MaxInt64/float64(time.Second) {
		return 0, errors.NewInvalidValue("interval", seconds, "too large")
	}
	d := time.Duration(seconds * float64(time.Second))
	if d <= 0 {
		return 0, errors.NewInvalidValue("interval", seconds, "below clock resolution")
	}
	return d, nil
}
