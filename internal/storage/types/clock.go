package types

import "time"

// Clock returns the current time in Unix seconds. The store uses it for the
// retention horizon; tests inject fixed or stepping clocks.
type Clock func() float64

// WallClock reads the system clock.
func WallClock() float64 {
	return Seconds(time.Now())
}

// Fixed returns a Clock that always reports t.
func Fixed(t float64) Clock {
	return func() float64 { return t }
}

// Seconds converts t to fractional Unix seconds.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// OrWall returns c, or WallClock when c is nil.
func (c Clock) OrWall() Clock {
	if c == nil {
		return WallClock
	}
	return c
}
