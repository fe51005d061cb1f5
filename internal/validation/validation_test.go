package validation

import (
	"math"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/errors"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name    string
		input   float64
		wantErr bool
	}{
		{"zero", 0, false},
		{"hundred", 100, false},
		{"middle", 42.5, false},
		{"negative", -0.001, true},
		{"above", 100.0001, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
		{"neg inf", math.Inf(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Percent("cpu_percent", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Percent(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidValue) {
				t.Errorf("Percent(%v) error %v is not ErrInvalidValue", tt.input, err)
			}
		})
	}
}

func TestPositiveFinite(t *testing.T) {
	tests := []struct {
		name    string
		input   float64
		wantErr bool
	}{
		{"one", 1, false},
		{"tiny", 1e-9, false},
		{"zero", 0, true},
		{"negative", -5, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PositiveFinite("retention_seconds", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("PositiveFinite(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestMinInt(t *testing.T) {
	tests := []struct {
		name    string
		n, min  int
		wantErr bool
	}{
		{"equal", 2, 2, false},
		{"above", 10, 2, false},
		{"below", 1, 2, true},
		{"zero limit", 0, 1, true},
		{"negative", -3, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MinInt("target", tt.n, tt.min)
			if (err != nil) != tt.wantErr {
				t.Errorf("MinInt(%d, %d) error = %v, wantErr %v", tt.n, tt.min, err, tt.wantErr)
			}
			if err != nil && !errors.IsInvalidArgument(err) {
				t.Errorf("MinInt error %v is not an invalid argument", err)
			}
		})
	}

	if err := PositiveInt("limit", 0); err == nil {
		t.Error("PositiveInt(0) should fail")
	}
}

func TestTimeRange(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		start, end *float64
		wantErr    bool
	}{
		{"unbounded", nil, nil, false},
		{"start only", f(10), nil, false},
		{"end only", nil, f(10), false},
		{"ordered", f(1), f(2), false},
		{"equal", f(5), f(5), false},
		{"negative timestamps", f(-10), f(-1), false},
		{"reversed", f(2), f(1), true},
		{"nan start", f(math.NaN()), nil, true},
		{"inf end", nil, f(math.Inf(1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TimeRange(tt.start, tt.end)
			if (err != nil) != tt.wantErr {
				t.Errorf("TimeRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsInvalidArgument(err) {
				t.Errorf("TimeRange() error %v is not an invalid argument", err)
			}
		})
	}
}

func TestInterval(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    time.Duration
		wantErr bool
	}{
		{"one second", 1, time.Second, false},
		{"fractional", 0.25, 250 * time.Millisecond, false},
		{"zero", 0, 0, true},
		{"negative", -1, 0, true},
		{"nan", math.NaN(), 0, true},
		{"inf", math.Inf(1), 0, true},
		{"sub nanosecond", 1e-12, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Interval(tt.seconds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Interval(%v) error = %v, wantErr %v", tt.seconds, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Interval(%v) = %v, want %v", tt.seconds, got, tt.want)
			}
		})
	}
}
