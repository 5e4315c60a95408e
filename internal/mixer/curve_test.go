package mixer_test

import (
	"math"
	"testing"

	"github.com/MrWong99/cuemix/internal/mixer"
)

func TestCurve_Translate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		curve mixer.Curve
		in    float64
		want  float64
	}{
		{"zero is floor", mixer.Curve{}, 0, -80},
		{"full without headroom", mixer.Curve{}, 1, 0},
		{"clamped above", mixer.Curve{}, 3, 0},
		{"clamped below", mixer.Curve{}, -1, -80},
		{"headroom raises top", mixer.Curve{HeadroomDB: 10}, 1, 20 * math.Log10(4)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.curve.Translate(tc.in); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Translate(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestCurve_Monotonic(t *testing.T) {
	t.Parallel()

	for _, d := range []float64{mixer.MinHeadroomDB, -1, 0, 3, 6, 20, mixer.MaxHeadroomDB} {
		c := mixer.Curve{HeadroomDB: d}
		if err := c.Validate(); err != nil {
			t.Fatalf("headroom %v: Validate() = %v", d, err)
		}
		prev, prevGain := c.Translate(0), c.Gain(0)
		for i := 1; i <= 1000; i++ {
			v := float64(i) / 1000
			got, gain := c.Translate(v), c.Gain(v)
			if math.IsNaN(got) || got <= prev {
				t.Fatalf("headroom %v: Translate(%v) = %v not above %v", d, v, got, prev)
			}
			if gain <= prevGain || gain <= 0 {
				t.Fatalf("headroom %v: Gain(%v) = %v not above %v", d, v, gain, prevGain)
			}
			prev, prevGain = got, gain
		}
	}
}

func TestCurve_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		headroom float64
		wantErr  bool
	}{
		{0, false},
		{mixer.MinHeadroomDB, false},
		{mixer.MaxHeadroomDB, false},
		{-3.5, true},
		{-60, true},
		{24.5, true},
		{math.NaN(), true},
		{math.Inf(1), true},
	}
	for _, tc := range tests {
		err := mixer.Curve{HeadroomDB: tc.headroom}.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("Curve{%v}.Validate() = %v, wantErr %v", tc.headroom, err, tc.wantErr)
		}
	}
}

func TestCurve_ZeroBelowEpsilon(t *testing.T) {
	t.Parallel()

	c := mixer.Curve{}
	zero := c.Translate(0)
	if math.IsInf(zero, 0) || math.IsNaN(zero) {
		t.Fatalf("Translate(0) = %v, want finite", zero)
	}
	if small := c.Translate(1e-6); !(zero < small) {
		t.Errorf("Translate(0) = %v is not below Translate(1e-6) = %v", zero, small)
	}
	if c.MinDB() != zero {
		t.Errorf("MinDB = %v, want %v", c.MinDB(), zero)
	}
	if c.Translate(0.5) != c.Translate(0.5) {
		t.Error("Translate is not deterministic")
	}
}

func TestCurve_Gain(t *testing.T) {
	t.Parallel()

	c := mixer.Curve{}
	if got := c.Gain(1); math.Abs(got-1) > 1e-12 {
		t.Errorf("Gain(1) = %v, want 1", got)
	}
	if got := c.Gain(0); got != mixer.Floor {
		t.Errorf("Gain(0) = %v, want %v", got, mixer.Floor)
	}
	if got := c.Gain(2); got <= c.Gain(1) {
		t.Errorf("Gain(2) = %v should exceed Gain(1)", got)
	}
	if db := 20 * math.Log10(c.Gain(0.25)); math.Abs(db-c.Translate(0.25)) > 1e-9 {
		t.Errorf("Gain and Translate disagree at 0.25: %v vs %v", db, c.Translate(0.25))
	}
}
