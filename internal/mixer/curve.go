// Package mixer translates user-facing linear volume levels into attenuation
// values and routes clip definitions to named mixer groups through a
// [sound.MixerService].
package mixer

import (
	"fmt"
	"math"
)

// Floor is the smallest linear amplitude the curve produces. Translating a
// level of 0 yields 20·log10(Floor) = -80 dB instead of -Inf.
const Floor = 1e-4

// Headroom limits accepted by [Curve.Validate]. Below MinHeadroomDB the top
// of the curve approaches [Floor] and the mapping stops being increasing.
const (
	MinHeadroomDB = -3.0
	MaxHeadroomDB = 24.0
)

// Curve is a logarithmic volume curve with configurable headroom.
//
// A linear level v in [0,1] is interpolated onto [Floor, 1+6·D/20] where D is
// HeadroomDB, then converted to decibels. With D = 0 a level of 1 maps to
// 0 dB.
type Curve struct {
	HeadroomDB float64
}

// Validate reports whether HeadroomDB lies within [MinHeadroomDB,
// MaxHeadroomDB].
func (c Curve) Validate() error {
	if !(c.HeadroomDB >= MinHeadroomDB && c.HeadroomDB <= MaxHeadroomDB) {
		return fmt.Errorf("mixer: headroom %.2f dB is out of range [%g, %g]", c.HeadroomDB, MinHeadroomDB, MaxHeadroomDB)
	}
	return nil
}

// Top returns the linear amplitude reached at level 1.
func (c Curve) Top() float64 {
	return 1 + 6*c.HeadroomDB/20
}

// Translate maps a linear level to an attenuation in decibels. Levels outside
// [0,1] are clamped. The mapping is strictly increasing.
func (c Curve) Translate(v float64) float64 {
	v = min(max(v, 0), 1)
	return 20 * math.Log10(Floor+v*(c.Top()-Floor))
}

// Gain maps a linear level to the amplitude equivalent of [Curve.Translate].
// Unlike Translate it does not clamp above 1, so volume scales greater than 1
// remain audible as boosts.
func (c Curve) Gain(v float64) float64 {
	return Floor + max(v, 0)*(c.Top()-Floor)
}

// MinDB returns Translate(0), the quietest representable attenuation.
func (c Curve) MinDB() float64 {
	return c.Translate(0)
}
