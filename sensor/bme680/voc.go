package bme680

import "math"

// VOC proxy bounds. The mapping is a placeholder scale, not a calibrated
// IAQ: clean air around a few hundred kΩ lands near the low end.
const (
	vocFloor   = 50.0
	vocCeiling = 800.0

	// vocDefault is reported when the gas reading is unusable.
	vocDefault = 150.0
)

// EstimateVOC maps a gas resistance reading to a monotonic air-quality
// proxy: clamp(50 + 80*log10(ohms), 50, 800). Purely functional; a
// non-positive resistance yields the fixed default.
func EstimateVOC(gasOhms float64) float64 {
	if gasOhms <= 0 {
		return vocDefault
	}
	voc := 50.0 + 80.0*math.Log10(gasOhms)
	if voc < vocFloor {
		return vocFloor
	}
	if voc > vocCeiling {
		return vocCeiling
	}
	return voc
}
