package bme680_test

import (
	"testing"

	"go.viam.com/test"

	"github.com/envsensing/envnode/sensor/bme680"
)

func TestEstimateVOC(t *testing.T) {
	// unusable readings report the fixed default, not the floor.
	test.That(t, bme680.EstimateVOC(0), test.ShouldEqual, 150.0)
	test.That(t, bme680.EstimateVOC(-5), test.ShouldEqual, 150.0)

	// clamped at both ends.
	test.That(t, bme680.EstimateVOC(1), test.ShouldEqual, 50.0)
	test.That(t, bme680.EstimateVOC(1e12), test.ShouldEqual, 800.0)

	// 100 kΩ: 50 + 80*5 = 450. 10 MΩ: 50 + 80*7 = 610.
	test.That(t, bme680.EstimateVOC(1e5), test.ShouldAlmostEqual, 450.0, 1e-9)
	test.That(t, bme680.EstimateVOC(1e7), test.ShouldAlmostEqual, 610.0, 1e-9)

	// monotonic: dirtier air (lower resistance) scores lower.
	test.That(t, bme680.EstimateVOC(5e4), test.ShouldBeLessThan, bme680.EstimateVOC(2e5))
}
