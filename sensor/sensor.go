// Package sensor holds the sample types shared by the node's three sensing
// subsystems and the warmup bookkeeping they have in common.
package sensor

import (
	"time"

	"github.com/benbjohnson/clock"
)

// ParticulateSample is one decoded particulate frame, in µg/m³.
type ParticulateSample struct {
	PM25 float64
	PM10 float64
}

// EnvironmentalSample is one multi-parameter environmental reading.
type EnvironmentalSample struct {
	TemperatureC     float64
	HumidityPct      float64
	PressureHPa      float64
	GasResistanceOhm float64
}

// RadiationSample is one closed acquisition window converted to a rate.
type RadiationSample struct {
	CPM         float64
	MicroSvPerH float64
}

// A Warmup tracks the fixed delay after (re)initialization during which a
// sensor's readings are attempted but failures are not reported.
type Warmup struct {
	clock clock.Clock
	until time.Time
}

// NewWarmup starts a warmup window of the given length.
func NewWarmup(c clock.Clock, d time.Duration) *Warmup {
	return &Warmup{clock: c, until: c.Now().Add(d)}
}

// Ready reports whether the warmup window has elapsed.
func (w *Warmup) Ready() bool {
	return !w.clock.Now().Before(w.until)
}

// Restart begins a fresh warmup window, e.g. after reinitialization.
func (w *Warmup) Restart(d time.Duration) {
	w.until = w.clock.Now().Add(d)
}
