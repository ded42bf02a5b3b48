// Package geiger converts accumulated detector pulses into dose rates over
// fixed acquisition windows.
package geiger

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/envsensing/envnode/board"
	"github.com/envsensing/envnode/sensor"
)

const (
	// DefaultWindow is the acquisition window length.
	DefaultWindow = 10 * time.Second

	// DefaultCPMPerMicroSv is the tube conversion factor for the stock
	// detector (counts per minute per µSv/h).
	DefaultCPMPerMicroSv = 153.8
)

// MonitorOptions adjusts window behavior; zero values select defaults.
type MonitorOptions struct {
	Window        time.Duration
	CPMPerMicroSv float64
}

// A Monitor owns the pulse accumulator and slices time into acquisition
// windows. A window with zero pulses is still a valid measurement: a zero
// rate, not a failure.
type Monitor struct {
	di     board.DigitalInterrupt
	clock  clock.Clock
	logger golog.Logger

	window        time.Duration
	cpmPerMicroSv float64
	windowStart   time.Time
}

// NewMonitor opens the first acquisition window immediately.
func NewMonitor(di board.DigitalInterrupt, c clock.Clock, logger golog.Logger, opts MonitorOptions) *Monitor {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.CPMPerMicroSv == 0 {
		opts.CPMPerMicroSv = DefaultCPMPerMicroSv
	}
	return &Monitor{
		di:            di,
		clock:         c,
		logger:        logger,
		window:        opts.Window,
		cpmPerMicroSv: opts.CPMPerMicroSv,
		windowStart:   c.Now(),
	}
}

// WindowElapsed reports whether the current window has run its full length.
func (m *Monitor) WindowElapsed() bool {
	return !m.clock.Now().Before(m.windowStart.Add(m.window))
}

// CloseWindow reads and resets the pulse count in one critical section,
// converts the count over the actual elapsed time into a rate, and opens the
// next window.
func (m *Monitor) CloseWindow() sensor.RadiationSample {
	now := m.clock.Now()
	elapsed := now.Sub(m.windowStart)
	pulses := m.di.ValueAndReset()
	m.windowStart = now

	if elapsed <= 0 {
		// window closed with no elapsed time; nothing meaningful to rate.
		return sensor.RadiationSample{}
	}
	cpm := float64(pulses) * 60000.0 / float64(elapsed.Milliseconds())
	m.logger.Debugw("acquisition window closed",
		"pulses", pulses, "elapsed", elapsed, "cpm", cpm)
	return sensor.RadiationSample{
		CPM:         cpm,
		MicroSvPerH: cpm / m.cpmPerMicroSv,
	}
}
