// Package node runs the control loop: one fixed-period cycle that services
// the sensors, assembles a consolidated payload, and delivers it. Individual
// sensor failures degrade to last-known-good values; only an untrusted clock
// or an exhausted delivery budget makes a cycle skip transmission.
package node

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/envsensing/envnode/network"
	"github.com/envsensing/envnode/sensor"
	"github.com/envsensing/envnode/sensor/bme680"
	"github.com/envsensing/envnode/telemetry"
	"github.com/envsensing/envnode/utils"
)

// EnvController is the environmental sensor lifecycle the loop drives.
type EnvController interface {
	Task(ctx context.Context)
	Ready() bool
	Read(ctx context.Context) (sensor.EnvironmentalSample, error)
}

// ParticulateReader yields one decoded particulate sample per cycle.
type ParticulateReader interface {
	ReadSample(ctx context.Context) (sensor.ParticulateSample, error)
}

// RadiationMonitor slices detector pulses into acquisition windows.
type RadiationMonitor interface {
	WindowElapsed() bool
	CloseWindow() sensor.RadiationSample
}

// NetManager keeps the uplink alive.
type NetManager interface {
	Connected(ctx context.Context) bool
	EnsureConnected(ctx context.Context) error
}

// TimeSource is the trusted wall clock the loop stamps payloads with.
type TimeSource interface {
	Bootstrap(buildDate string) bool
	SyncNetwork(ctx context.Context) error
	Status() network.ClockStatus
	EpochSeconds() (int64, error)
}

// Sender delivers assembled payloads.
type Sender interface {
	Preflight(ctx context.Context) error
	Send(ctx context.Context, p telemetry.Payload) error
}

// DefaultInterval is the control loop period.
const DefaultInterval = 30 * time.Second

// Options configures loop identity and timing.
type Options struct {
	DeviceID  string
	BuildDate string
	Interval  time.Duration
}

// A Node owns the control loop state: the subsystem handles plus the
// last-known-good sample of each sensor.
type Node struct {
	env    EnvController
	pm     ParticulateReader
	rad    RadiationMonitor
	net    NetManager
	tsrc   TimeSource
	sender Sender
	clock  clock.Clock
	logger golog.Logger

	deviceID  string
	buildDate string
	interval  time.Duration

	lastEnv sensor.EnvironmentalSample
	lastPM  sensor.ParticulateSample
	lastRad sensor.RadiationSample

	envMissLogged bool
	cycles        int
}

// New seeds last-known-good values with plausible indoor defaults so the
// very first payloads are usable even before every sensor has produced.
func New(
	env EnvController,
	pm ParticulateReader,
	rad RadiationMonitor,
	net NetManager,
	tsrc TimeSource,
	sender Sender,
	c clock.Clock,
	logger golog.Logger,
	opts Options,
) *Node {
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	return &Node{
		env:       env,
		pm:        pm,
		rad:       rad,
		net:       net,
		tsrc:      tsrc,
		sender:    sender,
		clock:     c,
		logger:    logger,
		deviceID:  opts.DeviceID,
		buildDate: opts.BuildDate,
		interval:  opts.Interval,
		lastEnv: sensor.EnvironmentalSample{
			TemperatureC:     24.0,
			HumidityPct:      55.0,
			PressureHPa:      1010.0,
			GasResistanceOhm: 100000.0,
		},
		lastPM: sensor.ParticulateSample{PM25: 12.0},
	}
}

// Cycles returns how many cycles have run.
func (n *Node) Cycles() int { return n.cycles }

// Run brings the node up and then cycles forever. It returns only when the
// context finishes; everything else is retried in place.
func (n *Node) Run(ctx context.Context) error {
	if err := n.net.EnsureConnected(ctx); err != nil {
		return err
	}
	if n.tsrc.Bootstrap(n.buildDate) {
		n.logger.Infow("clock bootstrapped", "status", n.tsrc.Status())
	}
	if err := n.tsrc.SyncNetwork(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// not fatal: the bootstrap tier may carry us, and every later
		// cycle retries while the clock stays unsynced.
		n.logger.Warnw("initial network time sync failed", "error", err)
	}

	for {
		n.Cycle(ctx)
		if !utils.SelectContextOrWaitClock(ctx, n.clock, n.interval) {
			return ctx.Err()
		}
	}
}

// Cycle runs one fixed-period pass: service sensors, refresh last-known-good
// values, and transmit a payload if the clock is trusted and the collector
// reachable.
func (n *Node) Cycle(ctx context.Context) {
	n.cycles++

	n.env.Task(ctx)
	if n.env.Ready() {
		if s, err := n.env.Read(ctx); err == nil {
			n.lastEnv = s
			n.envMissLogged = false
		} else if !n.envMissLogged {
			n.logger.Infow("environmental read failed; reusing last-known-good values", "error", err)
			n.envMissLogged = true
		}
	}

	if s, err := n.pm.ReadSample(ctx); err == nil {
		n.lastPM = s
	}

	if n.rad.WindowElapsed() {
		n.lastRad = n.rad.CloseWindow()
	}

	epoch, err := n.tsrc.EpochSeconds()
	if err != nil {
		// a payload with a bogus timestamp poisons the downstream series;
		// better to skip the cycle and try to regain trust.
		n.logger.Warn("clock untrusted; skipping transmission this cycle")
		if !n.tsrc.Bootstrap(n.buildDate) {
			if err := n.tsrc.SyncNetwork(ctx); err != nil {
				n.logger.Debugw("network time sync still failing", "error", err)
			}
		}
		return
	}

	if !n.net.Connected(ctx) {
		if err := n.net.EnsureConnected(ctx); err != nil {
			return
		}
	}

	payload := telemetry.Payload{
		DeviceID:  n.deviceID,
		Timestamp: epoch,
		Data: telemetry.Readings{
			RadiationCPM: n.lastRad.CPM,
			PM25:         n.lastPM.PM25,
			AirTempC:     n.lastEnv.TemperatureC,
			Humidity:     n.lastEnv.HumidityPct,
			PressureHPa:  n.lastEnv.PressureHPa,
			VOC:          bme680.EstimateVOC(n.lastEnv.GasResistanceOhm),
		},
	}

	if err := n.sender.Preflight(ctx); err != nil {
		n.logger.Warnw("collector preflight failed; skipping transmission", "error", err)
		return
	}
	if err := n.sender.Send(ctx, payload); err != nil {
		n.logger.Warnw("payload delivery failed", "error", err)
		return
	}
	n.logger.Debugw("payload delivered", "timestamp", epoch, "pm25", payload.Data.PM25)
}
