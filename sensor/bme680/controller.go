package bme680

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/envsensing/envnode/board"
	"github.com/envsensing/envnode/sensor"
)

// State is where the controller is in its detection lifecycle.
type State int

// Controller states. Detection and configuration are one step from the
// outside; a read failure while Ready never regresses the state.
const (
	StateUninitialized State = iota
	StateWarming
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWarming:
		return "warming"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

const (
	// DefaultRetryBackoff is how long to wait before re-probing after
	// detection failed at every address.
	DefaultRetryBackoff = 10 * time.Second

	// DefaultWarmupDelay stabilizes the chip between configuration and
	// the first trusted reading.
	DefaultWarmupDelay = 2 * time.Second
)

// ErrNotReady is returned by Read before the controller reaches Ready.
var ErrNotReady = errors.New("bme680 not ready")

// ControllerOptions adjusts controller timing; zero values select defaults.
type ControllerOptions struct {
	Addresses    []byte
	RetryBackoff time.Duration
	WarmupDelay  time.Duration
}

// A Controller drives detection, configuration, warmup and retry of the
// sensor. It is owned by the control loop and not safe for concurrent use.
type Controller struct {
	bus    board.I2C
	clock  clock.Clock
	logger golog.Logger

	addrs        []byte
	retryBackoff time.Duration
	warmupDelay  time.Duration

	state   State
	dev     *Device
	retryAt time.Time
	warmup  *sensor.Warmup
}

// NewController returns a controller that will probe on its first Task call.
func NewController(bus board.I2C, c clock.Clock, logger golog.Logger, opts ControllerOptions) *Controller {
	if len(opts.Addresses) == 0 {
		opts.Addresses = []byte{DefaultAddr, AltAddr}
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.WarmupDelay == 0 {
		opts.WarmupDelay = DefaultWarmupDelay
	}
	return &Controller{
		bus:          bus,
		clock:        c,
		logger:       logger,
		addrs:        opts.Addresses,
		retryBackoff: opts.RetryBackoff,
		warmupDelay:  opts.WarmupDelay,
		retryAt:      c.Now(),
	}
}

// Task runs any due lifecycle work: a scheduled re-probe while
// uninitialized, or the warmup-to-ready transition. Called once per cycle.
func (c *Controller) Task(ctx context.Context) {
	switch c.state {
	case StateUninitialized:
		if c.clock.Now().Before(c.retryAt) {
			return
		}
		if err := c.initialize(ctx); err != nil {
			c.retryAt = c.clock.Now().Add(c.retryBackoff)
			c.logger.Infow("bme680 init failed; will re-probe",
				"error", err, "backoff", c.retryBackoff)
			return
		}
		c.warmup = sensor.NewWarmup(c.clock, c.warmupDelay)
		c.state = StateWarming
	case StateWarming:
		if c.warmup.Ready() {
			c.state = StateReady
			c.logger.Infof("bme680 ready at 0x%02X", c.dev.Address())
		}
	case StateReady:
	}
}

func (c *Controller) initialize(ctx context.Context) error {
	dev, err := Probe(ctx, c.bus, c.addrs, c.logger)
	if err != nil {
		return err
	}
	if err := dev.Configure(ctx); err != nil {
		return errors.Wrap(err, "configure")
	}
	c.dev = dev
	return nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Ready reports whether reads are currently trusted.
func (c *Controller) Ready() bool {
	return c.state == StateReady
}

// Read returns one compensated sample. It only attempts the bus transaction
// when Ready; a failure is transient (the heater measurement is most likely
// still in progress) and leaves the state machine alone.
func (c *Controller) Read(ctx context.Context) (sensor.EnvironmentalSample, error) {
	if c.state != StateReady {
		return sensor.EnvironmentalSample{}, ErrNotReady
	}
	return c.dev.Read(ctx)
}
