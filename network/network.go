// Package network establishes the node's link connectivity, name
// resolution, and a trusted wall clock. Without connectivity the device has
// no useful purpose, so the outer connect retry never gives up.
package network

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/envsensing/envnode/utils"
)

// Connectivity is the link state as last observed by the Manager.
type Connectivity int

// Connectivity states.
const (
	Disconnected Connectivity = iota
	Connecting
	Connected
)

func (c Connectivity) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// LinkStatus is one observation of the underlying link.
type LinkStatus struct {
	Up        bool
	LocalAddr string
}

// A Link is the driver for whatever medium attaches the node to the
// network. Associate kicks off (re)association and may return before the
// link is usable; Status reports the current truth.
type Link interface {
	Associate(ctx context.Context) error
	Status(ctx context.Context) (LinkStatus, error)
}

const (
	// DefaultPollAttempts and DefaultPollInterval bound one association
	// attempt: 40 polls at 250ms, matching the link's worst observed
	// association time.
	DefaultPollAttempts = 40
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultRetryDelay separates full association sequences. The outer
	// retry is unbounded.
	DefaultRetryDelay = 3 * time.Second
)

// ManagerOptions adjusts connect timing; zero values select defaults.
type ManagerOptions struct {
	PollAttempts int
	PollInterval time.Duration
	RetryDelay   time.Duration
}

// A Manager owns the link lifecycle. It is used from the control loop only.
type Manager struct {
	link   Link
	clock  clock.Clock
	logger golog.Logger

	pollAttempts int
	pollInterval time.Duration
	retryDelay   time.Duration

	state     Connectivity
	localAddr string
	sequences int
}

// NewManager returns a manager over the given link driver.
func NewManager(link Link, c clock.Clock, logger golog.Logger, opts ManagerOptions) *Manager {
	if opts.PollAttempts == 0 {
		opts.PollAttempts = DefaultPollAttempts
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Manager{
		link:         link,
		clock:        c,
		logger:       logger,
		pollAttempts: opts.PollAttempts,
		pollInterval: opts.PollInterval,
		retryDelay:   opts.RetryDelay,
	}
}

// State returns the last observed connectivity.
func (m *Manager) State() Connectivity { return m.state }

// LocalAddress returns the address recorded when the link last came up.
func (m *Manager) LocalAddress() string { return m.localAddr }

// Sequences returns how many full association sequences have been started.
func (m *Manager) Sequences() int { return m.sequences }

// Connected re-checks the link and updates the observed state.
func (m *Manager) Connected(ctx context.Context) bool {
	status, err := m.link.Status(ctx)
	if err != nil || !status.Up {
		if m.state == Connected {
			m.logger.Warnw("link lost", "error", err)
		}
		m.state = Disconnected
		return false
	}
	m.state = Connected
	m.localAddr = status.LocalAddr
	return true
}

// EnsureConnected returns once the link is up, retrying the whole
// associate-and-poll sequence indefinitely. It returns early only when the
// context finishes.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.Connected(ctx) {
		return nil
	}
	for {
		m.state = Connecting
		m.sequences++
		if err := m.link.Associate(ctx); err != nil {
			m.logger.Warnw("link association request failed", "error", err)
		} else {
			for i := 0; i < m.pollAttempts; i++ {
				status, err := m.link.Status(ctx)
				if err == nil && status.Up {
					m.state = Connected
					m.localAddr = status.LocalAddr
					m.logger.Infow("link connected", "address", status.LocalAddr)
					return nil
				}
				if !utils.SelectContextOrWaitClock(ctx, m.clock, m.pollInterval) {
					m.state = Disconnected
					return ctx.Err()
				}
			}
		}
		m.logger.Infow("link connection failed; retrying", "delay", m.retryDelay)
		if !utils.SelectContextOrWaitClock(ctx, m.clock, m.retryDelay) {
			m.state = Disconnected
			return ctx.Err()
		}
	}
}

var errNoUsableAddress = errors.New("interface has no usable address")
