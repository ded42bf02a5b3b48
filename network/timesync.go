package network

import (
	"context"
	"strconv"
	"time"

	"github.com/beevik/ntp"
	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/envsensing/envnode/utils"
)

// ClockStatus is how much the node trusts its idea of wall-clock time.
type ClockStatus int

// Clock trust tiers. NetworkSynced supersedes Bootstrapped; a timestamp is
// usable for transmission only at Bootstrapped or better.
const (
	ClockUnsynced ClockStatus = iota
	ClockBootstrapped
	ClockNetworkSynced
)

func (s ClockStatus) String() string {
	switch s {
	case ClockUnsynced:
		return "unsynced"
	case ClockBootstrapped:
		return "bootstrapped"
	case ClockNetworkSynced:
		return "network-synced"
	}
	return "unknown"
}

// PlausibleEpoch is the "clearly not epoch-zero" threshold: anything below
// it cannot be a real current timestamp.
const PlausibleEpoch int64 = 1_700_000_000

// DefaultNTPServers are queried when the config names none.
var DefaultNTPServers = []string{"pool.ntp.org", "time.nist.gov", "time.google.com"}

const (
	// DefaultSyncBudget bounds one SyncNetwork call end to end.
	DefaultSyncBudget = 10 * time.Second

	defaultQueryTimeout = time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// ErrClockUntrusted is returned while no tier has produced a plausible epoch.
var ErrClockUntrusted = errors.New("wall clock not yet trustworthy")

// queryFunc asks one server for the current time.
type queryFunc func(ctx context.Context, server string, timeout time.Duration) (time.Time, error)

// TrustedClockOptions adjusts sync behavior; zero values select defaults.
type TrustedClockOptions struct {
	NTPServers   []string
	SyncBudget   time.Duration
	QueryTimeout time.Duration
	PollInterval time.Duration

	// Query overrides the NTP query, for tests.
	Query queryFunc
}

// A TrustedClock layers a trusted epoch over the monotonic clock. The
// process cannot (and should not) set the system clock, so trust is kept as
// an offset: a tier records the epoch it produced plus the monotonic
// instant it was recorded at.
type TrustedClock struct {
	clock  clock.Clock
	logger golog.Logger

	servers      []string
	syncBudget   time.Duration
	queryTimeout time.Duration
	pollInterval time.Duration
	query        queryFunc

	status  ClockStatus
	epoch   int64
	epochAt time.Time
}

// NewTrustedClock returns a clock with no trusted tier yet.
func NewTrustedClock(c clock.Clock, logger golog.Logger, opts TrustedClockOptions) *TrustedClock {
	if len(opts.NTPServers) == 0 {
		opts.NTPServers = DefaultNTPServers
	}
	if opts.SyncBudget == 0 {
		opts.SyncBudget = DefaultSyncBudget
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Query == nil {
		opts.Query = ntpQuery
	}
	return &TrustedClock{
		clock:        c,
		logger:       logger,
		servers:      opts.NTPServers,
		syncBudget:   opts.SyncBudget,
		queryTimeout: opts.QueryTimeout,
		pollInterval: opts.PollInterval,
		query:        opts.Query,
	}
}

func ntpQuery(ctx context.Context, server string, timeout time.Duration) (time.Time, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, err
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(resp.ClockOffset), nil
}

// Bootstrap seeds the clock from the build timestamp baked in at link time
// (unix seconds or RFC3339). It lets timestamps be monotonically plausible
// before network time is available and never downgrades a better tier.
// Returns true if the clock is at least Bootstrapped afterward.
func (tc *TrustedClock) Bootstrap(buildDate string) bool {
	if tc.status >= ClockBootstrapped {
		return true
	}
	epoch, ok := parseBuildDate(buildDate)
	if !ok || epoch < PlausibleEpoch {
		return false
	}
	tc.setEpoch(epoch, ClockBootstrapped)
	tc.logger.Infow("clock bootstrapped from build timestamp", "epoch", epoch)
	return true
}

// SyncNetwork polls the configured servers for authoritative time within the
// sync budget. Success supersedes the bootstrap tier.
func (tc *TrustedClock) SyncNetwork(ctx context.Context) error {
	deadline := tc.clock.Now().Add(tc.syncBudget)
	var lastErr error
	for i := 0; tc.clock.Now().Before(deadline); i++ {
		server := tc.servers[i%len(tc.servers)]
		t, err := tc.query(ctx, server, tc.queryTimeout)
		if err == nil {
			epoch := t.Unix()
			if epoch >= PlausibleEpoch {
				tc.setEpoch(epoch, ClockNetworkSynced)
				tc.logger.Infow("clock synced from network", "server", server, "epoch", epoch)
				return nil
			}
			err = errors.Errorf("implausible epoch %d from %s", epoch, server)
		}
		lastErr = err
		if !utils.SelectContextOrWaitClock(ctx, tc.clock, tc.pollInterval) {
			return ctx.Err()
		}
	}
	return errors.Wrap(lastErr, "network time sync failed")
}

// Status returns the current trust tier.
func (tc *TrustedClock) Status() ClockStatus { return tc.status }

// EpochSeconds returns the trusted current epoch, or ErrClockUntrusted
// while no tier has landed.
func (tc *TrustedClock) EpochSeconds() (int64, error) {
	if tc.status == ClockUnsynced {
		return 0, ErrClockUntrusted
	}
	elapsed := tc.clock.Now().Sub(tc.epochAt)
	return tc.epoch + int64(elapsed/time.Second), nil
}

func (tc *TrustedClock) setEpoch(epoch int64, status ClockStatus) {
	tc.epoch = epoch
	tc.epochAt = tc.clock.Now()
	tc.status = status
}

func parseBuildDate(buildDate string) (int64, bool) {
	if buildDate == "" {
		return 0, false
	}
	if epoch, err := strconv.ParseInt(buildDate, 10, 64); err == nil {
		return epoch, true
	}
	if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
		return t.Unix(), true
	}
	return 0, false
}
