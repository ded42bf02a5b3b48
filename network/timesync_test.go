package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/envsensing/envnode/network"
)

func testTrustedClock(t *testing.T, c clock.Clock, query func(ctx context.Context, server string, timeout time.Duration) (time.Time, error)) *network.TrustedClock {
	t.Helper()
	return network.NewTrustedClock(c, golog.NewTestLogger(t), network.TrustedClockOptions{
		NTPServers:   []string{"ntp.test"},
		SyncBudget:   20 * time.Millisecond,
		PollInterval: time.Millisecond,
		Query:        query,
	})
}

func TestBootstrapFromBuildDate(t *testing.T) {
	tc := testTrustedClock(t, clock.New(), nil)
	test.That(t, tc.Status(), test.ShouldEqual, network.ClockUnsynced)

	_, err := tc.EpochSeconds()
	test.That(t, err, test.ShouldEqual, network.ErrClockUntrusted)

	test.That(t, tc.Bootstrap("2026-08-24T10:00:00Z"), test.ShouldBeTrue)
	test.That(t, tc.Status(), test.ShouldEqual, network.ClockBootstrapped)

	epoch, err := tc.EpochSeconds()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, epoch, test.ShouldBeGreaterThanOrEqualTo, network.PlausibleEpoch)
}

func TestBootstrapRejectsImplausibleDates(t *testing.T) {
	tc := testTrustedClock(t, clock.New(), nil)
	test.That(t, tc.Bootstrap(""), test.ShouldBeFalse)
	test.That(t, tc.Bootstrap("not a date"), test.ShouldBeFalse)
	// before the plausibility threshold: clearly a stale or zero build
	// stamp, not a current time.
	test.That(t, tc.Bootstrap("2009-01-01T00:00:00Z"), test.ShouldBeFalse)
	test.That(t, tc.Status(), test.ShouldEqual, network.ClockUnsynced)
}

func TestBootstrapAcceptsUnixSeconds(t *testing.T) {
	tc := testTrustedClock(t, clock.New(), nil)
	test.That(t, tc.Bootstrap("1756000000"), test.ShouldBeTrue)
	epoch, err := tc.EpochSeconds()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, epoch, test.ShouldBeGreaterThanOrEqualTo, int64(1756000000))
}

func TestNetworkSyncSupersedesBootstrap(t *testing.T) {
	serverTime := time.Unix(1756100000, 0)
	tc := testTrustedClock(t, clock.New(), func(ctx context.Context, server string, timeout time.Duration) (time.Time, error) {
		return serverTime, nil
	})

	test.That(t, tc.Bootstrap("1756000000"), test.ShouldBeTrue)
	test.That(t, tc.SyncNetwork(context.Background()), test.ShouldBeNil)
	test.That(t, tc.Status(), test.ShouldEqual, network.ClockNetworkSynced)

	epoch, err := tc.EpochSeconds()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, epoch, test.ShouldBeGreaterThanOrEqualTo, int64(1756100000))
}

func TestSyncNetworkRetriesWithinBudgetThenFails(t *testing.T) {
	queries := 0
	tc := testTrustedClock(t, clock.New(), func(ctx context.Context, server string, timeout time.Duration) (time.Time, error) {
		queries++
		return time.Time{}, errors.New("server unreachable")
	})

	err := tc.SyncNetwork(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, queries, test.ShouldBeGreaterThan, 1)
	test.That(t, tc.Status(), test.ShouldEqual, network.ClockUnsynced)
}

func TestSyncNetworkRejectsImplausibleServerTime(t *testing.T) {
	tc := testTrustedClock(t, clock.New(), func(ctx context.Context, server string, timeout time.Duration) (time.Time, error) {
		return time.Unix(12345, 0), nil
	})

	err := tc.SyncNetwork(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, tc.Status(), test.ShouldEqual, network.ClockUnsynced)
}

func TestEpochAdvancesWithMonotonicClock(t *testing.T) {
	mock := clock.NewMock()
	tc := network.NewTrustedClock(mock, golog.NewTestLogger(t), network.TrustedClockOptions{})
	test.That(t, tc.Bootstrap("1756000000"), test.ShouldBeTrue)

	epoch1, err := tc.EpochSeconds()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, epoch1, test.ShouldEqual, 1756000000)

	mock.Add(42 * time.Second)
	epoch2, err := tc.EpochSeconds()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, epoch2, test.ShouldEqual, 1756000042)
}
