package node_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/envsensing/envnode/network"
	"github.com/envsensing/envnode/node"
	"github.com/envsensing/envnode/sensor"
	"github.com/envsensing/envnode/sensor/sds011"
	"github.com/envsensing/envnode/telemetry"
)

type fakeEnv struct {
	ready  bool
	sample sensor.EnvironmentalSample
	err    error
}

func (f *fakeEnv) Task(ctx context.Context) {}
func (f *fakeEnv) Ready() bool { return f.ready }
func (f *fakeEnv) Read(ctx context.Context) (sensor.EnvironmentalSample, error) {
	return f.sample, f.err
}

type fakePM struct {
	sample sensor.ParticulateSample
	err    error
}

func (f *fakePM) ReadSample(ctx context.Context) (sensor.ParticulateSample, error) {
	return f.sample, f.err
}

type fakeRad struct {
	elapsed bool
	sample  sensor.RadiationSample
}

func (f *fakeRad) WindowElapsed() bool { return f.elapsed }
func (f *fakeRad) CloseWindow() sensor.RadiationSample { return f.sample }

type fakeNet struct{ down bool }

func (f *fakeNet) Connected(ctx context.Context) bool { return !f.down }
func (f *fakeNet) EnsureConnected(ctx context.Context) error { return nil }

type fakeTime struct {
	epoch      int64
	err        error
	bootstraps int
	syncs      int
}

func (f *fakeTime) Bootstrap(buildDate string) bool {
	f.bootstraps++
	return f.err == nil
}
func (f *fakeTime) SyncNetwork(ctx context.Context) error { f.syncs++; return f.err }
func (f *fakeTime) Status() network.ClockStatus {
	if f.err != nil {
		return network.ClockUnsynced
	}
	return network.ClockNetworkSynced
}
func (f *fakeTime) EpochSeconds() (int64, error) { return f.epoch, f.err }

type fakeSender struct {
	preflightErr error
	sendErr      error
	sent         []telemetry.Payload
}

func (f *fakeSender) Preflight(ctx context.Context) error { return f.preflightErr }
func (f *fakeSender) Send(ctx context.Context, p telemetry.Payload) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

type fixture struct {
	env    *fakeEnv
	pm     *fakePM
	rad    *fakeRad
	net    *fakeNet
	time   *fakeTime
	sender *fakeSender
	node   *node.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		env: &fakeEnv{ready: true, sample: sensor.EnvironmentalSample{
			TemperatureC:     21.5,
			HumidityPct:      40.0,
			PressureHPa:      1013.2,
			GasResistanceOhm: 1e5,
		}},
		pm:     &fakePM{sample: sensor.ParticulateSample{PM25: 12.3, PM10: 20.0}},
		rad:    &fakeRad{elapsed: true, sample: sensor.RadiationSample{CPM: 18.0, MicroSvPerH: 0.117}},
		net:    &fakeNet{},
		time:   &fakeTime{epoch: 1756000000},
		sender: &fakeSender{},
	}
	f.node = node.New(f.env, f.pm, f.rad, f.net, f.time, f.sender, clock.New(), golog.NewTestLogger(t), node.Options{
		DeviceID: "node-01",
		Interval: time.Millisecond,
	})
	return f
}

func TestCycleAssemblesLatestSamples(t *testing.T) {
	f := newFixture(t)
	f.node.Cycle(context.Background())

	test.That(t, len(f.sender.sent), test.ShouldEqual, 1)
	p := f.sender.sent[0]
	test.That(t, p.DeviceID, test.ShouldEqual, "node-01")
	test.That(t, p.Timestamp, test.ShouldEqual, int64(1756000000))
	test.That(t, p.Data.PM25, test.ShouldEqual, 12.3)
	test.That(t, p.Data.AirTempC, test.ShouldEqual, 21.5)
	test.That(t, p.Data.Humidity, test.ShouldEqual, 40.0)
	test.That(t, p.Data.PressureHPa, test.ShouldEqual, 1013.2)
	test.That(t, p.Data.RadiationCPM, test.ShouldEqual, 18.0)
	// 50 + 80*log10(1e5) = 450.
	test.That(t, p.Data.VOC, test.ShouldAlmostEqual, 450.0, 1e-9)
}

func TestCycleReusesLastKnownGoodParticulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.node.Cycle(ctx)
	test.That(t, f.sender.sent[0].Data.PM25, test.ShouldEqual, 12.3)

	// decoder saw nothing valid this cycle.
	f.pm.err = errors.New("no valid frame")
	f.node.Cycle(ctx)
	test.That(t, len(f.sender.sent), test.ShouldEqual, 2)
	test.That(t, f.sender.sent[1].Data.PM25, test.ShouldEqual, 12.3)
}

func TestCycleUsesSeededDefaultsBeforeFirstReadings(t *testing.T) {
	f := newFixture(t)
	f.env.ready = false
	f.pm.err = errors.New("warming up")
	f.rad.elapsed = false

	f.node.Cycle(context.Background())
	test.That(t, len(f.sender.sent), test.ShouldEqual, 1)
	p := f.sender.sent[0]
	test.That(t, p.Data.PM25, test.ShouldEqual, 12.0)
	test.That(t, p.Data.AirTempC, test.ShouldEqual, 24.0)
	test.That(t, p.Data.Humidity, test.ShouldEqual, 55.0)
	test.That(t, p.Data.PressureHPa, test.ShouldEqual, 1010.0)
	test.That(t, p.Data.RadiationCPM, test.ShouldEqual, 0.0)
}

func TestEnvReadFailureDoesNotRegressValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.node.Cycle(ctx)
	f.env.err = errors.New("measurement in progress")
	f.node.Cycle(ctx)

	test.That(t, f.sender.sent[1].Data.AirTempC, test.ShouldEqual, 21.5)
}

func TestRadiationWindowOnlyClosesWhenElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.node.Cycle(ctx)
	test.That(t, f.sender.sent[0].Data.RadiationCPM, test.ShouldEqual, 18.0)

	// the next window has not elapsed: the prior rate is carried.
	f.rad.elapsed = false
	f.rad.sample = sensor.RadiationSample{CPM: 999.0}
	f.node.Cycle(ctx)
	test.That(t, f.sender.sent[1].Data.RadiationCPM, test.ShouldEqual, 18.0)
}

func TestNoTransmissionWhileClockUntrusted(t *testing.T) {
	f := newFixture(t)
	f.time.err = network.ErrClockUntrusted

	f.node.Cycle(context.Background())
	test.That(t, len(f.sender.sent), test.ShouldEqual, 0)
	// the cycle tried to regain trust.
	test.That(t, f.time.bootstraps, test.ShouldEqual, 1)
	test.That(t, f.time.syncs, test.ShouldEqual, 1)

	// trust regained: transmission resumes.
	f.time.err = nil
	f.node.Cycle(context.Background())
	test.That(t, len(f.sender.sent), test.ShouldEqual, 1)
}

func TestPreflightFailureSkipsSend(t *testing.T) {
	f := newFixture(t)
	f.sender.preflightErr = errors.New("collector unreachable")

	f.node.Cycle(context.Background())
	test.That(t, len(f.sender.sent), test.ShouldEqual, 0)
}

// frameBytes builds a well-formed particulate frame for the given tenths.
func frameBytes(pm25, pm10 uint16) []byte {
	buf := []byte{
		0xAA, 0xC0,
		byte(pm25), byte(pm25 >> 8),
		byte(pm10), byte(pm10 >> 8),
		0x12, 0x34,
		0, 0xAB,
	}
	var sum byte
	for _, b := range buf[2:8] {
		sum += b
	}
	buf[8] = sum
	return buf
}

func TestCycleWithRealParticulateDecoder(t *testing.T) {
	f := newFixture(t)

	// one good frame, then a truncated one the decoder must reject.
	stream := append(frameBytes(123, 200), 0xAA, 0xC0, 0xFF)
	dec := sds011.NewDecoder(bytes.NewReader(stream), clock.New(), golog.NewTestLogger(t), sds011.Options{
		ReadWindow: 30 * time.Millisecond,
	})
	n := node.New(f.env, dec, f.rad, f.net, f.time, f.sender, clock.New(), golog.NewTestLogger(t), node.Options{
		DeviceID: "node-01",
	})
	ctx := context.Background()

	n.Cycle(ctx)
	test.That(t, len(f.sender.sent), test.ShouldEqual, 1)
	test.That(t, f.sender.sent[0].Data.PM25, test.ShouldEqual, 12.3)

	// nothing decodable remains; the prior value is carried forward.
	n.Cycle(ctx)
	test.That(t, len(f.sender.sent), test.ShouldEqual, 2)
	test.That(t, f.sender.sent[1].Data.PM25, test.ShouldEqual, 12.3)
}

func TestRunCyclesUntilContextDone(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.node.Run(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, f.node.Cycles(), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, len(f.sender.sent), test.ShouldBeGreaterThanOrEqualTo, 1)
}
