// Package sds011 decodes the fixed-length binary frames an SDS011
// particulate sensor emits over its serial link.
//
// Frame layout (10 bytes):
//
//	AA C0 pm25lo pm25hi pm10lo pm10hi id1 id2 checksum AB
//
// where checksum is the low byte of the sum of the six payload bytes and
// both PM values are tenths of µg/m³, little-endian.
package sds011

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/envsensing/envnode/sensor"
)

const (
	// FrameLen is the on-wire size of one frame.
	FrameLen = 10

	header1 = 0xAA
	header2 = 0xC0
	tail    = 0xAB

	// DefaultReadWindow bounds one decode attempt so a stalled or absent
	// sensor cannot stall the control loop.
	DefaultReadWindow = 3 * time.Second

	// DefaultWarmup covers fan and laser stabilization after power-up.
	DefaultWarmup = 15 * time.Second

	// DefaultHintGrace is how long after warmup (or the last good frame)
	// we stay quiet before hinting that the sensor may be miswired.
	DefaultHintGrace = 30 * time.Second

	// quietPoll is how long to wait before re-reading a line that timed
	// out mid-window.
	quietPoll = 20 * time.Millisecond
)

// ErrNoFrame is returned when no valid frame was decoded within the read
// window. The caller is expected to keep its last-known-good sample.
var ErrNoFrame = errors.New("no valid sds011 frame within read window")

// Options adjusts decoder timing; zero values select defaults.
type Options struct {
	ReadWindow time.Duration
	Warmup     time.Duration
	HintGrace  time.Duration
}

// Decoder scans a byte stream for valid frames. It is owned by the control
// loop and is not safe for concurrent use.
type Decoder struct {
	br         *bufio.Reader
	clock      clock.Clock
	logger     golog.Logger
	readWindow time.Duration
	warmup     *sensor.Warmup
	hintGrace  time.Duration

	hintAt     time.Time
	hintShown  bool
	missLogged bool
}

// NewDecoder returns a decoder over the given byte stream. The reader must
// return (or error) on its own timeout rather than block forever; Open sets
// that up for real serial ports.
func NewDecoder(r io.Reader, c clock.Clock, logger golog.Logger, opts Options) *Decoder {
	if opts.ReadWindow == 0 {
		opts.ReadWindow = DefaultReadWindow
	}
	if opts.Warmup == 0 {
		opts.Warmup = DefaultWarmup
	}
	if opts.HintGrace == 0 {
		opts.HintGrace = DefaultHintGrace
	}
	return &Decoder{
		br:         bufio.NewReaderSize(r, 4*FrameLen),
		clock:      c,
		logger:     logger,
		readWindow: opts.ReadWindow,
		warmup:     sensor.NewWarmup(c, opts.Warmup),
		hintGrace:  opts.HintGrace,
		hintAt:     c.Now().Add(opts.Warmup + opts.HintGrace),
	}
}

// Open opens the serial port the sensor's native protocol expects:
// 9600 8N1, with an inter-character timeout so reads return instead of
// blocking when the line goes quiet.
func Open(path string) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:              path,
		BaudRate:              9600,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 100,
	}
	dev, err := serial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open sds011 serial port %q", path)
	}
	return dev, nil
}

// ReadSample scans for one valid frame within the read window. Garbage and
// malformed frames are skipped byte-wise; alignment is never assumed to
// persist across failures. On failure the caller keeps its last-known-good
// values and ErrNoFrame is returned.
func (d *Decoder) ReadSample(ctx context.Context) (sensor.ParticulateSample, error) {
	deadline := d.clock.Now().Add(d.readWindow)
	for d.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return sensor.ParticulateSample{}, ctx.Err()
		}

		b, err := d.br.ReadByte()
		if err != nil {
			// the line went quiet; poll again until the window closes.
			if !goutils.SelectContextOrWait(ctx, quietPoll) {
				break
			}
			continue
		}
		if b != header1 {
			continue
		}

		rest := make([]byte, FrameLen-1)
		if _, err := io.ReadFull(d.br, rest); err != nil {
			continue
		}
		if rest[0] != header2 || rest[8] != tail {
			continue
		}
		var sum byte
		for _, p := range rest[1:7] {
			sum += p
		}
		if sum != rest[7] {
			continue
		}

		s := sensor.ParticulateSample{
			PM25: float64(binary.LittleEndian.Uint16(rest[1:3])) / 10.0,
			PM10: float64(binary.LittleEndian.Uint16(rest[3:5])) / 10.0,
		}
		d.hintAt = d.clock.Now().Add(d.hintGrace)
		d.hintShown = false
		d.missLogged = false
		return s, nil
	}

	d.reportMiss()
	return sensor.ParticulateSample{}, ErrNoFrame
}

// reportMiss keeps failure logging edge-triggered: warming up is expected,
// the wiring hint fires once per outage, and the reuse notice fires once
// until a good frame returns.
func (d *Decoder) reportMiss() {
	if !d.warmup.Ready() {
		d.logger.Debug("sds011 warming up")
		return
	}
	if !d.hintShown && d.clock.Now().After(d.hintAt) {
		d.logger.Warn("no valid sds011 frames: check 5V power/fan, RX/TX swap, shared GND, or baud")
		d.hintShown = true
		return
	}
	if !d.missLogged {
		d.logger.Info("sds011 read failed; reusing last-known-good values")
		d.missLogged = true
	}
}

// DumpRaw logs raw bytes from the stream as hex for the given duration.
// Diagnostic only; useful right after warmup when frames never appear.
func (d *Decoder) DumpRaw(ctx context.Context, dur time.Duration) {
	deadline := d.clock.Now().Add(dur)
	buf := make([]byte, FrameLen)
	for d.clock.Now().Before(deadline) && ctx.Err() == nil {
		n, err := d.br.Read(buf)
		if n > 0 {
			d.logger.Debugf("sds011 raw: %s", hex.EncodeToString(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}
