package board

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInitOnce sync.Once

// NewPeriphI2C opens the named host I2C bus ("1", "/dev/i2c-1", or "" for
// the first available) through periph.io.
func NewPeriphI2C(name string) (I2C, error) {
	var initErr error
	hostInitOnce.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "periph host init")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open i2c bus %q", name)
	}
	return &periphI2C{bus: bus}, nil
}

type periphI2C struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

func (b *periphI2C) OpenHandle(addr byte) (I2CHandle, error) {
	b.mu.Lock()
	return &periphI2CHandle{parent: b, dev: &i2c.Dev{Bus: b.bus, Addr: uint16(addr)}}, nil
}

// Close closes the underlying bus.
func (b *periphI2C) Close() error {
	return b.bus.Close()
}

// periphI2CHandle wraps an i2c.Dev so it conforms to the I2CHandle
// interface; we cannot define new methods on the non-local type.
type periphI2CHandle struct {
	parent *periphI2C
	dev    *i2c.Dev
}

func (h *periphI2CHandle) Write(ctx context.Context, tx []byte) error {
	return h.dev.Tx(tx, nil)
}

func (h *periphI2CHandle) Read(ctx context.Context, count int) ([]byte, error) {
	buffer := make([]byte, count)
	if err := h.dev.Tx(nil, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (h *periphI2CHandle) ReadByteData(ctx context.Context, register byte) (byte, error) {
	buffer := make([]byte, 1)
	if err := h.dev.Tx([]byte{register}, buffer); err != nil {
		return 0, err
	}
	return buffer[0], nil
}

func (h *periphI2CHandle) WriteByteData(ctx context.Context, register, data byte) error {
	return h.dev.Tx([]byte{register, data}, nil)
}

func (h *periphI2CHandle) ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error) {
	buffer := make([]byte, numBytes)
	if err := h.dev.Tx([]byte{register}, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

func (h *periphI2CHandle) Close() error {
	h.parent.mu.Unlock()
	return nil
}
