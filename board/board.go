// Package board abstracts the hardware the node touches directly: a shared
// I2C bus for the environmental sensor and an edge-triggered pulse input for
// the radiation detector.
package board

import (
	"context"
)

// I2C represents a shareable I2C bus.
type I2C interface {
	// OpenHandle returns a handle for the device at the given address. It
	// MUST be closed when done; you cannot have 2 open for the same addr.
	OpenHandle(addr byte) (I2CHandle, error)
}

// I2CHandle is similar to an io handle. It MUST be closed to release the bus.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)

	ReadByteData(ctx context.Context, register byte) (byte, error)
	WriteByteData(ctx context.Context, register, data byte) error

	ReadBlockData(ctx context.Context, register byte, numBytes uint8) ([]byte, error)

	// Close closes the handle and releases the lock on the bus.
	Close() error
}

// A DigitalInterrupt accumulates qualifying edges on a digital input. Tick is
// called from the edge-watching context and must stay short; everything else
// belongs to the consumer.
type DigitalInterrupt interface {
	// Tick records one edge.
	Tick()

	// Value returns the number of edges seen since the last reset.
	Value() int64

	// ValueAndReset returns the accumulated count and clears it in one
	// critical section, so no edge is lost between read and reset.
	ValueAndReset() int64
}
