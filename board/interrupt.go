package board

import (
	"sync"
)

// BasicDigitalInterrupt counts rising edges. The mutex is the only lock in
// the system shared between the edge-watching goroutine and the control
// loop; both sides hold it for a single increment or a single read+clear.
type BasicDigitalInterrupt struct {
	mu    sync.Mutex
	count int64
}

// NewBasicDigitalInterrupt returns an interrupt with a zero count.
func NewBasicDigitalInterrupt() *BasicDigitalInterrupt {
	return &BasicDigitalInterrupt{}
}

// Tick records one edge.
func (i *BasicDigitalInterrupt) Tick() {
	i.mu.Lock()
	i.count++
	i.mu.Unlock()
}

// Value returns the count accumulated since the last reset.
func (i *BasicDigitalInterrupt) Value() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count
}

// ValueAndReset returns the accumulated count and zeroes it atomically.
func (i *BasicDigitalInterrupt) ValueAndReset() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	count := i.count
	i.count = 0
	return count
}
