package board

import (
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestBasicDigitalInterrupt(t *testing.T) {
	i := NewBasicDigitalInterrupt()
	test.That(t, i.Value(), test.ShouldEqual, 0)

	i.Tick()
	i.Tick()
	test.That(t, i.Value(), test.ShouldEqual, 2)

	test.That(t, i.ValueAndReset(), test.ShouldEqual, 2)
	test.That(t, i.Value(), test.ShouldEqual, 0)
}

func TestInterruptCountLinearizable(t *testing.T) {
	i := NewBasicDigitalInterrupt()

	const workers = 8
	const ticksPerWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < ticksPerWorker; n++ {
				i.Tick()
			}
		}()
	}
	wg.Wait()

	// every edge that arrived before the window close is observed exactly
	// once, and the reset leaves nothing behind.
	test.That(t, i.ValueAndReset(), test.ShouldEqual, workers*ticksPerWorker)
	test.That(t, i.ValueAndReset(), test.ShouldEqual, 0)
}
