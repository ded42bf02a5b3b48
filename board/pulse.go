package board

import (
	"context"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// edgeWait bounds each WaitForEdge call so the watcher can notice
// cancellation on a quiet input.
const edgeWait = time.Second

// A PulseWatcher ticks a DigitalInterrupt on every rising edge of a GPIO
// pin. Debouncing is left to the detector hardware.
type PulseWatcher struct {
	pin                     gpio.PinIO
	logger                  golog.Logger
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// StartPulseWatcher configures the named pin for rising-edge detection and
// starts feeding the given interrupt.
func StartPulseWatcher(ctx context.Context, pinName string, di DigitalInterrupt, logger golog.Logger) (*PulseWatcher, error) {
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, errors.Errorf("no gpio pin named %q", pinName)
	}
	if err := pin.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		return nil, errors.Wrapf(err, "cannot watch edges on %q", pinName)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	w := &PulseWatcher{pin: pin, logger: logger, cancel: cancel}
	w.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		for {
			select {
			case <-cancelCtx.Done():
				return
			default:
			}
			if w.pin.WaitForEdge(edgeWait) {
				di.Tick()
			}
		}
	}, w.activeBackgroundWorkers.Done)
	return w, nil
}

// Close stops the edge watcher.
func (w *PulseWatcher) Close() error {
	w.cancel()
	w.activeBackgroundWorkers.Wait()
	return nil
}

// ScanI2C probes the usable 7-bit address range and returns the addresses
// that acknowledged. Purely diagnostic; mirrors what a bus scan tool does.
func ScanI2C(ctx context.Context, bus I2C, logger golog.Logger) []byte {
	var found []byte
	for addr := byte(0x03); addr <= 0x77; addr++ {
		handle, err := bus.OpenHandle(addr)
		if err != nil {
			continue
		}
		_, err = handle.Read(ctx, 1)
		goutils.UncheckedErrorFunc(handle.Close)
		if err == nil {
			logger.Infof("i2c device found at 0x%02X", addr)
			found = append(found, addr)
		}
	}
	if len(found) == 0 {
		logger.Info("no i2c devices found")
	}
	return found
}
