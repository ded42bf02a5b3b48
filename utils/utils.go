// Package utils contains small helpers shared across the node's packages.
package utils

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// SelectContextOrWaitClock waits for the given duration on the given clock,
// returning false if the context finishes first. Like goutils'
// SelectContextOrWait, but on an injectable clock so retry timing is
// testable without real delays.
func SelectContextOrWaitClock(ctx context.Context, c clock.Clock, dur time.Duration) bool {
	timer := c.Timer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
