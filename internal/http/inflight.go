package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served. Graceful shutdown
// waits on it so the listener can stop accepting while started work drains.
type InFlightTracker struct {
	count atomic.Int64
}

// NewInFlightTracker creates a tracker. One per server; the middleware wires
// it to every request.
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{}
}

func (t *InFlightTracker) add()  { t.count.Add(1) }
func (t *InFlightTracker) done() { t.count.Add(-1) }

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 {
	return t.count.Load()
}

// WaitForZero blocks until the in-flight count reaches zero or ctx is
// cancelled. checkInterval is how often the count is re-read.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
