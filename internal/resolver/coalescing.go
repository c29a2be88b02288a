package resolver

import (
	"context"
	"sync"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/observability"
)

type buildFunc func(ctx context.Context) (models.MonthlySummary, error)

type inFlightBuild struct {
	done    chan struct{}
	summary models.MonthlySummary
	err     error
}

// coalescer deduplicates concurrent identical summary builds. Callers with
// the same key share one underlying build and all observe its outcome, which
// bounds outbound amplification when many clients ask for the same
// region-month at once.
type coalescer struct {
	mu     sync.Mutex
	builds map[string]*inFlightBuild
}

func newCoalescer() *coalescer {
	return &coalescer{builds: make(map[string]*inFlightBuild)}
}

// do runs fn once per key. The build is detached from the initiating caller's
// cancellation so that a canceled client does not fail the waiters sharing
// the build.
func (c *coalescer) do(ctx context.Context, key string, fn buildFunc) (models.MonthlySummary, error) {
	c.mu.Lock()
	if f, ok := c.builds[key]; ok {
		c.mu.Unlock()
		observability.CoalescedBuildsTotal.Inc()
		return f.wait(ctx)
	}
	f := &inFlightBuild{done: make(chan struct{})}
	c.builds[key] = f
	c.mu.Unlock()

	go func() {
		f.summary, f.err = fn(context.WithoutCancel(ctx))
		c.mu.Lock()
		delete(c.builds, key)
		c.mu.Unlock()
		close(f.done)
	}()

	return f.wait(ctx)
}

func (f *inFlightBuild) wait(ctx context.Context) (models.MonthlySummary, error) {
	select {
	case <-f.done:
		return f.summary, f.err
	case <-ctx.Done():
		return models.MonthlySummary{}, ctx.Err()
	}
}
