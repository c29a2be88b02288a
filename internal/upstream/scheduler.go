package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/resmoray/nomad-weather-map/internal/observability"
)

// Scheduler serializes all outbound upstream requests through a single slot,
// spacing consecutive executions by a minimum interval and honoring a
// process-wide cooldown deadline raised after rate-limit signals. Open-Meteo
// throttles by IP, so one paced queue is safer than per-family token buckets
// at this request rate.
type Scheduler struct {
	slot    chan struct{}
	spacing time.Duration

	mu            sync.Mutex
	lastDone      time.Time
	cooldownUntil time.Time
}

// NewScheduler creates a Scheduler with the given minimum request spacing.
func NewScheduler(spacing time.Duration) *Scheduler {
	return &Scheduler{
		slot:    make(chan struct{}, 1),
		spacing: spacing,
	}
}

// Run executes fn after acquiring the single outbound slot and waiting out
// both the request spacing and any remaining cooldown. The wait is
// re-evaluated after each sleep because the cooldown can be extended while
// waiting.
func (s *Scheduler) Run(ctx context.Context, fn func() error) error {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		s.mu.Lock()
		s.lastDone = time.Now()
		s.mu.Unlock()
		<-s.slot
	}()

	for {
		wait := s.waitTime()
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return fn()
}

// waitTime returns how long the slot holder must wait before executing.
func (s *Scheduler) waitTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var wait time.Duration
	if !s.lastDone.IsZero() {
		if d := s.lastDone.Add(s.spacing).Sub(now); d > wait {
			wait = d
		}
	}
	if d := s.cooldownUntil.Sub(now); d > wait {
		wait = d
	}
	return wait
}

// ExtendCooldown raises the shared cooldown deadline to at least now+d.
// The deadline only moves forward, so concurrent extends are safe.
func (s *Scheduler) ExtendCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	s.mu.Lock()
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
	s.mu.Unlock()
	observability.UpstreamCooldownExtendedTotal.Inc()
}

// CooldownRemaining returns the time left until outbound requests may
// proceed, or zero when no cooldown is active.
func (s *Scheduler) CooldownRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := time.Until(s.cooldownUntil); d > 0 {
		return d
	}
	return 0
}
