package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/catalog"
	"github.com/resmoray/nomad-weather-map/internal/manual"
	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/snapshot"
	"github.com/resmoray/nomad-weather-map/internal/summarycache"
)

func f(v float64) *float64 { return &v }

type fakeBuilder struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	sum   models.MonthlySummary
	err   error
}

func (b *fakeBuilder) Build(ctx context.Context, _ models.Region, _ int, _ []int, _ bool) (models.MonthlySummary, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return models.MonthlySummary{}, ctx.Err()
		}
	}
	return b.sum, b.err
}

func (b *fakeBuilder) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func builtSummary() models.MonthlySummary {
	now := time.Now().UTC().Format(time.RFC3339)
	return models.MonthlySummary{
		TemperatureC:          f(26.0),
		WaveHeightM:           f(1.4),
		ClimateLastUpdated:    now,
		AirQualityLastUpdated: now,
		MarineLastUpdated:     now,
	}
}

func newTestResolver(t *testing.T, b SummaryBuilder) *Resolver {
	t.Helper()
	cat, err := catalog.New([]models.Region{
		{ID: "pt-ericeira", Name: "Ericeira", Latitude: 38.96, Longitude: -9.42, Coastal: true},
		{ID: "es-madrid", Name: "Madrid", Latitude: 40.42, Longitude: -3.7},
	})
	if err != nil {
		t.Fatal(err)
	}
	ages := snapshot.MaxAges{Climate: 365 * 24 * time.Hour, Air: 90 * 24 * time.Hour, Marine: 365 * 24 * time.Hour}
	return New(
		cat,
		b,
		summarycache.NewStore(t.TempDir(), nil, zap.NewNop()),
		snapshot.NewStore(t.TempDir(), ages, zap.NewNop()),
		manual.NewLoader("", zap.NewNop()),
		3,
		zap.NewNop(),
	)
}

func withManual(t *testing.T, r *Resolver, regionID string, month int, temp float64) {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`{"regionId": %q, "months": {"%d": {"temperature_c": %g}}}`, regionID, month, temp)
	if err := os.WriteFile(filepath.Join(dir, regionID+".json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r.manual = manual.NewLoader(dir, zap.NewNop())
}

func TestResolveRefreshesAndThenServesSnapshot(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary()}
	r := newTestResolver(t, b)

	in := NewInput("pt-ericeira", 6)
	in.IncludeMarine = true
	res, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Source != SourceRefreshed {
		t.Errorf("source = %s, want refreshed", res.Source)
	}
	if res.Summary.WaveHeightM == nil {
		t.Error("marine requested on a coastal region should keep wave fields")
	}
	if b.callCount() != 1 {
		t.Fatalf("builder calls = %d, want 1", b.callCount())
	}

	// immediately after the refresh the snapshot is fresh
	in.Mode = ModeVerifiedOnly
	res, err = r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("Resolve(verified_only) error = %v", err)
	}
	if res.Source != SourceSnapshotFresh {
		t.Errorf("source = %s, want snapshot_fresh", res.Source)
	}
	if *res.Summary.TemperatureC != 26.0 {
		t.Errorf("temperatureC = %v, want the refreshed value", *res.Summary.TemperatureC)
	}
	if b.callCount() != 1 {
		t.Errorf("builder calls = %d, verified_only must not build", b.callCount())
	}
}

func TestResolveVerifiedOnlyFailsWithoutData(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary()}
	r := newTestResolver(t, b)

	in := NewInput("pt-ericeira", 6)
	in.Mode = ModeVerifiedOnly
	_, err := r.Resolve(context.Background(), in)
	if !errors.Is(err, ErrVerifiedUnavailable) {
		t.Errorf("error = %v, want ErrVerifiedUnavailable", err)
	}
	if b.callCount() != 0 {
		t.Errorf("builder calls = %d, want 0", b.callCount())
	}
}

func TestResolveManualServedWhenNoSnapshot(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary()}
	r := newTestResolver(t, b)
	withManual(t, r, "es-madrid", 3, 18.5)

	res, err := r.Resolve(context.Background(), NewInput("es-madrid", 3))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Source != SourceSnapshotFresh {
		t.Errorf("source = %s, want snapshot_fresh for a manual hit", res.Source)
	}
	if *res.Summary.TemperatureC != 18.5 {
		t.Errorf("temperatureC = %v, want the manual value", *res.Summary.TemperatureC)
	}
	if b.callCount() != 0 {
		t.Errorf("builder calls = %d, manual should pre-empt the refresh", b.callCount())
	}
}

func TestResolveForceRefreshIgnoresFreshSnapshot(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary()}
	r := newTestResolver(t, b)

	if _, err := r.Resolve(context.Background(), NewInput("pt-ericeira", 6)); err != nil {
		t.Fatal(err)
	}
	in := NewInput("pt-ericeira", 6)
	in.Mode = ModeForceRefresh
	res, err := r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatalf("Resolve(force_refresh) error = %v", err)
	}
	if res.Source != SourceRefreshed {
		t.Errorf("source = %s, want refreshed", res.Source)
	}
	if b.callCount() != 2 {
		t.Errorf("builder calls = %d, want 2", b.callCount())
	}
}

func TestResolveFallsBackToStaleSnapshotOnRefreshFailure(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary()}
	r := newTestResolver(t, b)

	// seed a snapshot, then make it stale by shifting the clock far forward
	if _, err := r.Resolve(context.Background(), NewInput("pt-ericeira", 6)); err != nil {
		t.Fatal(err)
	}
	r.now = func() time.Time { return time.Now().Add(400 * 24 * time.Hour) }
	b.err = errors.New("upstream down")

	res, err := r.Resolve(context.Background(), NewInput("pt-ericeira", 6))
	if err != nil {
		t.Fatalf("Resolve() error = %v, want stale fallback", err)
	}
	if res.Source != SourceSnapshotStale {
		t.Errorf("source = %s, want snapshot_stale", res.Source)
	}
	if res.StaleReason == "" {
		t.Error("stale fallback should carry a reason")
	}

	// without the stale allowance the failure surfaces
	in := NewInput("pt-ericeira", 6)
	in.AllowStaleSnapshot = false
	if _, err := r.Resolve(context.Background(), in); err == nil {
		t.Error("Resolve() without stale allowance should fail")
	}
}

func TestResolveMarineSuppression(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary()}
	r := newTestResolver(t, b)

	// coastal region, marine not requested
	res, err := r.Resolve(context.Background(), NewInput("pt-ericeira", 6))
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.WaveHeightM != nil {
		t.Error("wave fields should be nulled when marine was not requested")
	}

	// inland region, marine requested anyway
	in := NewInput("es-madrid", 6)
	in.IncludeMarine = true
	res, err = r.Resolve(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.WaveHeightM != nil {
		t.Error("wave fields should be nulled for inland regions")
	}
}

func TestResolveValidation(t *testing.T) {
	r := newTestResolver(t, &fakeBuilder{sum: builtSummary()})

	tests := []struct {
		name string
		in   Input
	}{
		{"month too low", Input{RegionID: "pt-ericeira", Month: 0, Mode: ModeRefreshIfStale}},
		{"month too high", Input{RegionID: "pt-ericeira", Month: 13, Mode: ModeRefreshIfStale}},
		{"empty region", Input{RegionID: "  ", Month: 6, Mode: ModeRefreshIfStale}},
		{"unknown region", Input{RegionID: "atlantis", Month: 6, Mode: ModeRefreshIfStale}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), tt.in); err == nil {
				t.Error("Resolve() should fail")
			}
		})
	}
}

func TestResolveCoalescesConcurrentBuilds(t *testing.T) {
	b := &fakeBuilder{sum: builtSummary(), delay: 50 * time.Millisecond}
	r := newTestResolver(t, b)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := NewInput("pt-ericeira", 6)
			in.Mode = ModeForceRefresh
			_, err := r.Resolve(context.Background(), in)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Resolve() error = %v", err)
		}
	}
	if got := b.callCount(); got != 1 {
		t.Errorf("builder calls = %d, want 1 shared build", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeRefreshIfStale, false},
		{"verified_only", ModeVerifiedOnly, false},
		{"refresh_if_stale", ModeRefreshIfStale, false},
		{"force_refresh", ModeForceRefresh, false},
		{"FORCE_REFRESH", "", true},
		{"refresh", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
