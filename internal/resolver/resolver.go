// Package resolver is the public contract of the weather summary engine: it
// combines snapshot freshness, manual overrides, and the requested mode to
// decide what to return and what to refresh.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/catalog"
	"github.com/resmoray/nomad-weather-map/internal/manual"
	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/observability"
	"github.com/resmoray/nomad-weather-map/internal/snapshot"
	"github.com/resmoray/nomad-weather-map/internal/summary"
	"github.com/resmoray/nomad-weather-map/internal/summarycache"
	"github.com/resmoray/nomad-weather-map/internal/validation"
)

// Mode selects how eagerly a resolve call may hit the upstream APIs.
type Mode string

const (
	// ModeVerifiedOnly never triggers a refresh; it serves what is stored.
	ModeVerifiedOnly Mode = "verified_only"
	// ModeRefreshIfStale refreshes only when nothing fresh is stored.
	ModeRefreshIfStale Mode = "refresh_if_stale"
	// ModeForceRefresh always rebuilds from upstream.
	ModeForceRefresh Mode = "force_refresh"
)

// ErrInvalidMode is returned for unrecognized mode strings.
var ErrInvalidMode = errors.New("mode must be one of verified_only, refresh_if_stale, force_refresh")

// ParseMode parses a mode string. Empty defaults to refresh_if_stale.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeRefreshIfStale, nil
	case ModeVerifiedOnly, ModeRefreshIfStale, ModeForceRefresh:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Source labels where the returned summary came from.
type Source string

const (
	SourceRefreshed     Source = "refreshed"
	SourceSnapshotFresh Source = "snapshot_fresh"
	SourceSnapshotStale Source = "snapshot_stale"
)

// ErrUnknownRegion is returned when the region is not in the catalog.
var ErrUnknownRegion = errors.New("unknown region")

// ErrVerifiedUnavailable is returned in verified_only mode when nothing
// stored can be served.
var ErrVerifiedUnavailable = errors.New("no verified summary available; run a refresh")

// Input is one resolve request.
type Input struct {
	RegionID      string
	Month         int
	IncludeMarine bool
	Mode          Mode
	// AllowStaleSnapshot permits serving stale stored data when nothing fresh
	// exists and refreshing failed or was not requested.
	AllowStaleSnapshot bool
}

// NewInput builds an Input with the defaults of the contract: mode
// refresh_if_stale, stale fallback allowed.
func NewInput(regionID string, month int) Input {
	return Input{
		RegionID:           regionID,
		Month:              month,
		Mode:               ModeRefreshIfStale,
		AllowStaleSnapshot: true,
	}
}

// Result is a resolved summary plus its provenance.
type Result struct {
	Summary models.MonthlySummary
	Source  Source
	// StaleReason is set when Source is snapshot_stale.
	StaleReason string
}

// SummaryBuilder produces a fresh monthly summary from upstream.
type SummaryBuilder interface {
	Build(ctx context.Context, region models.Region, month int, years []int, includeMarine bool) (models.MonthlySummary, error)
}

// Resolver wires the stores and the builder behind the resolve contract.
type Resolver struct {
	catalog   *catalog.Catalog
	builder   SummaryBuilder
	cache     *summarycache.Store
	snapshots *snapshot.Store
	manual    *manual.Loader
	window    int
	logger    *zap.Logger

	flights *coalescer
	now     func() time.Time
}

// New creates a Resolver. window is the baseline-year window size.
func New(cat *catalog.Catalog, builder SummaryBuilder, cache *summarycache.Store, snapshots *snapshot.Store, overrides *manual.Loader, window int, logger *zap.Logger) *Resolver {
	return &Resolver{
		catalog:   cat,
		builder:   builder,
		cache:     cache,
		snapshots: snapshots,
		manual:    overrides,
		window:    window,
		logger:    logger,
		flights:   newCoalescer(),
		now:       time.Now,
	}
}

// RegionIDs returns the sorted region identifiers the resolver can serve.
func (r *Resolver) RegionIDs() []string {
	return r.catalog.IDs()
}

// BaselineYears returns the currently effective baseline window.
func (r *Resolver) BaselineYears() []int {
	return summary.BaselineYears(r.now(), r.window)
}

// Resolve answers one (region, month) request according to the mode.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Result, error) {
	regionID, err := validation.ValidateRegionID(in.RegionID)
	if err != nil {
		return r.fail("invalid_input", err)
	}
	if err := validation.ValidateMonth(in.Month); err != nil {
		return r.fail("invalid_input", err)
	}
	if in.Mode == "" {
		in.Mode = ModeRefreshIfStale
	}
	region, ok := r.catalog.Get(regionID)
	if !ok {
		return r.fail("unknown_region", fmt.Errorf("%w: %s", ErrUnknownRegion, regionID))
	}

	wantMarine := in.IncludeMarine && region.Coastal
	years := r.BaselineYears()

	entry, hasSnapshot := r.snapshots.Month(region.ID, in.Month)
	staleReason := ""
	if hasSnapshot {
		staleReason = r.snapshots.StaleReason(entry, years, wantMarine, r.now())
	}
	fresh := hasSnapshot && staleReason == ""
	manualSum, hasManual := r.manual.Get(region.ID, in.Month)

	// Decision table, first match wins.
	if in.Mode != ModeForceRefresh && fresh {
		return r.finish(entry.Summary, SourceSnapshotFresh, "", wantMarine)
	}
	if in.Mode != ModeForceRefresh && hasManual {
		return r.finish(manualSum, SourceSnapshotFresh, "", wantMarine)
	}
	if in.Mode == ModeVerifiedOnly {
		if hasSnapshot && in.AllowStaleSnapshot {
			return r.finish(entry.Summary, SourceSnapshotStale, staleReason, wantMarine)
		}
		return r.fail("verified_unavailable", fmt.Errorf("%s month %d: %w", region.ID, in.Month, ErrVerifiedUnavailable))
	}

	built, err := r.refresh(ctx, region, in.Month, years, wantMarine, in.Mode, staleReason)
	if err == nil {
		return r.finish(built, SourceRefreshed, "", wantMarine)
	}
	r.logger.Warn("refresh failed",
		zap.String("region", region.ID),
		zap.Int("month", in.Month),
		zap.Error(err))
	if in.AllowStaleSnapshot {
		if hasSnapshot {
			return r.finish(entry.Summary, SourceSnapshotStale, staleReason, wantMarine)
		}
		if hasManual {
			return r.finish(manualSum, SourceSnapshotFresh, "", wantMarine)
		}
	}
	return r.fail("refresh_failed", err)
}

// GetSummary is a thin wrapper returning just the summary.
func (r *Resolver) GetSummary(ctx context.Context, in Input) (models.MonthlySummary, error) {
	res, err := r.Resolve(ctx, in)
	if err != nil {
		return models.MonthlySummary{}, err
	}
	return res.Summary, nil
}

// refresh builds (or re-addresses) the summary for the key and persists it.
// Identical concurrent refreshes share one build.
func (r *Resolver) refresh(ctx context.Context, region models.Region, month int, years []int, wantMarine bool, mode Mode, staleReason string) (models.MonthlySummary, error) {
	key := summarycache.NewKeyInput(region.ID, month, wantMarine, years)

	// The content cache can satisfy a refresh when the key still addresses
	// valid data: a changed baseline window produces a new key, so the old
	// entry is simply unreachable. Time-based expiry and force_refresh must
	// go back upstream.
	useCache := mode != ModeForceRefresh && !strings.HasSuffix(staleReason, "-expired")

	built, err := r.flights.do(ctx, key.Hash(), func(ctx context.Context) (models.MonthlySummary, error) {
		if useCache {
			if cached, ok := r.cache.Get(ctx, key); ok {
				return cached, nil
			}
		}
		sum, err := r.builder.Build(ctx, region, month, years, wantMarine)
		if err != nil {
			return models.MonthlySummary{}, err
		}
		if err := r.cache.Put(ctx, key, sum); err != nil {
			r.logger.Warn("summary cache write failed", zap.Error(err))
		}
		return sum, nil
	})
	if err != nil {
		return models.MonthlySummary{}, err
	}

	// includesMarine records that marine was part of the fetch, not that wave
	// data came back; a coastal fetch during a marine outage still counts as
	// marine coverage, so "fresh" can mean "no wave data in the newest fetch".
	upsert := models.SnapshotMonthEntry{
		Month:          month,
		IncludesMarine: wantMarine,
		BaselineYears:  years,
		FetchedAt:      r.now().UTC().Format(time.RFC3339),
		Source:         "open-meteo",
		Summary:        built,
	}
	if err := r.snapshots.Upsert(region.ID, upsert); err != nil {
		r.logger.Warn("snapshot write failed", zap.String("region", region.ID), zap.Error(err))
	}
	return built, nil
}

// finish applies the marine preference and records the outcome. The summary
// is copied so stored entries are never mutated.
func (r *Resolver) finish(sum models.MonthlySummary, source Source, staleReason string, wantMarine bool) (Result, error) {
	out := sum
	if !wantMarine {
		out.SuppressMarine()
	}
	observability.ResolveResultsTotal.WithLabelValues(string(source)).Inc()
	return Result{Summary: out, Source: source, StaleReason: staleReason}, nil
}

func (r *Resolver) fail(category string, err error) (Result, error) {
	observability.ResolveErrorsTotal.WithLabelValues(category).Inc()
	return Result{}, err
}
