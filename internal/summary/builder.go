// Package summary orchestrates per-year family fetches into one monthly
// summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/aggregate"
	"github.com/resmoray/nomad-weather-map/internal/loaders"
	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/upstream"
)

// earliestBaselineYear is the floor of the baseline window. Upstream archives
// are unreliable before it.
const earliestBaselineYear = 2022

// BaselineYears returns the ascending window of past years ending at the
// previous calendar year, clamped to the archive floor.
func BaselineYears(now time.Time, window int) []int {
	if window < 1 {
		window = 1
	}
	last := now.Year() - 1
	first := last - window + 1
	if first < earliestBaselineYear {
		first = earliestBaselineYear
	}
	if first > last {
		first = last
	}
	years := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		years = append(years, y)
	}
	return years
}

// ClimateSource fetches the daily climate slice of one month.
type ClimateSource interface {
	FetchMonth(ctx context.Context, region models.Region, year, month int) (loaders.ClimateMonth, error)
}

// AirSource fetches the hourly air-quality slice of one month.
type AirSource interface {
	FetchMonth(ctx context.Context, region models.Region, year, month int) (loaders.AirMonth, error)
}

// MarineSource fetches the hourly wave slice of one month.
type MarineSource interface {
	FetchMonth(ctx context.Context, region models.Region, year, month int) (loaders.MarineMonth, error)
}

// Builder walks baseline years across the three data families and aggregates
// the results. Climate is mandatory; air and marine failures degrade to null
// fields.
type Builder struct {
	climate ClimateSource
	air     AirSource
	marine  MarineSource
	logger  *zap.Logger

	// retry pauses before the final-year climate retry; overridable in tests
	retryPause          time.Duration
	rateLimitRetryPause time.Duration
}

// NewBuilder creates a Builder.
func NewBuilder(climate ClimateSource, air AirSource, marine MarineSource, logger *zap.Logger) *Builder {
	return &Builder{
		climate:             climate,
		air:                 air,
		marine:              marine,
		logger:              logger,
		retryPause:          2200 * time.Millisecond,
		rateLimitRetryPause: 2600 * time.Millisecond,
	}
}

// Build produces the monthly summary for (region, month) over the given
// baseline years. A rate-limit abandons the remaining years immediately. When
// no climate data was collected at all, the builder pauses and retries the
// most recent year once before giving up.
func (b *Builder) Build(ctx context.Context, region models.Region, month int, years []int, includeMarine bool) (models.MonthlySummary, error) {
	var climates []loaders.ClimateMonth
	var airs []loaders.AirMonth
	var marines []loaders.MarineMonth
	var firstClimateErr error
	rateLimited := false

	for _, year := range years {
		c, err := b.climate.FetchMonth(ctx, region, year, month)
		if err != nil {
			if firstClimateErr == nil {
				firstClimateErr = err
			}
			if errors.Is(err, upstream.ErrRateLimited) {
				rateLimited = true
				b.logger.Warn("rate limited, abandoning remaining baseline years",
					zap.String("region", region.ID),
					zap.Int("month", month),
					zap.Int("year", year))
				break
			}
			b.logger.Warn("climate fetch failed",
				zap.String("region", region.ID),
				zap.Int("year", year),
				zap.Int("month", month),
				zap.Error(err))
		} else if len(c.Days) > 0 {
			climates = append(climates, c)
		}

		if a, err := b.air.FetchMonth(ctx, region, year, month); err == nil && len(a.Times) > 0 {
			airs = append(airs, a)
		}
		if includeMarine && region.Coastal {
			if m, err := b.marine.FetchMonth(ctx, region, year, month); err == nil && len(m.Times) > 0 {
				marines = append(marines, m)
			}
		}
	}

	if len(climates) == 0 && len(years) > 0 {
		pause := b.retryPause
		if rateLimited {
			pause = b.rateLimitRetryPause
		}
		select {
		case <-ctx.Done():
			return models.MonthlySummary{}, ctx.Err()
		case <-time.After(pause):
		}

		latest := years[len(years)-1]
		c, err := b.climate.FetchMonth(ctx, region, latest, month)
		if err == nil && len(c.Days) > 0 {
			climates = append(climates, c)
		} else if err != nil && firstClimateErr == nil {
			firstClimateErr = err
		}
	}

	if len(climates) == 0 {
		if firstClimateErr == nil {
			firstClimateErr = errors.New("upstream returned no daily rows")
		}
		return models.MonthlySummary{}, fmt.Errorf("no climate data for %s month %d: %w", region.ID, month, firstClimateErr)
	}

	s := aggregate.Monthly(climates, airs, marines)
	now := time.Now().UTC().Format(time.RFC3339)
	s.ClimateLastUpdated = now
	s.AirQualityLastUpdated = now
	s.MarineLastUpdated = now
	return s, nil
}
