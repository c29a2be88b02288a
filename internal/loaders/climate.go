package loaders

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/upstream"
)

// climateFieldSets is the ordered fallback ladder for the daily field list.
// Older archive deployments reject the underscored humidity/wind names with
// HTTP 400; the minimal set is the last resort.
var climateFieldSets = []string{
	"temperature_2m_mean,precipitation_sum,relative_humidity_2m_mean,wind_speed_10m_mean",
	"temperature_2m_mean,precipitation_sum,relativehumidity_2m_mean,windspeed_10m_mean",
	"temperature_2m_mean,precipitation_sum",
}

type climateResponse struct {
	Daily struct {
		Time             []string   `json:"time"`
		TemperatureMean  []*float64 `json:"temperature_2m_mean"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
		HumidityMean     []*float64 `json:"relative_humidity_2m_mean"`
		LegacyHumidity   []*float64 `json:"relativehumidity_2m_mean"`
		WindMean         []*float64 `json:"wind_speed_10m_mean"`
		LegacyWind       []*float64 `json:"windspeed_10m_mean"`
	} `json:"daily"`
}

// ClimateLoader fetches daily climate series, preferring whole-year requests
// cached per region so twelve month lookups cost one upstream call.
type ClimateLoader struct {
	fetcher  *upstream.Fetcher
	baseURLs []string
	years    *yearCache[ClimateMonth]
	logger   *zap.Logger
}

// NewClimateLoader creates a ClimateLoader. baseURLs are tried in order
// (historical-forecast first, then archive).
func NewClimateLoader(fetcher *upstream.Fetcher, baseURLs []string, yearCacheMax int, logger *zap.Logger) *ClimateLoader {
	return &ClimateLoader{
		fetcher:  fetcher,
		baseURLs: baseURLs,
		years:    newYearCache[ClimateMonth](yearCacheMax),
		logger:   logger,
	}
}

// FetchMonth returns the daily climate series for (region, year, month). The
// cached year payload is sliced when present; otherwise the whole year is
// fetched and cached. If the year request fails for a non-rate-limit reason
// the loader falls back to a targeted month range.
func (l *ClimateLoader) FetchMonth(ctx context.Context, region models.Region, year, month int) (ClimateMonth, error) {
	if yr, ok := l.years.get(region.ID, year); ok {
		return sliceClimate(yr, year, month), nil
	}

	yr, yearErr := l.fetchYear(ctx, region, year)
	if yearErr == nil {
		l.years.put(region.ID, year, yr)
		return sliceClimate(yr, year, month), nil
	}
	if errors.Is(yearErr, upstream.ErrRateLimited) {
		return ClimateMonth{}, yearErr
	}
	if l.logger != nil {
		l.logger.Debug("year fetch failed, trying month window",
			zap.String("region", region.ID),
			zap.Int("year", year),
			zap.Error(yearErr))
	}

	start, end := monthRange(year, month)
	return l.fetchRange(ctx, region, start, end, rangeLabel("Climate", year, month))
}

func (l *ClimateLoader) fetchYear(ctx context.Context, region models.Region, year int) (ClimateMonth, error) {
	start, end := yearRange(year)
	return l.fetchRange(ctx, region, start, end, yearLabel("Climate", year))
}

// fetchRange walks base URLs and the field-set ladder. HTTP 400 advances the
// ladder; any other failure skips to the next base URL; a rate limit aborts
// everything.
func (l *ClimateLoader) fetchRange(ctx context.Context, region models.Region, start, end, label string) (ClimateMonth, error) {
	var lastErr error
	for _, base := range l.baseURLs {
		for _, fields := range climateFieldSets {
			var resp climateResponse
			err := l.fetcher.FetchJSON(ctx, "climate", label, climateURL(base, region, start, end, fields), &resp)
			if err == nil {
				return climateFromResponse(resp), nil
			}
			lastErr = err
			if errors.Is(err, upstream.ErrRateLimited) {
				return ClimateMonth{}, err
			}
			if errors.Is(err, upstream.ErrBadRequest) {
				continue // next field variant
			}
			break // next base URL
		}
	}
	return ClimateMonth{}, lastErr
}

func climateURL(base string, region models.Region, start, end, fields string) string {
	params := url.Values{}
	params.Set("latitude", coord(region.Latitude))
	params.Set("longitude", coord(region.Longitude))
	params.Set("start_date", start)
	params.Set("end_date", end)
	params.Set("daily", fields)
	params.Set("timezone", "UTC")
	return base + "?" + params.Encode()
}

// climateFromResponse merges field aliases and sanitizes the series. Missing
// arrays map to empty series of matching length.
func climateFromResponse(resp climateResponse) ClimateMonth {
	d := resp.Daily
	humidity := d.HumidityMean
	if len(humidity) == 0 {
		humidity = d.LegacyHumidity
	}
	wind := d.WindMean
	if len(wind) == 0 {
		wind = d.LegacyWind
	}
	return ClimateMonth{
		Days:             d.Time,
		TemperatureMean:  padSeries(sanitize(d.TemperatureMean), len(d.Time)),
		PrecipitationSum: padSeries(sanitize(d.PrecipitationSum), len(d.Time)),
		HumidityMean:     padSeries(sanitize(humidity), len(d.Time)),
		WindMean:         padSeries(sanitize(wind), len(d.Time)),
	}
}

// padSeries extends s with nils to n entries so slicing stays index-aligned.
func padSeries(s Series, n int) Series {
	for len(s) < n {
		s = append(s, nil)
	}
	return s
}

// sliceClimate extracts the rows of one month from a wider range.
func sliceClimate(c ClimateMonth, year, month int) ClimateMonth {
	prefix := monthPrefix(year, month)
	out := ClimateMonth{}
	for i, day := range c.Days {
		if !strings.HasPrefix(day, prefix) {
			continue
		}
		out.Days = append(out.Days, day)
		out.TemperatureMean = append(out.TemperatureMean, at(c.TemperatureMean, i))
		out.PrecipitationSum = append(out.PrecipitationSum, at(c.PrecipitationSum, i))
		out.HumidityMean = append(out.HumidityMean, at(c.HumidityMean, i))
		out.WindMean = append(out.WindMean, at(c.WindMean, i))
	}
	return out
}

// at is a bounds-safe index into a series.
func at(s Series, i int) *float64 {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}
