package loaders

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/upstream"
)

type marineResponse struct {
	Hourly struct {
		Time          []string   `json:"time"`
		WaveHeight    []*float64 `json:"wave_height"`
		WaveDirection []*float64 `json:"wave_direction"`
		WavePeriod    []*float64 `json:"wave_period"`
	} `json:"hourly"`
}

// MarineLoader fetches hourly wave series. Only invoked for coastal regions
// when the caller requested marine data.
type MarineLoader struct {
	fetcher *upstream.Fetcher
	baseURL string
	years   *yearCache[MarineMonth]
}

// NewMarineLoader creates a MarineLoader.
func NewMarineLoader(fetcher *upstream.Fetcher, baseURL string, yearCacheMax int) *MarineLoader {
	return &MarineLoader{
		fetcher: fetcher,
		baseURL: baseURL,
		years:   newYearCache[MarineMonth](yearCacheMax),
	}
}

// FetchMonth returns the hourly wave series for (region, year, month).
func (l *MarineLoader) FetchMonth(ctx context.Context, region models.Region, year, month int) (MarineMonth, error) {
	if yr, ok := l.years.get(region.ID, year); ok {
		return sliceMarine(yr, year, month), nil
	}

	start, end := yearRange(year)
	yr, yearErr := l.fetchRange(ctx, region, start, end, yearLabel("Marine", year))
	if yearErr == nil {
		l.years.put(region.ID, year, yr)
		return sliceMarine(yr, year, month), nil
	}
	if errors.Is(yearErr, upstream.ErrRateLimited) {
		return MarineMonth{}, yearErr
	}

	start, end = monthRange(year, month)
	return l.fetchRange(ctx, region, start, end, rangeLabel("Marine", year, month))
}

func (l *MarineLoader) fetchRange(ctx context.Context, region models.Region, start, end, label string) (MarineMonth, error) {
	params := url.Values{}
	params.Set("latitude", coord(region.Latitude))
	params.Set("longitude", coord(region.Longitude))
	params.Set("start_date", start)
	params.Set("end_date", end)
	params.Set("hourly", "wave_height,wave_direction,wave_period")
	params.Set("timezone", "UTC")

	var resp marineResponse
	if err := l.fetcher.FetchJSON(ctx, "marine", label, l.baseURL+"?"+params.Encode(), &resp); err != nil {
		return MarineMonth{}, err
	}
	h := resp.Hourly
	return MarineMonth{
		Times:         h.Time,
		WaveHeight:    padSeries(sanitize(h.WaveHeight), len(h.Time)),
		WaveDirection: padSeries(sanitize(h.WaveDirection), len(h.Time)),
		WavePeriod:    padSeries(sanitize(h.WavePeriod), len(h.Time)),
	}, nil
}

func sliceMarine(m MarineMonth, year, month int) MarineMonth {
	prefix := monthPrefix(year, month)
	out := MarineMonth{}
	for i, ts := range m.Times {
		if !strings.HasPrefix(ts, prefix) {
			continue
		}
		out.Times = append(out.Times, ts)
		out.WaveHeight = append(out.WaveHeight, at(m.WaveHeight, i))
		out.WaveDirection = append(out.WaveDirection, at(m.WaveDirection, i))
		out.WavePeriod = append(out.WavePeriod, at(m.WavePeriod, i))
	}
	return out
}
