package loaders

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/upstream"
)

type airResponse struct {
	Hourly struct {
		Time    []string   `json:"time"`
		PM25    []*float64 `json:"pm2_5"`
		USAQI   []*float64 `json:"us_aqi"`
		UVIndex []*float64 `json:"uv_index"`
	} `json:"hourly"`
}

// AirLoader fetches hourly air-quality and UV series from the single
// air-quality endpoint, with the same per-region year cache as the climate
// loader.
type AirLoader struct {
	fetcher *upstream.Fetcher
	baseURL string
	years   *yearCache[AirMonth]
}

// NewAirLoader creates an AirLoader.
func NewAirLoader(fetcher *upstream.Fetcher, baseURL string, yearCacheMax int) *AirLoader {
	return &AirLoader{
		fetcher: fetcher,
		baseURL: baseURL,
		years:   newYearCache[AirMonth](yearCacheMax),
	}
}

// FetchMonth returns the hourly air series for (region, year, month).
func (l *AirLoader) FetchMonth(ctx context.Context, region models.Region, year, month int) (AirMonth, error) {
	if yr, ok := l.years.get(region.ID, year); ok {
		return sliceAir(yr, year, month), nil
	}

	start, end := yearRange(year)
	yr, yearErr := l.fetchRange(ctx, region, start, end, yearLabel("Air", year))
	if yearErr == nil {
		l.years.put(region.ID, year, yr)
		return sliceAir(yr, year, month), nil
	}
	if errors.Is(yearErr, upstream.ErrRateLimited) {
		return AirMonth{}, yearErr
	}

	start, end = monthRange(year, month)
	return l.fetchRange(ctx, region, start, end, rangeLabel("Air", year, month))
}

func (l *AirLoader) fetchRange(ctx context.Context, region models.Region, start, end, label string) (AirMonth, error) {
	params := url.Values{}
	params.Set("latitude", coord(region.Latitude))
	params.Set("longitude", coord(region.Longitude))
	params.Set("start_date", start)
	params.Set("end_date", end)
	params.Set("hourly", "pm2_5,us_aqi,uv_index")
	params.Set("timezone", "UTC")

	var resp airResponse
	if err := l.fetcher.FetchJSON(ctx, "air", label, l.baseURL+"?"+params.Encode(), &resp); err != nil {
		return AirMonth{}, err
	}
	h := resp.Hourly
	return AirMonth{
		Times:   h.Time,
		PM25:    padSeries(sanitize(h.PM25), len(h.Time)),
		AQI:     padSeries(sanitize(h.USAQI), len(h.Time)),
		UVIndex: padSeries(sanitize(h.UVIndex), len(h.Time)),
	}, nil
}

func sliceAir(a AirMonth, year, month int) AirMonth {
	prefix := monthPrefix(year, month)
	out := AirMonth{}
	for i, ts := range a.Times {
		if !strings.HasPrefix(ts, prefix) {
			continue
		}
		out.Times = append(out.Times, ts)
		out.PM25 = append(out.PM25, at(a.PM25, i))
		out.AQI = append(out.AQI, at(a.AQI, i))
		out.UVIndex = append(out.UVIndex, at(a.UVIndex, i))
	}
	return out
}
