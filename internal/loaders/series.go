package loaders

import (
	"fmt"
	"math"
	"time"
)

// Series is a numeric series where missing or non-finite samples are nil.
// Upstream nulls decode to nil naturally; non-finite values are dropped at
// this boundary so the aggregator never sees NaN.
type Series []*float64

// sanitize copies vals, mapping non-finite entries to nil.
func sanitize(vals []*float64) Series {
	out := make(Series, len(vals))
	for i, v := range vals {
		if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

// ClimateMonth holds the daily climate series for one date range of one
// region. Field slices are index-aligned with Days; a year-wide range uses
// the same shape and is sliced down to months.
type ClimateMonth struct {
	Days             []string
	TemperatureMean  Series
	PrecipitationSum Series
	HumidityMean     Series
	WindMean         Series
}

// AirMonth holds the hourly air-quality series for one date range.
type AirMonth struct {
	Times   []string
	PM25    Series
	AQI     Series
	UVIndex Series
}

// MarineMonth holds the hourly wave series for one date range.
type MarineMonth struct {
	Times         []string
	WaveHeight    Series
	WaveDirection Series
	WavePeriod    Series
}

// monthRange returns the first and last day of (year, month) as ISO dates.
func monthRange(year, month int) (string, string) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start.Format("2006-01-02"), end.Format("2006-01-02")
}

// yearRange returns Jan 1 and Dec 31 of year as ISO dates.
func yearRange(year int) (string, string) {
	return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year)
}

// rangeLabel names the family and range for error messages,
// e.g. "Climate API (2024-06)".
func rangeLabel(family string, year, month int) string {
	return fmt.Sprintf("%s API (%04d-%02d)", family, year, month)
}

// yearLabel names the family and year for error messages,
// e.g. "Climate API (2024)".
func yearLabel(family string, year int) string {
	return fmt.Sprintf("%s API (%04d)", family, year)
}

// monthPrefix is the "YYYY-MM" prefix used to slice year payloads.
func monthPrefix(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// coord formats latitude/longitude for query strings.
func coord(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
