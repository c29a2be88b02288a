package models

import (
	"fmt"
	"math"
)

// MonthlySummary is the derived monthly climate profile for one region.
// Every numeric field is independently nullable: nil means the data family
// produced no usable series for that metric. Values are rounded to two
// decimals at aggregation time.
type MonthlySummary struct {
	TemperatureC    *float64 `json:"temperatureC"`
	TemperatureMinC *float64 `json:"temperatureMinC"`
	TemperatureMaxC *float64 `json:"temperatureMaxC"`
	RainfallMm      *float64 `json:"rainfallMm"`
	HumidityPct     *float64 `json:"humidityPct"`
	WindKph         *float64 `json:"windKph"`

	UVIndex *float64 `json:"uvIndex"`
	PM25    *float64 `json:"pm25"`
	AQI     *float64 `json:"aqi"`

	WaveHeightM      *float64 `json:"waveHeightM"`
	WavePeriodS      *float64 `json:"wavePeriodS"`
	WaveDirectionDeg *float64 `json:"waveDirectionDeg"`

	ClimateLastUpdated    string `json:"climateLastUpdated,omitempty"`
	AirQualityLastUpdated string `json:"airQualityLastUpdated,omitempty"`
	MarineLastUpdated     string `json:"marineLastUpdated,omitempty"`
}

// summaryRange is the plausibility window for one summary field.
type summaryRange struct {
	name     string
	min, max float64
}

// Plausibility ranges. A stored summary with any field outside its range is
// treated as corrupt and discarded on read.
var summaryRanges = map[string]summaryRange{
	"temperatureC":     {"temperatureC", -80, 60},
	"temperatureMinC":  {"temperatureMinC", -80, 60},
	"temperatureMaxC":  {"temperatureMaxC", -80, 60},
	"rainfallMm":       {"rainfallMm", 0, 5000},
	"humidityPct":      {"humidityPct", 0, 100},
	"windKph":          {"windKph", 0, 500},
	"uvIndex":          {"uvIndex", 0, 25},
	"pm25":             {"pm25", 0, 1000},
	"aqi":              {"aqi", 0, 500},
	"waveHeightM":      {"waveHeightM", 0, 30},
	"wavePeriodS":      {"wavePeriodS", 0, 60},
	"waveDirectionDeg": {"waveDirectionDeg", 0, 360},
}

// Validate checks every non-nil numeric field against its plausibility range.
// Non-finite values always fail.
func (s *MonthlySummary) Validate() error {
	fields := []struct {
		name string
		val  *float64
	}{
		{"temperatureC", s.TemperatureC},
		{"temperatureMinC", s.TemperatureMinC},
		{"temperatureMaxC", s.TemperatureMaxC},
		{"rainfallMm", s.RainfallMm},
		{"humidityPct", s.HumidityPct},
		{"windKph", s.WindKph},
		{"uvIndex", s.UVIndex},
		{"pm25", s.PM25},
		{"aqi", s.AQI},
		{"waveHeightM", s.WaveHeightM},
		{"wavePeriodS", s.WavePeriodS},
		{"waveDirectionDeg", s.WaveDirectionDeg},
	}
	for _, f := range fields {
		if f.val == nil {
			continue
		}
		v := *f.val
		r := summaryRanges[f.name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("summary field %s is not finite", f.name)
		}
		if v < r.min || v > r.max {
			return fmt.Errorf("summary field %s out of range: %v not in [%v, %v]", f.name, v, r.min, r.max)
		}
	}
	return nil
}

// HasData reports whether any numeric field is set.
func (s *MonthlySummary) HasData() bool {
	for _, v := range []*float64{
		s.TemperatureC, s.TemperatureMinC, s.TemperatureMaxC,
		s.RainfallMm, s.HumidityPct, s.WindKph,
		s.UVIndex, s.PM25, s.AQI,
		s.WaveHeightM, s.WavePeriodS, s.WaveDirectionDeg,
	} {
		if v != nil {
			return true
		}
	}
	return false
}

// HasMarine reports whether any wave field is set.
func (s *MonthlySummary) HasMarine() bool {
	return s.WaveHeightM != nil || s.WavePeriodS != nil || s.WaveDirectionDeg != nil
}

// SuppressMarine clears the wave fields. Applied to responses for inland
// regions and callers that did not request marine data.
func (s *MonthlySummary) SuppressMarine() {
	s.WaveHeightM = nil
	s.WavePeriodS = nil
	s.WaveDirectionDeg = nil
}

// SnapshotMonthEntry is one month row inside a region snapshot file.
type SnapshotMonthEntry struct {
	Month          int            `json:"month"`
	IncludesMarine bool           `json:"includesMarine"`
	BaselineYears  []int          `json:"baselineYears"`
	FetchedAt      string         `json:"fetchedAt"`
	Source         string         `json:"source"`
	Summary        MonthlySummary `json:"summary"`
}
