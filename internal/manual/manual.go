// Package manual serves curated monthly overrides from a directory of JSON
// files. Overrides cover regions the upstream archives handle poorly; the
// resolver consults them only when no fresh verified snapshot exists.
package manual

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/models"
)

// manualFile is the curated source format. Month rows use the source field
// names, not the summary's JSON names.
type manualFile struct {
	RegionID    string                 `json:"regionId"`
	LastUpdated string                 `json:"last_updated"`
	Months      map[string]manualMonth `json:"months"`
}

type manualMonth struct {
	TemperatureC     *float64 `json:"temperature_c"`
	TemperatureMinC  *float64 `json:"temperature_min_c"`
	TemperatureMaxC  *float64 `json:"temperature_max_c"`
	RainfallMm       *float64 `json:"rainfall_mm"`
	HumidityPct      *float64 `json:"humidity_pct"`
	WindKph          *float64 `json:"wind_kph"`
	UVIndex          *float64 `json:"uv_index"`
	PM25             *float64 `json:"pm25"`
	AQI              *float64 `json:"aqi"`
	WaveHeightM      *float64 `json:"wave_height_m"`
	WavePeriodS      *float64 `json:"wave_period_s"`
	WaveDirectionDeg *float64 `json:"wave_direction_deg"`
	LastUpdated      string   `json:"last_updated"`
}

type key struct {
	regionID string
	month    int
}

// Loader scans the override directory once, on first access, and holds the
// result for the life of the process.
type Loader struct {
	dir    string
	logger *zap.Logger

	once    sync.Once
	entries map[key]models.MonthlySummary
}

// NewLoader creates a Loader over dir. An empty dir disables overrides.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// Get returns the override for (regionID, month), if any.
func (l *Loader) Get(regionID string, month int) (models.MonthlySummary, bool) {
	l.once.Do(l.load)
	s, ok := l.entries[key{regionID, month}]
	return s, ok
}

// Count returns the number of loaded override entries.
func (l *Loader) Count() int {
	l.once.Do(l.load)
	return len(l.entries)
}

// load scans the directory. Individual file errors are swallowed so one bad
// curated file never takes down the rest.
func (l *Loader) load() {
	l.entries = make(map[key]models.MonthlySummary)
	if l.dir == "" {
		return
	}
	dirents, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Debug("manual override directory unavailable", zap.String("dir", l.dir), zap.Error(err))
		return
	}
	loadedAt := time.Now().UTC().Format(time.RFC3339)
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(l.dir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("manual override file unreadable", zap.String("file", path), zap.Error(err))
			continue
		}
		var mf manualFile
		if err := json.Unmarshal(raw, &mf); err != nil {
			l.logger.Warn("manual override file skipped", zap.String("file", path), zap.Error(err))
			continue
		}
		if mf.RegionID == "" {
			continue
		}
		for monthStr, row := range mf.Months {
			month := parseMonth(monthStr)
			if month == 0 {
				continue
			}
			s := row.toSummary(mf.LastUpdated, loadedAt)
			if !s.HasData() {
				continue
			}
			l.entries[key{mf.RegionID, month}] = s
		}
	}
	l.logger.Info("manual overrides loaded", zap.String("dir", l.dir), zap.Int("entries", len(l.entries)))
}

func parseMonth(s string) int {
	m := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		m = m*10 + int(c-'0')
	}
	if m < 1 || m > 12 {
		return 0
	}
	return m
}

// toSummary maps the source row onto the summary shape. Provenance falls back
// from the row to the file to the load time.
func (m manualMonth) toSummary(fileUpdated, loadedAt string) models.MonthlySummary {
	updated := m.LastUpdated
	if updated == "" {
		updated = fileUpdated
	}
	if updated == "" {
		updated = loadedAt
	}
	return models.MonthlySummary{
		TemperatureC:          m.TemperatureC,
		TemperatureMinC:       m.TemperatureMinC,
		TemperatureMaxC:       m.TemperatureMaxC,
		RainfallMm:            m.RainfallMm,
		HumidityPct:           m.HumidityPct,
		WindKph:               m.WindKph,
		UVIndex:               m.UVIndex,
		PM25:                  m.PM25,
		AQI:                   m.AQI,
		WaveHeightM:           m.WaveHeightM,
		WavePeriodS:           m.WavePeriodS,
		WaveDirectionDeg:      m.WaveDirectionDeg,
		ClimateLastUpdated:    updated,
		AirQualityLastUpdated: updated,
		MarineLastUpdated:     updated,
	}
}
