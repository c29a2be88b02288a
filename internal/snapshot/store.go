// Package snapshot persists per-region month entries and classifies their
// freshness by family-specific max ages.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/observability"
)

// SchemaVersion of the per-region snapshot file. Older files are discarded
// on read.
const SchemaVersion = 1

// Staleness reasons. Empty string means fresh.
const (
	ReasonBaselineYearsChanged = "baseline-years-changed"
	ReasonClimateExpired       = "climate-expired"
	ReasonAirExpired           = "air-expired"
	ReasonMarineMissing        = "marine-missing"
	ReasonMarineExpired        = "marine-expired"
)

// File is the on-disk per-region snapshot. Months are keyed "1".."12".
type File struct {
	Version  int                                  `json:"version"`
	RegionID string                               `json:"regionId"`
	Months   map[string]models.SnapshotMonthEntry `json:"months"`
}

// MaxAges are the family staleness thresholds.
type MaxAges struct {
	Climate time.Duration
	Air     time.Duration
	Marine  time.Duration
}

// Store reads and writes region snapshot files.
type Store struct {
	dir     string
	maxAges MaxAges
	logger  *zap.Logger

	// serializes read-modify-write upserts per process; concurrent processes
	// still race on rename, last writer wins
	mu sync.Mutex
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, maxAges MaxAges, logger *zap.Logger) *Store {
	return &Store{dir: dir, maxAges: maxAges, logger: logger}
}

// Load returns the snapshot file for regionID. Missing, unreadable, or
// schema-mismatched files yield an empty snapshot.
func (s *Store) Load(regionID string) File {
	empty := File{Version: SchemaVersion, RegionID: regionID, Months: map[string]models.SnapshotMonthEntry{}}

	raw, err := os.ReadFile(s.path(regionID))
	if err != nil {
		return empty
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		s.logger.Warn("snapshot file unreadable", zap.String("region", regionID), zap.Error(err))
		return empty
	}
	if f.Version != SchemaVersion || f.RegionID != regionID {
		s.logger.Warn("snapshot file discarded",
			zap.String("region", regionID),
			zap.Int("version", f.Version),
			zap.String("fileRegion", f.RegionID))
		return empty
	}
	if f.Months == nil {
		f.Months = map[string]models.SnapshotMonthEntry{}
	}
	return f
}

// Month returns the stored entry for (regionID, month).
func (s *Store) Month(regionID string, month int) (models.SnapshotMonthEntry, bool) {
	f := s.Load(regionID)
	e, ok := f.Months[strconv.Itoa(month)]
	return e, ok
}

// Upsert merges one month entry into the region file and rewrites it
// atomically. An entry that once included marine keeps includesMarine=true
// even when the new refresh omitted it.
func (s *Store) Upsert(regionID string, entry models.SnapshotMonthEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.Load(regionID)
	key := strconv.Itoa(entry.Month)
	if prev, ok := f.Months[key]; ok && prev.IncludesMarine {
		entry.IncludesMarine = true
	}
	f.Months[key] = entry

	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", regionID, err)
	}
	if err := atomicWrite(s.path(regionID), raw); err != nil {
		return fmt.Errorf("write snapshot for %s: %w", regionID, err)
	}
	return nil
}

// StaleReason classifies entry freshness against the current baseline years
// and marine preference. Returns "" when the entry may be served as fresh.
func (s *Store) StaleReason(entry models.SnapshotMonthEntry, baselineYears []int, wantMarine bool, now time.Time) string {
	if !equalYears(entry.BaselineYears, baselineYears) {
		return s.stale(ReasonBaselineYearsChanged)
	}
	if expired(entry.Summary.ClimateLastUpdated, entry.FetchedAt, s.maxAges.Climate, now) {
		return s.stale(ReasonClimateExpired)
	}
	if expired(entry.Summary.AirQualityLastUpdated, entry.FetchedAt, s.maxAges.Air, now) {
		return s.stale(ReasonAirExpired)
	}
	if wantMarine {
		if !entry.IncludesMarine {
			return s.stale(ReasonMarineMissing)
		}
		if expired(entry.Summary.MarineLastUpdated, entry.FetchedAt, s.maxAges.Marine, now) {
			return s.stale(ReasonMarineExpired)
		}
	}
	return ""
}

func (s *Store) stale(reason string) string {
	observability.SnapshotStaleTotal.WithLabelValues(reason).Inc()
	return reason
}

func (s *Store) path(regionID string) string {
	return filepath.Join(s.dir, regionID+".json")
}

// expired reports whether the provenance timestamp (falling back to the
// entry's fetch time) is older than maxAge. Unparseable timestamps count as
// expired.
func expired(provenance, fetchedAt string, maxAge time.Duration, now time.Time) bool {
	ts := provenance
	if ts == "" {
		ts = fetchedAt
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return true
	}
	return now.Sub(t) > maxAge
}

func equalYears(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// atomicWrite writes data through a uniquely named temp file and renames it
// over path.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.%s.tmp", path, os.Getpid(), uuid.NewString()[:8])
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
