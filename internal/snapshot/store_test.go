package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/models"
)

func f(v float64) *float64 { return &v }

var testAges = MaxAges{
	Climate: 365 * 24 * time.Hour,
	Air:     90 * 24 * time.Hour,
	Marine:  365 * 24 * time.Hour,
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), testAges, zap.NewNop())
}

func entryAt(month int, fetched time.Time, marine bool, years []int) models.SnapshotMonthEntry {
	ts := fetched.UTC().Format(time.RFC3339)
	return models.SnapshotMonthEntry{
		Month:          month,
		IncludesMarine: marine,
		BaselineYears:  years,
		FetchedAt:      ts,
		Source:         "open-meteo",
		Summary: models.MonthlySummary{
			TemperatureC:          f(22),
			ClimateLastUpdated:    ts,
			AirQualityLastUpdated: ts,
			MarineLastUpdated:     ts,
		},
	}
}

func TestUpsertAndLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	if err := s.Upsert("pt-ericeira", entryAt(6, now, true, []int{2023, 2024})); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	e, ok := s.Month("pt-ericeira", 6)
	if !ok {
		t.Fatal("Month() missed after Upsert()")
	}
	if e.Month != 6 || !e.IncludesMarine || *e.Summary.TemperatureC != 22 {
		t.Errorf("entry = %+v", e)
	}
	if _, ok := s.Month("pt-ericeira", 7); ok {
		t.Error("unexpected entry for month 7")
	}
}

func TestUpsertStickyMarine(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	if err := s.Upsert("pt-ericeira", entryAt(6, now, true, []int{2024})); err != nil {
		t.Fatal(err)
	}
	// a later refresh without marine keeps includesMarine=true
	if err := s.Upsert("pt-ericeira", entryAt(6, now.Add(time.Hour), false, []int{2024})); err != nil {
		t.Fatal(err)
	}
	e, _ := s.Month("pt-ericeira", 6)
	if !e.IncludesMarine {
		t.Error("includesMarine should be sticky across refreshes")
	}
}

func TestLoadRejectsWrongVersionOrRegion(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testAges, zap.NewNop())

	write := func(name string, f File) {
		raw, err := json.Marshal(f)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".json"), raw, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("old-schema", File{Version: 0, RegionID: "old-schema", Months: map[string]models.SnapshotMonthEntry{"1": {Month: 1}}})
	write("moved", File{Version: SchemaVersion, RegionID: "somewhere-else", Months: map[string]models.SnapshotMonthEntry{"1": {Month: 1}}})

	if got := s.Load("old-schema"); len(got.Months) != 0 {
		t.Error("old schema version should load as empty")
	}
	if got := s.Load("moved"); len(got.Months) != 0 {
		t.Error("regionId mismatch should load as empty")
	}
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir, testAges, zap.NewNop())
	if got := s.Load("bad"); len(got.Months) != 0 {
		t.Error("corrupt file should load as empty")
	}
}

func TestStaleReason(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	years := []int{2023, 2024, 2025}

	tests := []struct {
		name       string
		entry      models.SnapshotMonthEntry
		years      []int
		wantMarine bool
		want       string
	}{
		{"fresh", entryAt(6, now.Add(-24*time.Hour), true, years), years, true, ""},
		{"fresh without marine check", entryAt(6, now.Add(-24*time.Hour), false, years), years, false, ""},
		{"baseline changed", entryAt(6, now, true, []int{2022, 2023}), years, false, ReasonBaselineYearsChanged},
		{"climate expired", entryAt(6, now.Add(-400*24*time.Hour), true, years), years, false, ReasonClimateExpired},
		{"marine missing", entryAt(6, now.Add(-24*time.Hour), false, years), years, true, ReasonMarineMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.StaleReason(tt.entry, tt.years, tt.wantMarine, now); got != tt.want {
				t.Errorf("StaleReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStaleReasonPerFamilyAges(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	years := []int{2024}

	// air timestamp 100 days old while climate is fresh
	e := entryAt(6, now, false, years)
	e.Summary.AirQualityLastUpdated = now.Add(-100 * 24 * time.Hour).UTC().Format(time.RFC3339)
	if got := s.StaleReason(e, years, false, now); got != ReasonAirExpired {
		t.Errorf("StaleReason() = %q, want %q", got, ReasonAirExpired)
	}

	// marine expired only matters when marine is wanted
	e = entryAt(6, now, true, years)
	e.Summary.MarineLastUpdated = now.Add(-400 * 24 * time.Hour).UTC().Format(time.RFC3339)
	if got := s.StaleReason(e, years, false, now); got != "" {
		t.Errorf("StaleReason() without marine = %q, want fresh", got)
	}
	if got := s.StaleReason(e, years, true, now); got != ReasonMarineExpired {
		t.Errorf("StaleReason() with marine = %q, want %q", got, ReasonMarineExpired)
	}
}

func TestStaleReasonFallsBackToFetchedAt(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	years := []int{2024}

	e := entryAt(6, now.Add(-24*time.Hour), false, years)
	e.Summary.ClimateLastUpdated = ""
	e.Summary.AirQualityLastUpdated = ""
	if got := s.StaleReason(e, years, false, now); got != "" {
		t.Errorf("StaleReason() = %q, want fresh via fetchedAt fallback", got)
	}

	e.FetchedAt = "not a timestamp"
	if got := s.StaleReason(e, years, false, now); got != ReasonClimateExpired {
		t.Errorf("StaleReason() = %q, want expired for unparseable timestamps", got)
	}
}
