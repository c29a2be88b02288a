package summarycache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/models"
)

func f(v float64) *float64 { return &v }

func sampleSummary() models.MonthlySummary {
	return models.MonthlySummary{
		TemperatureC:       f(24.5),
		RainfallMm:         f(120.0),
		HumidityPct:        f(70.0),
		ClimateLastUpdated: "2026-08-01T00:00:00Z",
	}
}

func sampleKey() KeyInput {
	return NewKeyInput("vn-da-nang", 6, true, []int{2024, 2023, 2025})
}

func TestKeyCanonicalOrder(t *testing.T) {
	k := sampleKey()
	want := `{"version":2,"regionId":"vn-da-nang","month":6,"includeMarine":true,"baselineYears":[2023,2024,2025]}`
	if got := k.Canonical(); got != want {
		t.Errorf("Canonical() = %s, want %s", got, want)
	}
	if len(k.Hash()) != 40 {
		t.Errorf("Hash() = %q, want 40 hex chars", k.Hash())
	}
}

func TestKeyHashDiffersByInput(t *testing.T) {
	base := sampleKey()
	variants := []KeyInput{
		NewKeyInput("vn-da-nang", 7, true, []int{2023, 2024, 2025}),
		NewKeyInput("vn-da-nang", 6, false, []int{2023, 2024, 2025}),
		NewKeyInput("vn-hanoi", 6, true, []int{2023, 2024, 2025}),
		NewKeyInput("vn-da-nang", 6, true, []int{2024, 2025}),
	}
	for _, v := range variants {
		if v.Hash() == base.Hash() {
			t.Errorf("hash collision between %s and %s", base.Canonical(), v.Canonical())
		}
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), nil, zap.NewNop())
	key := sampleKey()
	want := sampleSummary()

	if err := s.Put(context.Background(), key, want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok := s.Get(context.Background(), key)
	if !ok {
		t.Fatal("Get() missed immediately after Put()")
	}
	if *got.TemperatureC != 24.5 || got.ClimateLastUpdated != want.ClimateLastUpdated {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestStoreDiskSurvivesNewProcess(t *testing.T) {
	dir := t.TempDir()
	key := sampleKey()
	if err := NewStore(dir, nil, zap.NewNop()).Put(context.Background(), key, sampleSummary()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// fresh store, empty memory: must come back from disk
	fresh := NewStore(dir, nil, zap.NewNop())
	if _, ok := fresh.Get(context.Background(), key); !ok {
		t.Error("Get() missed on a fresh store reading the same directory")
	}
}

func TestStoreCorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	key := sampleKey()
	if err := os.WriteFile(filepath.Join(dir, key.Hash()+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(dir, nil, zap.NewNop())
	if _, ok := s.Get(context.Background(), key); ok {
		t.Error("corrupt file should be a miss")
	}
}

func TestStoreKeyMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()
	other := NewKeyInput("other-region", 6, true, []int{2023, 2024, 2025})
	s := NewStore(dir, nil, zap.NewNop())
	if err := s.Put(context.Background(), other, sampleSummary()); err != nil {
		t.Fatal(err)
	}

	// copy the file under the wrong hash to simulate a mixed-up entry
	key := sampleKey()
	raw, err := os.ReadFile(filepath.Join(dir, other.Hash()+".json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, key.Hash()+".json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := NewStore(dir, nil, zap.NewNop()).Get(context.Background(), key); ok {
		t.Error("entry whose stored key differs from the requested one should be a miss")
	}
}

func TestStoreImplausibleSummaryIsMiss(t *testing.T) {
	dir := t.TempDir()
	key := sampleKey()
	bad := sampleSummary()
	bad.HumidityPct = f(250) // outside [0, 100]
	if err := NewStore(dir, nil, zap.NewNop()).Put(context.Background(), key, bad); err != nil {
		t.Fatal(err)
	}
	if _, ok := NewStore(dir, nil, zap.NewNop()).Get(context.Background(), key); ok {
		t.Error("implausible stored summary should be rejected on read")
	}
}

func TestStoreNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil, zap.NewNop())
	if err := s.Put(context.Background(), sampleKey(), sampleSummary()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

type fakeMirror struct {
	data map[string][]byte
	gets int
	sets int
}

func (m *fakeMirror) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.gets++
	raw, ok := m.data[key]
	return raw, ok, nil
}

func (m *fakeMirror) Set(_ context.Context, key string, value []byte) error {
	m.sets++
	m.data[key] = value
	return nil
}

func TestStoreMirrorTier(t *testing.T) {
	mirror := &fakeMirror{data: map[string][]byte{}}
	key := sampleKey()

	writer := NewStore(t.TempDir(), mirror, zap.NewNop())
	if err := writer.Put(context.Background(), key, sampleSummary()); err != nil {
		t.Fatal(err)
	}
	if mirror.sets != 1 {
		t.Fatalf("mirror sets = %d, want 1", mirror.sets)
	}

	// different disk dir and cold memory: only the mirror can answer
	reader := NewStore(t.TempDir(), mirror, zap.NewNop())
	if _, ok := reader.Get(context.Background(), key); !ok {
		t.Fatal("Get() should hit the mirror tier")
	}
	// now cached in memory, so a second get skips the mirror
	gets := mirror.gets
	if _, ok := reader.Get(context.Background(), key); !ok {
		t.Fatal("second Get() missed")
	}
	if mirror.gets != gets {
		t.Error("memory tier should answer before the mirror")
	}
}
