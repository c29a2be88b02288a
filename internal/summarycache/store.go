package summarycache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/observability"
)

// entry is the on-disk shape. The stored key input is compared against the
// requested one on read; any mismatch (including a schema version change that
// happens to hash-collide) is a miss.
type entry struct {
	KeyInput KeyInput              `json:"keyInput"`
	Summary  models.MonthlySummary `json:"summary"`
	StoredAt string                `json:"storedAt"`
}

// Mirror is an optional shared cache tier between memory and disk, typically
// memcached. Errors from a mirror are logged and otherwise ignored.
type Mirror interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Store is the content-addressed summary cache: an in-process map in front of
// an optional mirror in front of JSON files on disk.
type Store struct {
	dir    string
	mirror Mirror
	logger *zap.Logger

	mu  sync.RWMutex
	mem map[string]models.MonthlySummary
}

// NewStore creates a Store rooted at dir. mirror may be nil.
func NewStore(dir string, mirror Mirror, logger *zap.Logger) *Store {
	return &Store{
		dir:    dir,
		mirror: mirror,
		logger: logger,
		mem:    make(map[string]models.MonthlySummary),
	}
}

// Get returns the cached summary for key, checking memory, then the mirror,
// then disk. Corrupt, implausible, or mismatched entries are misses.
func (s *Store) Get(ctx context.Context, key KeyInput) (models.MonthlySummary, bool) {
	hash := key.Hash()

	s.mu.RLock()
	cached, ok := s.mem[hash]
	s.mu.RUnlock()
	if ok {
		observability.SummaryCacheHitsTotal.WithLabelValues("memory").Inc()
		return cached, true
	}

	if s.mirror != nil {
		if raw, found, err := s.mirror.Get(ctx, hash); err != nil {
			s.logger.Warn("summary cache mirror read failed", zap.Error(err))
		} else if found {
			if sum, ok := s.decode(raw, key); ok {
				observability.SummaryCacheHitsTotal.WithLabelValues("memcached").Inc()
				s.remember(hash, sum)
				return sum, true
			}
		}
	}

	raw, err := os.ReadFile(s.path(hash))
	if err == nil {
		if sum, ok := s.decode(raw, key); ok {
			observability.SummaryCacheHitsTotal.WithLabelValues("disk").Inc()
			s.remember(hash, sum)
			return sum, true
		}
	}

	observability.SummaryCacheMissesTotal.Inc()
	return models.MonthlySummary{}, false
}

// Put stores the summary for key: atomic file write first, then the memory
// map and the mirror. A disk failure fails the put; mirror failures do not.
func (s *Store) Put(ctx context.Context, key KeyInput, sum models.MonthlySummary) error {
	hash := key.Hash()
	raw, err := json.Marshal(entry{
		KeyInput: key,
		Summary:  sum,
		StoredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode summary cache entry: %w", err)
	}

	if err := atomicWrite(s.path(hash), raw); err != nil {
		return fmt.Errorf("write summary cache entry: %w", err)
	}
	s.remember(hash, sum)

	if s.mirror != nil {
		if err := s.mirror.Set(ctx, hash, raw); err != nil {
			s.logger.Warn("summary cache mirror write failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Store) remember(hash string, sum models.MonthlySummary) {
	s.mu.Lock()
	s.mem[hash] = sum
	s.mu.Unlock()
}

// decode parses an entry and rejects it unless the stored key input matches
// the requested one and the summary passes plausibility validation.
func (s *Store) decode(raw []byte, key KeyInput) (models.MonthlySummary, bool) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.Warn("summary cache entry unreadable", zap.String("hash", key.Hash()), zap.Error(err))
		return models.MonthlySummary{}, false
	}
	if !e.KeyInput.Equal(key) {
		s.logger.Warn("summary cache key mismatch",
			zap.String("stored", e.KeyInput.Canonical()),
			zap.String("requested", key.Canonical()))
		return models.MonthlySummary{}, false
	}
	if err := e.Summary.Validate(); err != nil {
		s.logger.Warn("summary cache entry failed validation", zap.String("hash", key.Hash()), zap.Error(err))
		return models.MonthlySummary{}, false
	}
	return e.Summary, true
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}

// atomicWrite writes data to a uniquely named temp file in the target
// directory and renames it over path. Readers see either the old complete
// file or the new complete file, never a partial one.
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
