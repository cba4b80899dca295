// Package config loads tuning parameters and per-symbol rules from a JSON
// document and holds them behind an atomically swappable snapshot, so a
// runtime reload is never observed as a partial update.
package config

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

// Snapshot is the full set of runtime-tunable parameters.
type Snapshot struct {
	Rules []ordermodel.SymbolRule `json:"rules"`

	BatchSize      int           `json:"batchSize"`
	BatchTimeoutMS int           `json:"batchTimeoutMs"`
	MaxFlushSize   int           `json:"maxFlushSize"`
	Workers        int           `json:"workers"`

	HubBatchPeriodMS int `json:"hubBatchPeriodMs"`

	SearchLookbackMS  int `json:"searchLookbackMs"`
	SearchMaxLines    int `json:"searchMaxLines"`
	SearchCacheTTLMS  int `json:"searchCacheTtlMs"`
	TrackingMaxAgeMin int `json:"trackingMaxAgeMinutes"`
}

// BatchTimeout is BatchTimeoutMS as a time.Duration.
func (s Snapshot) BatchTimeout() time.Duration {
	return time.Duration(s.BatchTimeoutMS) * time.Millisecond
}

// HubBatchPeriod is HubBatchPeriodMS as a time.Duration.
func (s Snapshot) HubBatchPeriod() time.Duration {
	return time.Duration(s.HubBatchPeriodMS) * time.Millisecond
}

// SearchLookback is SearchLookbackMS as a time.Duration.
func (s Snapshot) SearchLookback() time.Duration {
	return time.Duration(s.SearchLookbackMS) * time.Millisecond
}

// SearchCacheTTL is SearchCacheTTLMS as a time.Duration.
func (s Snapshot) SearchCacheTTL() time.Duration {
	return time.Duration(s.SearchCacheTTLMS) * time.Millisecond
}

// TrackingMaxAge is TrackingMaxAgeMin as a time.Duration.
func (s Snapshot) TrackingMaxAge() time.Duration {
	return time.Duration(s.TrackingMaxAgeMin) * time.Minute
}

// Default returns the documented defaults.
func Default() Snapshot {
	return Snapshot{
		BatchSize:         1000,
		BatchTimeoutMS:     200,
		MaxFlushSize:      100000,
		Workers:           4,
		HubBatchPeriodMS:  500,
		SearchLookbackMS:  2000,
		SearchMaxLines:    10000,
		SearchCacheTTLMS:  10000,
		TrackingMaxAgeMin: 60,
	}
}

// Store holds a Snapshot behind an atomic pointer for lock-free reads and
// atomic runtime replacement.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store seeded with the given snapshot.
func NewStore(initial Snapshot) *Store {
	s := &Store{}
	s.Replace(initial)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() Snapshot {
	return *s.current.Load()
}

// Replace atomically swaps in a new snapshot.
func (s *Store) Replace(snap Snapshot) {
	s.current.Store(&snap)
}

// LoadFromFile reads and parses a JSON configuration document, filling
// unset fields from Default.
func LoadFromFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Default()
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
