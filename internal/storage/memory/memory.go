// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sync"

	"github.com/missileglobe/globe-client/internal/config"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
)

// Backend keeps the latest snapshot and every impact in memory and exports
// them to JSON on Close.
type Backend struct {
	cfg config.MemoryConfig

	latest    *store.Snapshot
	snapshots int
	impacts   []storage.Impact

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		impacts: make([]storage.Impact, 0),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the collected state
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest == nil && len(b.impacts) == 0 {
		return nil
	}
	return b.exportJSON()
}

// SaveSnapshot replaces the latest snapshot
func (b *Backend) SaveSnapshot(_ context.Context, snap store.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &snap
	b.snapshots++
	return nil
}

// RecordImpacts appends finished flights
func (b *Backend) RecordImpacts(_ context.Context, impacts []storage.Impact) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.impacts = append(b.impacts, impacts...)
	return nil
}

// Latest returns the last saved snapshot.
func (b *Backend) Latest() (store.Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return store.Snapshot{}, false
	}
	return *b.latest, true
}

// Impacts returns a copy of the recorded impacts.
func (b *Backend) Impacts() []storage.Impact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]storage.Impact(nil), b.impacts...)
}

// GetExportedFilePath returns the path of the last export.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}
