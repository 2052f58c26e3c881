// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/store"
)

// Backend is the interface all persistence implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveSnapshot persists one consistent copy of the game state.
	SaveSnapshot(ctx context.Context, snap store.Snapshot) error
	// RecordImpacts persists finished flights drained since the last cycle.
	RecordImpacts(ctx context.Context, impacts []Impact) error
}

// Exportable is an optional interface for backends that write a file.
type Exportable interface {
	GetExportedFilePath() string
}

// Impact is a finished flight.
type Impact struct {
	MissileID  int64              `json:"missileId"`
	Session    string             `json:"session"`
	City       string             `json:"city,omitempty"`
	State      store.MissileState `json:"state"`
	Origin     geo.LatLon         `json:"origin"`
	Position   geo.LatLon         `json:"position"`
	LaunchedAt time.Time          `json:"launchedAt"`
	At         time.Time          `json:"at"`
	// Path holds the trajectory samples still buffered when the flight ended.
	Path []geo.Vec3 `json:"-"`
}

// Discard is a backend that drops everything.
type Discard struct{}

func (Discard) Init() error                                        { return nil }
func (Discard) Close() error                                       { return nil }
func (Discard) SaveSnapshot(context.Context, store.Snapshot) error { return nil }
func (Discard) RecordImpacts(context.Context, []Impact) error      { return nil }
