// Package httpapi persists base layouts through the game server's
// save-coordinates endpoint.
package httpapi

import (
	"context"
	"log/slog"

	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

// Saver uploads a base layout.
type Saver interface {
	SaveCoordinates(ctx context.Context, body protocol.SaveCoordinates) error
}

// Backend implements storage.Backend over the HTTP side channel. The server
// has no impact endpoint, so impacts are only counted.
type Backend struct {
	saver   Saver
	logger  *slog.Logger
	impacts int
}

// New creates a new HTTP storage backend.
func New(saver Saver, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{saver: saver, logger: logger}
}

func (b *Backend) Init() error  { return nil }
func (b *Backend) Close() error { return nil }

// SaveSnapshot uploads own and shared bases. Snapshots without any base are
// skipped.
func (b *Backend) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	if len(snap.OwnBases) == 0 && len(snap.Bases) == 0 {
		return nil
	}
	return b.saver.SaveCoordinates(ctx, Body(snap))
}

// RecordImpacts counts impacts.
func (b *Backend) RecordImpacts(_ context.Context, impacts []storage.Impact) error {
	b.impacts += len(impacts)
	if len(impacts) > 0 {
		b.logger.Debug("Impacts not uploaded, no server endpoint", "count", len(impacts), "total", b.impacts)
	}
	return nil
}

// Body converts a snapshot to the save-coordinates request body.
func Body(snap store.Snapshot) protocol.SaveCoordinates {
	body := protocol.SaveCoordinates{
		Bases:             make([]protocol.BaseRecord, 0, len(snap.Bases)),
		OwnBasesPositions: make(map[string]protocol.LatLon, len(snap.OwnBases)),
	}
	for _, b := range snap.Bases {
		body.Bases = append(body.Bases, protocol.BaseRecord{
			Session:  b.Session,
			Name:     b.Nation,
			City:     b.City,
			Position: protocol.LatLon{b.Position.Lat, b.Position.Lon},
		})
	}
	for city, pos := range snap.OwnBases {
		body.OwnBasesPositions[city] = protocol.LatLon{pos.Lat, pos.Lon}
	}
	return body
}
