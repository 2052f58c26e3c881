// Package gormdb implements storage.Backend on GORM. The same backend serves
// SQLite and Postgres; the database.Manager picks the dialect.
package gormdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB *gorm.DB
	// Radius of the globe, used to derive trajectory altitudes.
	Radius float64
	Logger *slog.Logger
}

// Backend implements storage.Backend with one transaction per cycle.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gormdb: no database")
	}
	if err := b.deps.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	b.deps.Logger.Info("Persistence schema ready", "dialect", b.deps.DB.Dialector.Name())
	return nil
}

// Close is a no-op; the database manager owns the connection.
func (b *Backend) Close() error {
	return nil
}

// SaveSnapshot writes one state row and one row per base.
func (b *Backend) SaveSnapshot(ctx context.Context, snap store.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	state := StateSnapshot{
		TakenAt:       snap.TakenAt,
		LocalSession:  snap.LocalSession,
		ClaimedNation: snap.ClaimedNation,
		Outcome:       snap.Outcome.String(),
		BaseCount:     len(snap.Bases) + len(snap.OwnBases),
		MissileCount:  len(snap.Missiles),
		Raw:           datatypes.JSON(raw),
	}

	return b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&state).Error; err != nil {
			return fmt.Errorf("insert state snapshot: %w", err)
		}

		rows := make([]BaseSnapshot, 0, state.BaseCount)
		for _, city := range sortedKeys(snap.OwnBases) {
			rows = append(rows, b.baseRow(state, store.Base{
				Session:  snap.LocalSession,
				Nation:   snap.ClaimedNation,
				City:     city,
				Position: snap.OwnBases[city],
			}, true))
		}
		for _, base := range snap.Bases {
			rows = append(rows, b.baseRow(state, base, false))
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("insert base snapshots: %w", err)
		}
		return nil
	})
}

func (b *Backend) baseRow(state StateSnapshot, base store.Base, own bool) BaseSnapshot {
	return BaseSnapshot{
		SnapshotID: state.ID,
		TakenAt:    state.TakenAt,
		Session:    base.Session,
		Nation:     base.Nation,
		City:       base.City,
		Own:        own,
		Lat:        base.Position.Lat,
		Lon:        base.Position.Lon,
		Location:   b.point(base.Position),
	}
}

// RecordImpacts writes one row per finished flight.
func (b *Backend) RecordImpacts(ctx context.Context, impacts []storage.Impact) error {
	if len(impacts) == 0 {
		return nil
	}

	rows := make([]ImpactRecord, 0, len(impacts))
	for _, im := range impacts {
		row := ImpactRecord{
			MissileID:  im.MissileID,
			Session:    im.Session,
			City:       im.City,
			State:      string(im.State),
			LaunchedAt: im.LaunchedAt,
			At:         im.At,
			OriginLat:  im.Origin.Lat,
			OriginLon:  im.Origin.Lon,
			Lat:        im.Position.Lat,
			Lon:        im.Position.Lon,
			Location:   b.point(im.Position),
		}
		if len(im.Path) >= 2 {
			ls, err := geo.TrajectoryLineString(im.Path, b.deps.Radius)
			if err != nil {
				b.deps.Logger.Warn("Skipping trajectory", "missile", im.MissileID, "error", err)
			} else {
				row.Path = ls
			}
		}
		rows = append(rows, row)
	}

	if err := b.deps.DB.WithContext(ctx).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("insert impact records: %w", err)
	}
	return nil
}

func (b *Backend) point(ll geo.LatLon) geom.Point {
	p, err := geo.Point3857(ll, 0)
	if err != nil {
		b.deps.Logger.Warn("Invalid position", "lat", ll.Lat, "lon", ll.Lon)
	}
	return p
}

func sortedKeys(m map[string]geo.LatLon) []string {
	return slices.Sorted(maps.Keys(m))
}
