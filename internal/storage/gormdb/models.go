package gormdb

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// Models lists every table this backend migrates.
var Models = []any{
	&StateSnapshot{},
	&BaseSnapshot{},
	&ImpactRecord{},
}

// StateSnapshot is one persistence cycle.
type StateSnapshot struct {
	ID            uint           `gorm:"primarykey"`
	TakenAt       time.Time      `gorm:"index:idx_state_taken_at"`
	LocalSession  string         `gorm:"size:128"`
	ClaimedNation string         `gorm:"size:64"`
	Outcome       string         `gorm:"size:16"`
	BaseCount     int
	MissileCount  int
	Raw           datatypes.JSON // full store snapshot
}

func (*StateSnapshot) TableName() string {
	return "state_snapshots"
}

// BaseSnapshot is one base as seen in a cycle.
type BaseSnapshot struct {
	ID         uint      `gorm:"primarykey"`
	SnapshotID uint      `gorm:"index:idx_base_snapshot_id"`
	TakenAt    time.Time `gorm:"index:idx_base_taken_at"`
	Session    string    `gorm:"size:128;index:idx_base_session"`
	Nation     string    `gorm:"size:64"`
	City       string    `gorm:"size:64"`
	Own        bool
	Lat        float64
	Lon        float64
	Location   geom.Point // EPSG:3857
}

func (*BaseSnapshot) TableName() string {
	return "base_snapshots"
}

// ImpactRecord is a finished flight.
type ImpactRecord struct {
	ID         uint      `gorm:"primarykey"`
	MissileID  int64     `gorm:"index:idx_impact_missile_id"`
	Session    string    `gorm:"size:128;index:idx_impact_session"`
	City       string    `gorm:"size:64"`
	State      string    `gorm:"size:16"`
	LaunchedAt time.Time
	At         time.Time `gorm:"index:idx_impact_at"`
	OriginLat  float64
	OriginLon  float64
	Lat        float64
	Lon        float64
	Location   geom.Point      // EPSG:3857
	Path       geom.LineString // EPSG:3857, altitude in Z
}

func (*ImpactRecord) TableName() string {
	return "impact_records"
}
