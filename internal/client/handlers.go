package client

import (
	"fmt"
	"time"

	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/dispatcher"
	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

// joinListeners is the full post-join listener set.
func (c *Client) joinListeners() connection.Listeners {
	return connection.Listeners{
		protocol.EventBasePosition:       c.handleBasePosition,
		protocol.EventPlayerJoined:       c.handlePlayerJoined,
		protocol.EventAllBases:           c.handleAllBases,
		protocol.EventPlayerDisconnected: c.handlePlayerDisconnected,
		protocol.EventMissileLaunched:    c.handleMissileLaunched,
		protocol.EventGameOver:           c.handleOutcome(store.Defeat),
		protocol.EventGameWin:            c.handleOutcome(store.Victory),
		protocol.EventTakenStates:        c.session.HandleTakenStates,
	}
}

func toLatLon(p protocol.LatLon) geo.LatLon {
	return geo.LatLon{Lat: p[0], Lon: p[1]}
}

func toBases(event string, positions map[string]protocol.LatLon) (map[string]geo.LatLon, error) {
	if err := protocol.ValidatePositions(event, positions); err != nil {
		return nil, err
	}
	bases := make(map[string]geo.LatLon, len(positions))
	for city, pos := range positions {
		bases[city] = toLatLon(pos)
	}
	return bases, nil
}

func (c *Client) handleBasePosition(e dispatcher.Event) error {
	p, err := protocol.Decode[protocol.BasePosition](e.Name, e.Payload)
	if err != nil {
		return err
	}
	bases, err := toBases(e.Name, p.BasesPositions)
	if err != nil {
		return err
	}
	if !c.store.ApplyBaseAssignment(p.Session, bases) {
		c.logger.Debug("Base assignment for another session ignored", "session", p.Session)
		return nil
	}
	c.session.ConfirmClaim()
	c.logger.Info("Bases assigned", "count", len(bases))
	return nil
}

func (c *Client) handlePlayerJoined(e dispatcher.Event) error {
	p, err := protocol.Decode[protocol.PlayerJoined](e.Name, e.Payload)
	if err != nil {
		return err
	}
	bases, err := toBases(e.Name, p.BasesPositions)
	if err != nil {
		return err
	}
	if p.Session == c.store.LocalSession() {
		return nil
	}
	c.store.ApplyPlayerJoined(p.Session, p.Name, bases)
	c.logger.Info("Player joined", "nation", p.Name, "bases", len(bases))
	return nil
}

func (c *Client) handleAllBases(e dispatcher.Event) error {
	records, err := protocol.Decode[[]protocol.BaseRecord](e.Name, e.Payload)
	if err != nil {
		return err
	}
	all := make([]store.Base, 0, len(records))
	for _, r := range records {
		if r.City == "" || !r.Position.Valid() {
			return fmt.Errorf("%w: %s: invalid base %q at %v", protocol.ErrMalformedPayload, e.Name, r.City, r.Position)
		}
		all = append(all, store.Base{Session: r.Session, Nation: r.Name, City: r.City, Position: toLatLon(r.Position)})
	}
	c.store.ApplyFullRosterSnapshot(all)
	return nil
}

func (c *Client) handlePlayerDisconnected(e dispatcher.Event) error {
	p, err := protocol.Decode[protocol.PlayerDisconnected](e.Name, e.Payload)
	if err != nil {
		return err
	}
	if n := c.store.ApplyPlayerLeft(p.Session); n > 0 {
		c.logger.Info("Player left", "bases", n)
	}
	return nil
}

func (c *Client) handleOutcome(o store.Outcome) dispatcher.HandlerFunc {
	return func(dispatcher.Event) error {
		if c.store.ApplyOutcome(o) {
			c.logger.Info("Game finished", "outcome", o)
		}
		return nil
	}
}

// handleMissileLaunched starts one flight per broadcast, including echoes of
// our own launches.
func (c *Client) handleMissileLaunched(e dispatcher.Event) error {
	p, err := protocol.Decode[protocol.MissileLaunched](e.Name, e.Payload)
	if err != nil {
		return err
	}
	if !p.MissileData.StartLatLon.Valid() {
		return fmt.Errorf("%w: %s: invalid start %v", protocol.ErrMalformedPayload, e.Name, p.MissileData.StartLatLon)
	}

	origin := toLatLon(p.MissileData.StartLatLon)
	m, evicted := c.store.ApplyMissileBroadcast(store.Launch{
		Session:      p.Session,
		Origin:       origin,
		City:         p.MissileData.City,
		Velocity:     p.MissileData.InitialVelocity,
		VelocityMode: p.MissileData.VelocityMode,
	})
	for _, id := range evicted {
		c.fleet.Cancel(id)
	}

	t, err := ballistics.New(c.cfg.Physics, origin, ballistics.Velocity{
		Mode:   p.MissileData.VelocityMode,
		Values: p.MissileData.InitialVelocity,
	})
	if err != nil {
		c.store.MarkExpired(m.ID, time.Now())
		return fmt.Errorf("%w: %s: %v", protocol.ErrMalformedPayload, e.Name, err)
	}

	c.fleet.Launch(c.ctx, m.ID, t, c.onTerminate(m, t))
	c.logger.Debug("Missile in flight", "id", m.ID, "session", p.Session, "city", m.City)
	return nil
}

func (c *Client) onTerminate(m store.Missile, t *ballistics.Trajectory) ballistics.TerminateFunc {
	return func(id int64, state ballistics.State, impact geo.Vec3) {
		now := time.Now()
		pos := geo.FromCartesian(impact)

		imp := storage.Impact{
			MissileID:  id,
			Session:    m.Session,
			City:       m.City,
			Origin:     m.Origin,
			Position:   pos,
			LaunchedAt: m.CreatedAt,
			At:         now,
			Path:       t.Samples(),
		}
		switch state {
		case ballistics.Impacted:
			c.store.MarkImpacted(id, pos, now)
			imp.State = store.MissileImpacted
		default:
			c.store.MarkExpired(id, now)
			imp.State = store.MissileExpired
		}

		if dropped := c.impacts.Push(imp); dropped > 0 {
			c.logger.Warn("Impact queue full, oldest impacts dropped", "dropped", dropped)
		}
	}
}
