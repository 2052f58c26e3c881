// Package launch turns a user or automation launch command into exactly one
// missile:launch event. It never creates a local missile; the server echo
// does that.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/nation"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

var (
	ErrNoBaseAssigned = errors.New("no base assigned")
	ErrGameOver       = errors.New("game is over")
)

// Emitter sends events to the server.
type Emitter interface {
	Emit(event string, payload any) error
}

// State is the part of the store the pipeline reads.
type State interface {
	OwnBases() map[string]geo.LatLon
	ClaimedNation() string
	Outcome() store.Outcome
}

// Request is one launch command.
type Request struct {
	City         string     `json:"city,omitempty"`
	Velocity     [3]float64 `json:"initialVelocity"`
	VelocityMode string     `json:"velocityMode,omitempty"`
}

// Pipeline validates launch commands and emits them.
type Pipeline struct {
	emitter Emitter
	state   State
	catalog *nation.Catalog
	logger  *slog.Logger
}

// New creates a launch pipeline.
func New(emitter Emitter, state State, catalog *nation.Catalog, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		emitter: emitter,
		state:   state,
		catalog: catalog,
		logger:  logger.With("component", "launch"),
	}
}

// Launch emits one missile:launch from an owned base. Precondition failures
// emit nothing.
func (p *Pipeline) Launch(ctx context.Context, req Request) (protocol.LaunchRequest, error) {
	if err := ctx.Err(); err != nil {
		return protocol.LaunchRequest{}, err
	}
	if p.state.Outcome().Terminal() {
		p.logger.Warn("Launch ignored, game is over", "outcome", p.state.Outcome())
		return protocol.LaunchRequest{}, ErrGameOver
	}

	v := ballistics.Velocity{Mode: req.VelocityMode, Values: req.Velocity}
	if err := v.Validate(); err != nil {
		return protocol.LaunchRequest{}, err
	}

	city, origin, err := p.Origin(req.City)
	if err != nil {
		p.logger.Warn("Launch ignored, no base assigned")
		return protocol.LaunchRequest{}, err
	}

	msg := protocol.LaunchRequest{
		StartLatLon:     protocol.LatLon{origin.Lat, origin.Lon},
		InitialVelocity: req.Velocity,
		VelocityMode:    req.VelocityMode,
		City:            city,
	}
	if err := p.emitter.Emit(protocol.EventMissileLaunch, msg); err != nil {
		return protocol.LaunchRequest{}, fmt.Errorf("launch: %w", err)
	}

	p.logger.Info("Missile launch sent", "city", city, "velocity", req.Velocity, "mode", req.VelocityMode)
	return msg, nil
}

// Origin picks the launch base: the requested city if owned, else the
// capital of the claimed nation if owned, else the lexicographically first
// owned city.
func (p *Pipeline) Origin(requested string) (string, geo.LatLon, error) {
	bases := p.state.OwnBases()
	if len(bases) == 0 {
		return "", geo.LatLon{}, ErrNoBaseAssigned
	}

	if pos, ok := bases[requested]; ok && requested != "" {
		return requested, pos, nil
	}
	if requested != "" {
		p.logger.Debug("Requested city not owned, using default origin", "city", requested)
	}

	if claimed := p.state.ClaimedNation(); claimed != "" && p.catalog != nil {
		if n, err := p.catalog.Get(claimed); err == nil {
			if pos, ok := bases[n.Capital]; ok {
				return n.Capital, pos, nil
			}
		}
	}

	cities := make([]string, 0, len(bases))
	for c := range bases {
		cities = append(cities, c)
	}
	sort.Strings(cities)
	return cities[0], bases[cities[0]], nil
}
