// Package ballistics integrates missile trajectories around the globe.
//
// A Trajectory is created from a launch origin and an initial velocity and
// advanced one fixed step per Tick. Position samples are appended while the
// missile flies; once it impacts (or exceeds the flight limit) no further
// samples are produced. The buffer stays frozen for the decay delay after
// termination, then drains from the oldest end one sample per tick.
package ballistics

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/missileglobe/globe-client/internal/geo"
)

// Azimuth frames.
const (
	FrameGeographic = "geographic"
	FrameLegacy     = "legacy"
)

// Velocity modes.
const (
	ModeSpherical = "spherical"
	ModeCartesian = "cartesian"
)

var (
	ErrInvalidConfig   = errors.New("invalid ballistics config")
	ErrInvalidVelocity = errors.New("invalid initial velocity")
	ErrInvalidOrigin   = errors.New("invalid launch origin")
)

// Config holds the integrator constants.
type Config struct {
	Gravity          float64
	Radius           float64
	Step             time.Duration
	ImpactThreshold  float64
	MinSampleSpacing float64
	DecayDelay       time.Duration
	MaxFlight        time.Duration
	Frame            string
}

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		Gravity:          9.8,
		Radius:           2,
		Step:             16 * time.Millisecond,
		ImpactThreshold:  0.98,
		MinSampleSpacing: 0.01,
		DecayDelay:       7500 * time.Millisecond,
		MaxFlight:        2 * time.Minute,
		Frame:            FrameGeographic,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	switch {
	case c.Gravity <= 0:
		return fmt.Errorf("%w: gravity must be positive", ErrInvalidConfig)
	case c.Radius <= 0:
		return fmt.Errorf("%w: radius must be positive", ErrInvalidConfig)
	case c.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidConfig)
	case c.ImpactThreshold <= 0 || c.ImpactThreshold >= 1:
		return fmt.Errorf("%w: impact threshold must be in (0,1), got %v", ErrInvalidConfig, c.ImpactThreshold)
	case c.MinSampleSpacing < 0:
		return fmt.Errorf("%w: sample spacing must not be negative", ErrInvalidConfig)
	case c.MaxFlight <= 0:
		return fmt.Errorf("%w: max flight must be positive", ErrInvalidConfig)
	case c.Frame != FrameGeographic && c.Frame != FrameLegacy:
		return fmt.Errorf("%w: unknown frame %q", ErrInvalidConfig, c.Frame)
	}
	return nil
}

// Velocity is the launch velocity, either (magnitude, azimuth, elevation) in
// spherical mode or a raw vector in cartesian mode.
type Velocity struct {
	Mode   string
	Values [3]float64
}

// Validate rejects non-finite components, unknown modes and negative
// spherical magnitudes.
func (v Velocity) Validate() error {
	for _, c := range v.Values {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidVelocity)
		}
	}
	switch v.Mode {
	case ModeCartesian:
	case ModeSpherical, "":
		if v.Values[0] < 0 {
			return fmt.Errorf("%w: negative magnitude", ErrInvalidVelocity)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidVelocity, v.Mode)
	}
	return nil
}

// Vector resolves the velocity into globe space at origin.
func (v Velocity) Vector(origin geo.LatLon, frame string) (geo.Vec3, error) {
	if err := v.Validate(); err != nil {
		return geo.Vec3{}, err
	}
	if v.Mode == ModeCartesian {
		return geo.Vec3{X: v.Values[0], Y: v.Values[1], Z: v.Values[2]}, nil
	}
	if frame == FrameLegacy {
		return geo.LegacyVelocity(origin, v.Values[0], v.Values[1], v.Values[2]), nil
	}
	return geo.GeographicVelocity(origin, v.Values[0], v.Values[1], v.Values[2]), nil
}

// State of a trajectory.
type State int

const (
	InFlight State = iota
	Impacted
	Expired
)

func (s State) String() string {
	switch s {
	case InFlight:
		return "in-flight"
	case Impacted:
		return "impacted"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further samples will be produced.
func (s State) Terminal() bool { return s != InFlight }

// Trajectory is a single missile flight. It is safe for concurrent use.
type Trajectory struct {
	cfg    Config
	origin geo.LatLon

	mu       sync.RWMutex
	position geo.Vec3
	velocity geo.Vec3
	samples  []geo.Vec3
	state    State
	impact   geo.Vec3
	ticks    int
	// terminalTick is the tick on which the flight terminated.
	terminalTick int
}

// New creates a trajectory starting at origin. The first sample is the
// launch point.
func New(cfg Config, origin geo.LatLon, v Velocity) (*Trajectory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !origin.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, origin)
	}
	vel, err := v.Vector(origin, cfg.Frame)
	if err != nil {
		return nil, err
	}
	start := geo.ToCartesian(origin, cfg.Radius)
	return &Trajectory{
		cfg:      cfg,
		origin:   origin,
		position: start,
		velocity: vel,
		samples:  []geo.Vec3{start},
	}, nil
}

// Origin returns the launch coordinate.
func (t *Trajectory) Origin() geo.LatLon { return t.origin }

// Tick advances the simulation by one fixed step: integrates while in
// flight, and once terminated drains the sample buffer after the decay
// delay. It reports whether the trajectory is finished, meaning terminal
// with an empty sample buffer.
func (t *Trajectory) Tick() (done bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ticks++
	if t.state == InFlight {
		t.integrate()
		if t.state.Terminal() {
			t.terminalTick = t.ticks
		}
		return false
	}
	if t.sinceTermination() >= t.cfg.DecayDelay {
		t.decay()
	}
	return len(t.samples) == 0
}

func (t *Trajectory) sinceTermination() time.Duration {
	return time.Duration(t.ticks-t.terminalTick) * t.cfg.Step
}

func (t *Trajectory) elapsed() time.Duration {
	return time.Duration(t.ticks) * t.cfg.Step
}

func (t *Trajectory) integrate() {
	dt := t.cfg.Step.Seconds()

	r := t.position.Length()
	g := t.cfg.Gravity / (r * r)
	accel := t.position.Normalize().Scale(-g)
	t.velocity = t.velocity.Add(accel.Scale(dt))
	t.position = t.position.Add(t.velocity.Scale(dt))

	limit := t.cfg.ImpactThreshold * t.cfg.Radius
	if t.position.LengthSq() < limit*limit {
		t.state = Impacted
		t.impact = t.position
		return
	}
	if t.elapsed() >= t.cfg.MaxFlight {
		t.state = Expired
		t.impact = t.position
		return
	}

	spacing := t.cfg.MinSampleSpacing
	last := t.samples[len(t.samples)-1]
	if last.DistanceSq(t.position) > spacing*spacing {
		t.samples = append(t.samples, t.position)
	}
}

// decay drops the oldest sample.
func (t *Trajectory) decay() {
	if len(t.samples) > 0 {
		t.samples = t.samples[1:]
	}
}

// Samples returns a copy of the current sample buffer.
func (t *Trajectory) Samples() []geo.Vec3 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]geo.Vec3, len(t.samples))
	copy(out, t.samples)
	return out
}

// Len returns the number of buffered samples.
func (t *Trajectory) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// State returns the flight state.
func (t *Trajectory) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Position returns the current head position.
func (t *Trajectory) Position() geo.Vec3 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

// Impact returns the terminal position and whether the trajectory has terminated.
func (t *Trajectory) Impact() (geo.Vec3, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.impact, t.state.Terminal()
}

// Ticks returns the number of steps taken.
func (t *Trajectory) Ticks() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ticks
}
