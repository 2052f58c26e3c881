// Package store merges server pushed game state into a local view.
//
// Every mutation is a total merge: well-formed input never fails, and replays
// converge to the same state. The store performs no I/O; callers own the
// connection and the flight scheduler.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/missileglobe/globe-client/internal/geo"
)

// Outcome of the game for the local player.
type Outcome int

const (
	Ongoing Outcome = iota
	Defeat
	Victory
)

func (o Outcome) String() string {
	switch o {
	case Defeat:
		return "defeat"
	case Victory:
		return "victory"
	default:
		return "ongoing"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ongoing":
		*o = Ongoing
	case "defeat":
		*o = Defeat
	case "victory":
		*o = Victory
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// Terminal reports whether the outcome can no longer change.
func (o Outcome) Terminal() bool { return o != Ongoing }

// MissileState mirrors the flight state of a missile.
type MissileState string

const (
	MissileInFlight MissileState = "in-flight"
	MissileImpacted MissileState = "impacted"
	MissileExpired  MissileState = "expired"
)

// Base is a launch site owned by a session.
type Base struct {
	Session  string     `json:"session"`
	Nation   string     `json:"nation"`
	City     string     `json:"city"`
	Position geo.LatLon `json:"position"`
}

// Launch is a missile broadcast as received from the server.
type Launch struct {
	Session      string
	Origin       geo.LatLon
	City         string
	Velocity     [3]float64
	VelocityMode string
}

// Missile is a projectile created from a launch broadcast.
type Missile struct {
	ID             int64        `json:"id"`
	Session        string       `json:"session"`
	Origin         geo.LatLon   `json:"origin"`
	City           string       `json:"city,omitempty"`
	Velocity       [3]float64   `json:"velocity"`
	VelocityMode   string       `json:"velocityMode,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	State          MissileState `json:"state"`
	ImpactPosition *geo.LatLon  `json:"impactPosition,omitempty"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
}

func (m Missile) finished() bool { return m.State != MissileInFlight }

// Config bounds the missile set.
type Config struct {
	RetainAfterImpact time.Duration
	MaxMissiles       int
}

// DefaultConfig returns the default retention policy.
func DefaultConfig() Config {
	return Config{
		RetainAfterImpact: 10 * time.Second,
		MaxMissiles:       256,
	}
}

// Store is the single mutable view of the game. Safe for concurrent use.
type Store struct {
	cfg Config
	now func() time.Time

	mu            sync.RWMutex
	localSession  string
	claimedNation string
	own           map[string]geo.LatLon
	bases         []Base
	taken         []string
	missiles      []Missile
	nextID        int64
	outcome       Outcome
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(cfg Config, opts ...Option) *Store {
	s := &Store{
		cfg: cfg,
		now: time.Now,
		own: make(map[string]geo.LatLon),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetLocalSession records the session token of this client.
func (s *Store) SetLocalSession(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSession = session
}

// LocalSession returns the session token of this client.
func (s *Store) LocalSession() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localSession
}

// SetClaimedNation records the nation claimed by this client.
func (s *Store) SetClaimedNation(nation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimedNation = nation
}

// ClaimedNation returns the nation claimed by this client.
func (s *Store) ClaimedNation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimedNation
}

// ApplyBaseAssignment replaces the own bases wholesale when session is the
// local session. It reports whether the assignment was applied.
func (s *Store) ApplyBaseAssignment(session string, basesByCity map[string]geo.LatLon) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == "" || session != s.localSession {
		return false
	}
	s.own = make(map[string]geo.LatLon, len(basesByCity))
	for city, pos := range basesByCity {
		s.own[city] = pos
	}
	return true
}

// ApplyPlayerJoined upserts one base per (session, city). Existing records
// for the cities present in basesByCity are replaced by the new coordinates.
func (s *Store) ApplyPlayerJoined(session, nation string, basesByCity map[string]geo.LatLon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.bases[:0:0]
	for _, b := range s.bases {
		if b.Session == session {
			if _, replaced := basesByCity[b.City]; replaced {
				continue
			}
		}
		kept = append(kept, b)
	}
	for _, city := range sortedCities(basesByCity) {
		kept = append(kept, Base{Session: session, Nation: nation, City: city, Position: basesByCity[city]})
	}
	s.bases = kept
}

// ApplyFullRosterSnapshot replaces the shared base list. Duplicate
// (session, city) pairs keep the last occurrence.
func (s *Store) ApplyFullRosterSnapshot(all []Base) {
	type key struct{ session, city string }
	last := make(map[key]int, len(all))
	for i, b := range all {
		last[key{b.Session, b.City}] = i
	}
	bases := make([]Base, 0, len(last))
	for i, b := range all {
		if last[key{b.Session, b.City}] == i {
			bases = append(bases, b)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases = bases
}

// ApplyPlayerLeft removes every shared base of session.
func (s *Store) ApplyPlayerLeft(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.bases[:0:0]
	for _, b := range s.bases {
		if b.Session != session {
			kept = append(kept, b)
		}
	}
	removed := len(s.bases) - len(kept)
	s.bases = kept
	return removed
}

// ApplyRoster replaces the set of taken nations.
func (s *Store) ApplyRoster(taken []string) {
	cp := append([]string(nil), taken...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taken = cp
}

// ApplyMissileBroadcast appends a new in-flight missile. When the set grows
// beyond the configured cap the oldest finished missile is evicted first,
// then the oldest in flight. Evicted IDs are returned.
func (s *Store) ApplyMissileBroadcast(l Launch) (Missile, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m := Missile{
		ID:           s.nextID,
		Session:      l.Session,
		Origin:       l.Origin,
		City:         l.City,
		Velocity:     l.Velocity,
		VelocityMode: l.VelocityMode,
		CreatedAt:    s.now(),
		State:        MissileInFlight,
	}
	s.missiles = append(s.missiles, m)

	var evicted []int64
	for s.cfg.MaxMissiles > 0 && len(s.missiles) > s.cfg.MaxMissiles {
		idx := 0
		for i, cur := range s.missiles {
			if cur.finished() {
				idx = i
				break
			}
		}
		evicted = append(evicted, s.missiles[idx].ID)
		s.missiles = append(s.missiles[:idx], s.missiles[idx+1:]...)
	}
	return m, evicted
}

// ApplyOutcome moves Ongoing to a terminal outcome. Once terminal, further
// calls are ignored. It reports whether the outcome changed.
func (s *Store) ApplyOutcome(o Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome.Terminal() || !o.Terminal() {
		return false
	}
	s.outcome = o
	return true
}

// MarkImpacted records the impact of an in-flight missile.
func (s *Store) MarkImpacted(id int64, pos geo.LatLon, at time.Time) bool {
	return s.finish(id, MissileImpacted, &pos, at)
}

// MarkExpired records that a missile exceeded its flight limit.
func (s *Store) MarkExpired(id int64, at time.Time) bool {
	return s.finish(id, MissileExpired, nil, at)
}

func (s *Store) finish(id int64, state MissileState, pos *geo.LatLon, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.missiles {
		m := &s.missiles[i]
		if m.ID != id {
			continue
		}
		if m.finished() {
			return false
		}
		m.State = state
		m.ImpactPosition = pos
		m.FinishedAt = &at
		return true
	}
	return false
}

// Evict removes finished missiles older than the retention window and
// returns their IDs.
func (s *Store) Evict(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []int64
	kept := s.missiles[:0]
	for _, m := range s.missiles {
		if m.finished() && m.FinishedAt != nil && now.Sub(*m.FinishedAt) >= s.cfg.RetainAfterImpact {
			evicted = append(evicted, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.missiles = kept
	return evicted
}

// OwnBases returns a copy of the local bases keyed by city.
func (s *Store) OwnBases() map[string]geo.LatLon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]geo.LatLon, len(s.own))
	for city, pos := range s.own {
		out[city] = pos
	}
	return out
}

// OwnCities returns the local base cities in lexicographic order.
func (s *Store) OwnCities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedCities(s.own)
}

// AllBases returns a copy of the shared base list.
func (s *Store) AllBases() []Base {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Base(nil), s.bases...)
}

// RemoteBases returns the shared bases not owned by the local session.
func (s *Store) RemoteBases() []Base {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Base
	for _, b := range s.bases {
		if b.Session != s.localSession {
			out = append(out, b)
		}
	}
	return out
}

// ActiveMissiles returns a copy of the retained missile set in creation order.
func (s *Store) ActiveMissiles() []Missile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Missile(nil), s.missiles...)
}

// Missile returns the missile with the given id.
func (s *Store) Missile(id int64) (Missile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.missiles {
		if m.ID == id {
			return m, true
		}
	}
	return Missile{}, false
}

// Outcome returns the current game outcome.
func (s *Store) Outcome() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// TakenNations returns a copy of the roster.
func (s *Store) TakenNations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.taken...)
}

// Snapshot is a consistent read-only copy of the whole store.
type Snapshot struct {
	LocalSession  string                `json:"localSession"`
	ClaimedNation string                `json:"claimedNation"`
	OwnBases      map[string]geo.LatLon `json:"ownBases"`
	Bases         []Base                `json:"bases"`
	TakenNations  []string              `json:"takenNations"`
	Missiles      []Missile             `json:"missiles"`
	Outcome       Outcome               `json:"outcome"`
	TakenAt       time.Time             `json:"takenAt"`
}

// Snapshot copies the store under a single read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	own := make(map[string]geo.LatLon, len(s.own))
	for city, pos := range s.own {
		own[city] = pos
	}
	return Snapshot{
		LocalSession:  s.localSession,
		ClaimedNation: s.claimedNation,
		OwnBases:      own,
		Bases:         append([]Base{}, s.bases...),
		TakenNations:  append([]string{}, s.taken...),
		Missiles:      append([]Missile{}, s.missiles...),
		Outcome:       s.outcome,
		TakenAt:       s.now(),
	}
}

func sortedCities(m map[string]geo.LatLon) []string {
	cities := make([]string, 0, len(m))
	for city := range m {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}
