// Package protocol defines the event catalog exchanged with the game server
// over the persistent connection and the side-channel HTTP endpoints.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Event name constants matching the server protocol.
const (
	EventWhoami        = "whoami"
	EventWhoamiSuccess = "whoami:success"
	EventWhoamiFailure = "whoami:failure"

	EventSelectState = "selection:selectState"
	EventTakenStates = "selection:takenStates"

	EventPlayerJoin         = "player:join"
	EventBasePosition       = "player:basePosition"
	EventPlayerJoined       = "player:joined"
	EventAllBases           = "player:allBases"
	EventPlayerDisconnected = "player:disconnected"

	EventMissileLaunch   = "missile:launch"
	EventMissileLaunched = "missile:launched"

	EventGameOver = "game:gameover"
	EventGameWin  = "game:win"
)

// Velocity modes carried in LaunchRequest.VelocityMode.
const (
	VelocitySpherical = "spherical"
	VelocityCartesian = "cartesian"
)

// ErrMalformedPayload is returned when an event payload does not have the
// expected shape.
var ErrMalformedPayload = errors.New("malformed payload")

// Envelope wraps all messages sent over the persistent connection.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LatLon is a geodetic coordinate encoded as [lat, lon] in degrees.
type LatLon [2]float64

// Valid reports whether both components are finite and in range.
func (l LatLon) Valid() bool {
	lat, lon := l[0], l[1]
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// WhoamiSuccess is the server's answer to a recognised session token.
type WhoamiSuccess struct {
	Name string `json:"name"`
}

// JoinAnnouncement is sent once per joined connection (and replayed on reconnect).
type JoinAnnouncement struct {
	Session string `json:"session"`
	Name    string `json:"name"`
}

// BasePosition assigns bases to a session. Assignment is total, not incremental.
type BasePosition struct {
	Session        string            `json:"session"`
	BasesPositions map[string]LatLon `json:"basesPositions"`
}

// PlayerJoined is broadcast when any player joins.
type PlayerJoined struct {
	Session        string            `json:"session"`
	Name           string            `json:"name"`
	BasesPositions map[string]LatLon `json:"basesPositions"`
}

// BaseRecord is one entry of the periodic full roster snapshot.
type BaseRecord struct {
	Session  string `json:"session"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Position LatLon `json:"position"`
}

// PlayerDisconnected is broadcast when a player's connection goes away.
type PlayerDisconnected struct {
	Session string `json:"session"`
}

// LaunchRequest is the missile:launch payload, echoed back inside MissileLaunched.
// InitialVelocity is [magnitude, azimuthDeg, elevationDeg] in spherical mode
// and [x, y, z] in cartesian mode.
type LaunchRequest struct {
	StartLatLon     LatLon     `json:"startLatLon"`
	InitialVelocity [3]float64 `json:"initialVelocity"`
	VelocityMode    string     `json:"velocityMode,omitempty"`
	City            string     `json:"city,omitempty"`
}

// MissileLaunched is the server broadcast of an accepted launch.
type MissileLaunched struct {
	Session     string        `json:"session"`
	MissileData LaunchRequest `json:"missileData"`
}

// SessionResponse is returned by GET /session.
type SessionResponse struct {
	Session string `json:"session"`
}

// LaunchParameters is the automation document served at /script/parameters.json.
type LaunchParameters struct {
	ID              string     `json:"id,omitempty"`
	City            string     `json:"city,omitempty"`
	InitialVelocity [3]float64 `json:"initialVelocity"`
	VelocityMode    string     `json:"velocityMode,omitempty"`
}

// SaveCoordinates is the body of POST /api/save-coordinates.
type SaveCoordinates struct {
	Bases             []BaseRecord      `json:"bases"`
	OwnBasesPositions map[string]LatLon `json:"ownBasesPositions"`
}

// Marshal builds a JSON-encoded Envelope from an event name and payload.
// A nil payload produces an envelope without a payload field.
func Marshal(event string, payload any) ([]byte, error) {
	env := Envelope{Type: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return data, nil
}

// Decode unmarshals an event payload into T.
func Decode[T any](event string, payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, fmt.Errorf("%w: %s: empty payload", ErrMalformedPayload, event)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, event, err)
	}
	return v, nil
}

// ValidatePositions rejects position maps containing out-of-range coordinates.
func ValidatePositions(event string, positions map[string]LatLon) error {
	for city, pos := range positions {
		if city == "" {
			return fmt.Errorf("%w: %s: empty city name", ErrMalformedPayload, event)
		}
		if !pos.Valid() {
			return fmt.Errorf("%w: %s: invalid position for %q: %v", ErrMalformedPayload, event, city, pos)
		}
	}
	return nil
}
