package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_WrapsPayload(t *testing.T) {
	data, err := Marshal(EventPlayerJoin, JoinAnnouncement{Session: "abc", Name: "France"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventPlayerJoin, env.Type)
	assert.JSONEq(t, `{"session":"abc","name":"France"}`, string(env.Payload))
}

func TestMarshal_NilPayloadOmitted(t *testing.T) {
	data, err := Marshal(EventGameOver, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"game:gameover"}`, string(data))
}

func TestDecode_MissileLaunched(t *testing.T) {
	raw := json.RawMessage(`{"session":"s1","missileData":{"startLatLon":[48.85,2.35],"initialVelocity":[1.2,45,30]}}`)

	m, err := Decode[MissileLaunched](EventMissileLaunched, raw)
	require.NoError(t, err)
	assert.Equal(t, "s1", m.Session)
	assert.Equal(t, LatLon{48.85, 2.35}, m.MissileData.StartLatLon)
	assert.Equal(t, [3]float64{1.2, 45, 30}, m.MissileData.InitialVelocity)
	assert.Empty(t, m.MissileData.VelocityMode)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode[BasePosition](EventBasePosition, json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPayload))

	_, err = Decode[BasePosition](EventBasePosition, nil)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestLatLon_Valid(t *testing.T) {
	assert.True(t, LatLon{0, 0}.Valid())
	assert.True(t, LatLon{-90, 180}.Valid())
	assert.False(t, LatLon{91, 0}.Valid())
	assert.False(t, LatLon{0, -181}.Valid())
	assert.False(t, LatLon{math.NaN(), 0}.Valid())
	assert.False(t, LatLon{0, math.Inf(1)}.Valid())
}

func TestValidatePositions(t *testing.T) {
	require.NoError(t, ValidatePositions(EventBasePosition, map[string]LatLon{"Paris": {48.85, 2.35}}))

	err := ValidatePositions(EventBasePosition, map[string]LatLon{"Nowhere": {120, 0}})
	assert.True(t, errors.Is(err, ErrMalformedPayload))

	err = ValidatePositions(EventBasePosition, map[string]LatLon{"": {0, 0}})
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}

func TestSchema_DescribesCatalog(t *testing.T) {
	s := Schema()
	require.NotNil(t, s)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "missile:launched")
	assert.Contains(t, string(data), "Globe client protocol")
}
