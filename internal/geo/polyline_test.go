package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoint3857_Origin(t *testing.T) {
	point, err := Point3857(LatLon{0, 0}, 0.5)
	require.NoError(t, err)

	coords, ok := point.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 0.0, coords.X, 1e-6)
	assert.InDelta(t, 0.0, coords.Y, 1e-6)
	assert.Equal(t, 0.5, coords.Z)
}

func TestPoint3857_Paris(t *testing.T) {
	point, err := Point3857(LatLon{48.8566, 2.3522}, 0)
	require.NoError(t, err)

	coords, ok := point.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 261845.0, coords.X, 100)
	assert.InDelta(t, 6250566.0, coords.Y, 100)
}

func TestPoint3857_Invalid(t *testing.T) {
	_, err := Point3857(LatLon{100, 0}, 0)
	assert.True(t, errors.Is(err, ErrInvalidCoordinates))
}

func TestTrajectoryLineString(t *testing.T) {
	samples := []Vec3{
		ToCartesian(LatLon{0, 0}, 2),
		ToCartesian(LatLon{1, 1}, 2.1),
		ToCartesian(LatLon{2, 2}, 2),
	}
	ls, err := TrajectoryLineString(samples, 2)
	require.NoError(t, err)

	seq := ls.Coordinates()
	require.Equal(t, 3, seq.Length())
	assert.InDelta(t, 0.1, seq.Get(1).Z, 1e-9)
}

func TestTrajectoryLineString_TooFewPoints(t *testing.T) {
	_, err := TrajectoryLineString([]Vec3{{X: 2}}, 2)
	require.Error(t, err)
}
