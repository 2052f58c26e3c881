package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Persisted positions are always stored as EPSG:3857 so SQLite, which has no
// spatial awareness, can still round trip them through the WKB scanner.

// maxMercatorLat bounds latitudes before projecting, web mercator diverges at the poles.
const maxMercatorLat = 85.05112878

// Point3857 projects a geodetic coordinate to a web mercator point.
// Altitude is carried in Z.
func Point3857(ll LatLon, altitude float64) (geom.Point, error) {
	if !ll.Valid() {
		return geom.NewEmptyPoint(geom.DimXYZ), ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(ll.Lon, clamp(ll.Lat, -maxMercatorLat, maxMercatorLat), 0)
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    altitude,
			Type: geom.CoordinatesType(geom.DimXYZ),
		},
	), nil
}

// TrajectoryLineString converts globe-space samples into a 3857 line string.
// Each sample contributes its geodetic position; altitude above the sphere
// of the given radius is kept in Z.
func TrajectoryLineString(samples []Vec3, radius float64) (geom.LineString, error) {
	if len(samples) < 2 {
		return geom.LineString{}, fmt.Errorf("trajectory must have at least 2 points, got %d", len(samples))
	}

	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)

	flatCoords := make([]float64, 0, len(samples)*3)
	for _, s := range samples {
		ll := FromCartesian(s)
		x, y, _ := f(ll.Lon, clamp(ll.Lat, -maxMercatorLat, maxMercatorLat), 0)
		flatCoords = append(flatCoords, x, y, s.Length()-radius)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}
