package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Globe convention
// All cartesian positions share one projection: phi = 90-lat, theta = lon+180,
// x = -R sin(phi) cos(theta), y = R cos(phi), z = R sin(phi) sin(theta).
// Y is the polar axis. Bases and missiles must both go through ToCartesian.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// LatLon is a geodetic coordinate in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is finite and in range.
func (l LatLon) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lon, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// LatLonFromString parses a "lat,lon" string.
func LatLonFromString(coords string) (LatLon, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return LatLon{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLon{}, ErrInvalidCoordinates
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLon{}, ErrInvalidCoordinates
	}
	ll := LatLon{Lat: lat, Lon: lon}
	if !ll.Valid() {
		return LatLon{}, ErrInvalidCoordinates
	}
	return ll, nil
}

// Vec3 is a cartesian vector in globe space.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float64   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) LengthSq() float64    { return v.Dot(v) }
func (v Vec3) Length() float64      { return math.Sqrt(v.LengthSq()) }

// Cross returns v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Normalize returns the unit vector of v, or the zero vector when v is zero.
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// DistanceSq returns the squared distance between two points.
func (v Vec3) DistanceSq(o Vec3) float64 { return v.Sub(o).LengthSq() }

// Array returns the vector as [x, y, z].
func (v Vec3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// ToCartesian projects a geodetic coordinate onto a sphere of the given radius.
func ToCartesian(ll LatLon, radius float64) Vec3 {
	phi := radians(90 - ll.Lat)
	theta := radians(ll.Lon + 180)
	return Vec3{
		X: -radius * math.Sin(phi) * math.Cos(theta),
		Y: radius * math.Cos(phi),
		Z: radius * math.Sin(phi) * math.Sin(theta),
	}
}

// FromCartesian is the inverse of ToCartesian. The radius of p is ignored.
// Longitude is normalized to [-180, 180].
func FromCartesian(p Vec3) LatLon {
	r := p.Length()
	if r == 0 {
		return LatLon{}
	}
	lat := degrees(math.Asin(clamp(p.Y/r, -1, 1)))
	lon := degrees(math.Atan2(p.Z, -p.X)) - 180
	if lon < -180 {
		lon += 360
	}
	// Poles have no meaningful longitude.
	if math.Abs(p.X) < 1e-12 && math.Abs(p.Z) < 1e-12 {
		lon = 0
	}
	return LatLon{Lat: lat, Lon: lon}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
