package geo

import "math"

// Frame is a local tangent basis at a point on the globe.
type Frame struct {
	Up    Vec3
	North Vec3
	East  Vec3
}

// legacyAzimuthOffset is the empirical bearing correction of the legacy frame.
const legacyAzimuthOffset = 94.0

// GeographicFrame returns the true north/east/up basis at ll.
// North is the derivative of the projection along latitude.
func GeographicFrame(ll LatLon) Frame {
	lat, lon := radians(ll.Lat), radians(ll.Lon)
	up := ToCartesian(ll, 1)
	north := Vec3{
		X: -math.Sin(lat) * math.Cos(lon),
		Y: math.Cos(lat),
		Z: math.Sin(lat) * math.Sin(lon),
	}
	return Frame{Up: up, North: north, East: north.Cross(up)}
}

// LegacyFrame returns the basis whose north is the global Z axis projected
// onto the tangent plane. It degenerates where the tangent plane is
// orthogonal to Z and falls back to GeographicFrame there.
func LegacyFrame(ll LatLon) Frame {
	up := ToCartesian(ll, 1)
	z := Vec3{Z: 1}
	north := z.Sub(up.Scale(z.Dot(up)))
	if north.LengthSq() < 1e-12 {
		return GeographicFrame(ll)
	}
	north = north.Normalize()
	return Frame{Up: up, North: north, East: north.Cross(up)}
}

// Direction returns the unit vector for a compass bearing and elevation, both in degrees.
func (f Frame) Direction(azimuth, elevation float64) Vec3 {
	az, el := radians(azimuth), radians(elevation)
	horizontal := math.Cos(el)
	return f.North.Scale(horizontal * math.Cos(az)).
		Add(f.East.Scale(horizontal * math.Sin(az))).
		Add(f.Up.Scale(math.Sin(el)))
}

// GeographicVelocity converts (magnitude, azimuth, elevation) at origin into
// a cartesian velocity using true north.
func GeographicVelocity(origin LatLon, magnitude, azimuth, elevation float64) Vec3 {
	return GeographicFrame(origin).Direction(azimuth, elevation).Scale(magnitude)
}

// LegacyVelocity converts (magnitude, azimuth, elevation) using the legacy
// frame and its longitude dependent bearing correction.
func LegacyVelocity(origin LatLon, magnitude, azimuth, elevation float64) Vec3 {
	corrected := azimuth + legacyAzimuthOffset - origin.Lon
	return LegacyFrame(origin).Direction(corrected, elevation).Scale(magnitude)
}
