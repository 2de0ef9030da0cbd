// Package geo provides WGS-84 geometry for GPS tracks: distances, bearings,
// and temporal interpolation of positions.
package geo

import (
	"math"
)

// WGS-84 ellipsoid semi-axes in meters.
const (
	WGS84A = 6378137.0
	WGS84B = 6356752.314245
)

// Point is a single telemetry fix. Time is in seconds, either relative to
// the start of its track or an absolute epoch, depending on the producing
// codec. Alt and Angle are optional.
type Point struct {
	Time  float64
	Lat   float64
	Lon   float64
	Alt   *float64
	Angle *float64
}

// ECEF converts geodetic coordinates (degrees, meters) to earth-centered
// earth-fixed XYZ in meters.
func ECEF(lat, lon, alt float64) (x, y, z float64) {
	a2 := WGS84A * WGS84A
	b2 := WGS84B * WGS84B
	lat = lat * math.Pi / 180
	lon = lon * math.Pi / 180
	cosLat := math.Cos(lat)
	sinLat := math.Sin(lat)
	l := 1.0 / math.Sqrt(a2*cosLat*cosLat+b2*sinLat*sinLat)
	x = (a2*l + alt) * cosLat * math.Cos(lon)
	y = (a2*l + alt) * cosLat * math.Sin(lon)
	z = (b2*l + alt) * sinLat
	return x, y, z
}

// Distance returns the ECEF chord distance in meters between two fixes,
// ignoring altitude.
func Distance(a, b Point) float64 {
	x1, y1, z1 := ECEF(a.Lat, a.Lon, 0.0)
	x2, y2, z2 := ECEF(b.Lat, b.Lon, 0.0)
	dx, dy, dz := x1-x2, y1-y2, z1-z2
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Bearing returns the initial great-circle course from a to b in compass
// degrees [0, 360).
func Bearing(a, b Point) float64 {
	startLat := a.Lat * math.Pi / 180
	startLon := a.Lon * math.Pi / 180
	endLat := b.Lat * math.Pi / 180
	endLon := b.Lon * math.Pi / 180

	dLong := endLon - startLon
	if math.Abs(dLong) > math.Pi {
		if dLong > 0.0 {
			dLong = -(2.0*math.Pi - dLong)
		} else {
			dLong = 2.0*math.Pi + dLong
		}
	}

	y := math.Sin(dLong) * math.Cos(endLat)
	x := math.Cos(startLat)*math.Sin(endLat) - math.Sin(startLat)*math.Cos(endLat)*math.Cos(dLong)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360.0, 360.0)
}

// AbsBearingDelta returns the absolute angular difference between two
// compass bearings, wrapped to [0, 180].
func AbsBearingDelta(b1, b2 float64) float64 {
	d := math.Abs(b1 - b2)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// MaxDistanceFromStart returns the radius of a track in meters, measured as
// the farthest any point strays from the first one.
func MaxDistanceFromStart(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	var max float64
	for _, p := range points[1:] {
		if d := Distance(points[0], p); d > max {
			max = d
		}
	}
	return max
}

// AvgSpeed returns the mean ground speed of a track in meters per second.
// A track that covers distance in zero elapsed time yields +Inf.
func AvgSpeed(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	elapsed := points[len(points)-1].Time - points[0].Time
	if elapsed <= 0 {
		if total == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return total / elapsed
}
