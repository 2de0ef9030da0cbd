// Package gpsfilter removes implausible fixes from GPS tracks.
//
// Consumer receivers emit occasional wild points, most often right after a
// cold start. The filter drops points whose reported fix mode or dilution
// of precision is out of range, splits the track wherever consecutive
// points sit farther apart than the upper whisker of all hop distances,
// merges fragments that reconnect at a believable ground speed, and keeps
// the largest cluster.
package gpsfilter

import (
	"fmt"
	"math"
	"sort"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/telemetry"
)

// Defaults tuned for GoPro receivers.
const (
	// MaxDOP100 is the highest accepted dilution of precision, as reported
	// by the device multiplied by 100.
	MaxDOP100 = 1000

	// GPSPrecision is the nominal receiver precision in meters.
	GPSPrecision = 15

	// StationaryRadius is the track radius in meters below which the
	// camera is considered parked.
	StationaryRadius = 10
)

// AcceptedFixes holds the fix modes kept by default: 2D and 3D locks.
var AcceptedFixes = []telemetry.GPSFix{telemetry.GPSFix2D, telemetry.GPSFix3D}

// A Decider reports a property of two consecutive track points. It is used
// both for splitting tracks and for merging track fragments.
type Decider func(p1, p2 telemetry.GPSPoint) bool

// PointSpeed returns the ground speed in m/s needed to move from p1 to p2,
// or +Inf when both share a timestamp.
func PointSpeed(p1, p2 telemetry.GPSPoint) float64 {
	s := geo.Distance(p1.Point, p2.Point)
	t := math.Abs(p2.Time - p1.Time)
	if t == 0 {
		return math.Inf(1)
	}
	return s / t
}

// medianSorted expects values to be sorted and non-empty.
func medianSorted(values []float64) float64 {
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// UpperWhisker returns Q3 + 1.5*IQR of the values. Anything above it is
// considered an outlier. See
// https://en.wikipedia.org/wiki/Interquartile_range
func UpperWhisker(values []float64) (float64, error) {
	n := len(values)
	if n < 2 {
		return 0, fmt.Errorf("whisker needs at least 2 values, got %d", n)
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	medianIdx := n / 2
	q1 := medianSorted(sorted[:medianIdx])
	var q3 float64
	if n%2 == 1 {
		// for values [0 1 2 3 4], q3 is the median of [3 4]
		q3 = medianSorted(sorted[medianIdx+1:])
	} else {
		// for values [0 1 2 3], q3 is the median of [2 3]
		q3 = medianSorted(sorted[medianIdx:])
	}
	return q3 + (q3-q1)*1.5, nil
}

// SplitIf cuts points into contiguous runs, starting a new run wherever
// split decides true for two consecutive points.
func SplitIf(points []telemetry.GPSPoint, split Decider) [][]telemetry.GPSPoint {
	var sequences [][]telemetry.GPSPoint
	for idx, point := range points {
		if len(sequences) > 0 && !split(points[idx-1], point) {
			last := len(sequences) - 1
			sequences[last] = append(sequences[last], point)
		} else {
			sequences = append(sequences, []telemetry.GPSPoint{point})
		}
	}
	return sequences
}

// DistanceGT returns a Decider that is true when two points lie farther
// apart than maxDistance meters.
func DistanceGT(maxDistance float64) Decider {
	return func(p1, p2 telemetry.GPSPoint) bool {
		return geo.Distance(p1.Point, p2.Point) > maxDistance
	}
}

// SpeedLE returns a Decider that is true when moving between two points
// requires at most maxSpeed m/s.
func SpeedLE(maxSpeed float64) Decider {
	return func(p1, p2 telemetry.GPSPoint) bool {
		return PointSpeed(p1, p2) <= maxSpeed
	}
}

// Both combines two Deciders with AND.
func Both(d1, d2 Decider) Decider {
	return func(p1, p2 telemetry.GPSPoint) bool {
		return d1(p1, p2) && d2(p1, p2)
	}
}

// Merge clusters time-ordered track fragments. It is one-dimensional
// DBSCAN with minPts=1: each fragment greedily claims the first later
// unclaimed fragment whose boundary points pass merge. Clusters come back
// in input order.
func Merge(sequences [][]telemetry.GPSPoint, merge Decider) [][]telemetry.GPSPoint {
	mergeto := make([]int, len(sequences))
	for i := range mergeto {
		mergeto[i] = -1
	}
	for left := range sequences {
		if mergeto[left] < 0 {
			mergeto[left] = left
		}
		// claim the first fragment this one can reach
		for right := left + 1; right < len(sequences); right++ {
			if mergeto[right] >= 0 {
				continue
			}
			if merge(sequences[left][len(sequences[left])-1], sequences[right][0]) {
				mergeto[right] = mergeto[left]
				break
			}
		}
	}

	clusters := make(map[int][]telemetry.GPSPoint)
	var order []int
	for idx, s := range sequences {
		root := mergeto[idx]
		if _, ok := clusters[root]; !ok {
			order = append(order, root)
		}
		clusters[root] = append(clusters[root], s...)
	}

	out := make([][]telemetry.GPSPoint, 0, len(order))
	for _, root := range order {
		out = append(out, clusters[root])
	}
	return out
}

// FindMajority returns the cluster with the most points, preferring the
// earlier one on ties.
func FindMajority(sequences [][]telemetry.GPSPoint) []telemetry.GPSPoint {
	if len(sequences) == 0 {
		return nil
	}
	ranked := make([][]telemetry.GPSPoint, len(sequences))
	copy(ranked, sequences)
	sort.SliceStable(ranked, func(i, j int) bool {
		return len(ranked[i]) > len(ranked[j])
	})
	return ranked[0]
}

// FilterOutliers removes statistically outlying points. The track splits
// wherever a hop exceeds the upper whisker of all hop distances (floored
// at twice GPSPrecision), fragments that reconnect within the upper
// whisker of the device-reported ground speeds merge back, and the largest
// cluster wins. Tracks with fewer than two hops or fewer than two reported
// ground speeds come back unchanged.
func FilterOutliers(points []telemetry.GPSPoint) []telemetry.GPSPoint {
	return FilterOutliersPrecision(points, GPSPrecision)
}

// FilterOutliersPrecision is FilterOutliers with an explicit receiver
// precision in meters.
func FilterOutliersPrecision(points []telemetry.GPSPoint, precision float64) []telemetry.GPSPoint {
	distances := make([]float64, 0, len(points))
	for i := 1; i < len(points); i++ {
		distances = append(distances, geo.Distance(points[i-1].Point, points[i].Point))
	}
	if len(distances) < 2 {
		return points
	}
	maxDistance, err := UpperWhisker(distances)
	if err != nil {
		return points
	}
	// a hop spans two fixes, hence double the precision
	maxDistance = math.Max(precision+precision, maxDistance)
	sequences := SplitIf(points, DistanceGT(maxDistance))

	var groundSpeeds []float64
	for _, p := range points {
		if p.GroundSpeed != nil {
			groundSpeeds = append(groundSpeeds, *p.GroundSpeed)
		}
	}
	if len(groundSpeeds) < 2 {
		return points
	}
	maxSpeed, err := UpperWhisker(groundSpeeds)
	if err != nil {
		return points
	}
	return FindMajority(Merge(sequences, SpeedLE(maxSpeed)))
}

// FilterNoisyPoints drops points whose fix mode is not in fixes or whose
// dilution of precision exceeds maxDOP100, then strips outliers with
// FilterOutliers. Points missing a fix or a precision value are dropped.
func FilterNoisyPoints(points []telemetry.GPSPoint, fixes []telemetry.GPSFix, maxDOP100 float64) []telemetry.GPSPoint {
	kept := make([]telemetry.GPSPoint, 0, len(points))
	for _, p := range points {
		if p.Fix == nil || !fixAccepted(fixes, *p.Fix) {
			continue
		}
		if p.Precision == nil || *p.Precision > maxDOP100 {
			continue
		}
		kept = append(kept, p)
	}
	return FilterOutliers(kept)
}

func fixAccepted(fixes []telemetry.GPSFix, fix telemetry.GPSFix) bool {
	for _, f := range fixes {
		if f == fix {
			return true
		}
	}
	return false
}

// IsStationary reports whether a track never strays radius meters or more
// from its first point. Empty tracks count as stationary.
func IsStationary(points []geo.Point, radius float64) bool {
	return geo.MaxDistanceFromStart(points) < radius
}
