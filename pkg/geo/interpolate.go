package geo

import (
	"errors"
	"fmt"
	"sort"
)

// Interpolate maps t onto the track by blending linearly between the two
// points bracketing t. Outside the track it extrapolates from the first or
// last pair; a single-point track repeats its point. The track must be
// sorted ascending by time. The result's bearing is the course from the
// bracketing pair, and its altitude is set only when both sides carry one.
func Interpolate(track []Point, t float64) (Point, error) {
	if len(track) == 0 {
		return Point{}, errors.New("interpolate on an empty track")
	}
	return interpolateSegment(track, t), nil
}

func interpolateSegment(track []Point, t float64) Point {
	idx := sort.Search(len(track), func(i int) bool {
		return track[i].Time >= t
	})

	var before, after Point
	switch {
	case 0 < idx && idx < len(track):
		before, after = track[idx-1], track[idx]
	case idx <= 0:
		if len(track) >= 2 {
			before, after = track[0], track[1]
		} else {
			before, after = track[0], track[0]
		}
	default:
		if len(track) >= 2 {
			before, after = track[len(track)-2], track[len(track)-1]
		} else {
			before, after = track[0], track[0]
		}
	}

	weight := 0.0
	if before.Time != after.Time {
		weight = (t - before.Time) / (after.Time - before.Time)
	}

	var alt *float64
	if before.Alt != nil && after.Alt != nil {
		a := *before.Alt + (*after.Alt-*before.Alt)*weight
		alt = &a
	}

	angle := Bearing(before, after)

	return Point{
		Time:  t,
		Lat:   before.Lat + (after.Lat-before.Lat)*weight,
		Lon:   before.Lon + (after.Lon-before.Lon)*weight,
		Alt:   alt,
		Angle: &angle,
	}
}

// Interpolator interpolates monotonically increasing timestamps over a set
// of tracks. Queries resolve against the first track, in start-time order,
// whose last point is not earlier than the query; queries past every track
// extrapolate from the final one.
type Interpolator struct {
	tracks   [][]Point
	idx      int
	prevTime float64
	started  bool
}

// NewInterpolator drops empty tracks and orders the rest by start time.
func NewInterpolator(tracks [][]Point) (*Interpolator, error) {
	kept := make([][]Point, 0, len(tracks))
	for _, track := range tracks {
		if len(track) > 0 {
			kept = append(kept, track)
		}
	}
	if len(kept) == 0 {
		return nil, errors.New("no tracks to interpolate")
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i][0].Time < kept[j][0].Time
	})
	return &Interpolator{tracks: kept}, nil
}

// Interpolate resolves t against the track set. Times must be queried in
// non-decreasing order.
func (in *Interpolator) Interpolate(t float64) (Point, error) {
	if in.started && t < in.prevTime {
		return Point{}, fmt.Errorf("interpolation time went backwards: %v after %v", t, in.prevTime)
	}
	in.started = true
	in.prevTime = t

	for in.idx+1 < len(in.tracks) {
		track := in.tracks[in.idx]
		if t <= track[len(track)-1].Time {
			break
		}
		in.idx++
	}
	return interpolateSegment(in.tracks[in.idx], t), nil
}
