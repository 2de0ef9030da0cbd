// Package sequence partitions geotagged images into upload sequences:
// runs of images captured along one continuous path, deduplicated and
// capped in length, each run tagged with a fresh UUID.
package sequence

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/geotag"
)

// Defaults for sequence processing.
const (
	CutoffDistance     = 600.0 // meters
	CutoffTime         = 60.0  // seconds
	DuplicateDistance  = 0.1   // meters
	DuplicateAngle     = 5.0   // degrees
	MaxSequenceLength  = 500   // images
	MaxCaptureSpeedKMH = 400.0
)

// Options configure one sequencing pass. Zero values fall back to the
// package defaults.
type Options struct {
	CutoffDistance    float64
	CutoffTime        float64
	DuplicateDistance float64
	DuplicateAngle    float64
	MaxSequenceLength int
	// MaxCaptureSpeedKMH rejects sequences whose average speed suggests a
	// clock or GPS fault rather than a real capture run.
	MaxCaptureSpeedKMH float64
	// InterpolateDirections discards the device bearings and re-derives
	// every angle from the sequence geometry.
	InterpolateDirections bool
}

func (o Options) withDefaults() Options {
	if o.CutoffDistance == 0 {
		o.CutoffDistance = CutoffDistance
	}
	if o.CutoffTime == 0 {
		o.CutoffTime = CutoffTime
	}
	if o.DuplicateDistance == 0 {
		o.DuplicateDistance = DuplicateDistance
	}
	if o.DuplicateAngle == 0 {
		o.DuplicateAngle = DuplicateAngle
	}
	if o.MaxSequenceLength == 0 {
		o.MaxSequenceLength = MaxSequenceLength
	}
	if o.MaxCaptureSpeedKMH == 0 {
		o.MaxCaptureSpeedKMH = MaxCaptureSpeedKMH
	}
	return o
}

// DuplicateError marks an image rejected for sitting on top of the
// previously accepted one.
type DuplicateError struct {
	Distance   float64
	AngleDelta float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of the previous image: %.3f m and %.1f° apart", e.Distance, e.AngleDelta)
}

// NullIslandError marks an image whose fix is exactly (0, 0).
type NullIslandError struct{}

func (e *NullIslandError) Error() string {
	return "GPS coordinates at null island (0, 0)"
}

// CaptureSpeedError marks a sequence captured implausibly fast.
type CaptureSpeedError struct {
	SpeedKMH float64
	MaxKMH   float64
}

func (e *CaptureSpeedError) Error() string {
	return fmt.Sprintf("capture speed %.3f km/h exceeds max allowed %.3f km/h", e.SpeedKMH, e.MaxKMH)
}

func point(img geotag.ImageMetadata) geo.Point {
	return geo.Point{Time: img.Time, Lat: img.Lat, Lon: img.Lon, Alt: img.Alt, Angle: img.Angle}
}

// SplitSequences cuts images into runs in one forward pass, starting a new
// run whenever two consecutive images sit at least cutoffDistance apart or
// at least cutoffTime seconds apart. Concatenating the output reproduces
// the input exactly.
func SplitSequences(images []geotag.ImageMetadata, cutoffDistance, cutoffTime float64) [][]geotag.ImageMetadata {
	var out [][]geotag.ImageMetadata
	for i, img := range images {
		cut := i == 0
		if !cut {
			prev := images[i-1]
			cut = geo.Distance(point(prev), point(img)) >= cutoffDistance ||
				img.Time-prev.Time >= cutoffTime
		}
		if cut {
			out = append(out, []geotag.ImageMetadata{img})
		} else {
			out[len(out)-1] = append(out[len(out)-1], img)
		}
	}
	return out
}

// FlagDuplicates drops images that barely moved and barely turned since the
// last accepted one. The comparison anchor only advances on acceptance, so a
// run of near-identical images all compare against the same predecessor. A
// missing bearing on either side never triggers duplication.
func FlagDuplicates(seq []geotag.ImageMetadata, maxDistance, maxAngle float64) ([]geotag.ImageMetadata, []geotag.ImageError) {
	if len(seq) == 0 {
		return nil, nil
	}

	kept := []geotag.ImageMetadata{seq[0]}
	var dups []geotag.ImageError
	anchor := seq[0]

	for _, cur := range seq[1:] {
		distance := geo.Distance(point(anchor), point(cur))

		if distance <= maxDistance && anchor.Angle != nil && cur.Angle != nil {
			if delta := geo.AbsBearingDelta(*anchor.Angle, *cur.Angle); delta <= maxAngle {
				dups = append(dups, geotag.ImageError{
					Filename: cur.Filename,
					Err:      &DuplicateError{Distance: distance, AngleDelta: delta},
				})
				continue
			}
		}
		kept = append(kept, cur)
		anchor = cur
	}
	return kept, dups
}

// InterpolateDirections fills in missing bearings from the sequence
// geometry: each image points at the next one, and the final image inherits
// the bearing computed for its predecessor.
func InterpolateDirections(seq []geotag.ImageMetadata) {
	for i := range seq {
		if seq[i].Angle != nil {
			continue
		}
		if i+1 < len(seq) {
			angle := geo.Bearing(point(seq[i]), point(seq[i+1]))
			seq[i].Angle = &angle
		} else if i > 0 && seq[i-1].Angle != nil {
			angle := *seq[i-1].Angle
			seq[i].Angle = &angle
		}
	}
}

// CapLength splits any run longer than max into chunks of at most max
// images, preserving order.
func CapLength(seqs [][]geotag.ImageMetadata, max int) [][]geotag.ImageMetadata {
	var out [][]geotag.ImageMetadata
	for _, seq := range seqs {
		for len(seq) > max {
			out = append(out, seq[:max])
			seq = seq[max:]
		}
		if len(seq) > 0 {
			out = append(out, seq)
		}
	}
	return out
}

// groupKey buckets images that can share a sequence: same directory and
// same camera.
type groupKey struct {
	dir    string
	make_  string
	model  string
	width  int64
	height int64
}

// Process runs the full sequencing pass: group by folder and camera, sort,
// split at the cutoffs, drop duplicates, fill in bearings, reject
// implausible sequences, cap the length, and assign each final run a fresh
// sequence UUID. Every input image comes back exactly once, either tagged
// or as an error.
func Process(images []geotag.ImageMetadata, opts Options) ([]geotag.ImageMetadata, []geotag.ImageError) {
	opts = opts.withDefaults()

	var errs []geotag.ImageError

	grouped := make(map[groupKey][]geotag.ImageMetadata)
	var order []groupKey
	for _, img := range images {
		if img.Lat == 0 && img.Lon == 0 {
			errs = append(errs, geotag.ImageError{Filename: img.Filename, Err: &NullIslandError{}})
			continue
		}
		key := groupKey{
			dir:    filepath.Dir(img.Filename),
			make_:  img.Make,
			model:  img.Model,
			width:  img.Width,
			height: img.Height,
		}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], img)
	}

	var final [][]geotag.ImageMetadata
	for _, key := range order {
		group := grouped[key]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Time != group[j].Time {
				return group[i].Time < group[j].Time
			}
			return group[i].Filename < group[j].Filename
		})

		for _, seq := range SplitSequences(group, opts.CutoffDistance, opts.CutoffTime) {
			kept, dups := FlagDuplicates(seq, opts.DuplicateDistance, opts.DuplicateAngle)
			errs = append(errs, dups...)
			if len(kept) == 0 {
				continue
			}

			if opts.InterpolateDirections {
				for i := range kept {
					kept[i].Angle = nil
				}
			}
			InterpolateDirections(kept)

			if err := checkCaptureSpeed(kept, opts.MaxCaptureSpeedKMH); err != nil {
				for _, img := range kept {
					errs = append(errs, geotag.ImageError{Filename: img.Filename, Err: err})
				}
				continue
			}

			final = append(final, CapLength([][]geotag.ImageMetadata{kept}, opts.MaxSequenceLength)...)
		}
	}

	var out []geotag.ImageMetadata
	for _, seq := range final {
		id := uuid.NewString()
		for _, img := range seq {
			img.SequenceUUID = id
			out = append(out, img)
		}
	}
	return out, errs
}

func checkCaptureSpeed(seq []geotag.ImageMetadata, maxKMH float64) error {
	if len(seq) < 2 {
		return nil
	}
	points := make([]geo.Point, 0, len(seq))
	for _, img := range seq {
		points = append(points, point(img))
	}
	speedKMH := geo.AvgSpeed(points) * 3.6
	if speedKMH > maxKMH {
		return &CaptureSpeedError{SpeedKMH: speedKMH, MaxKMH: maxKMH}
	}
	return nil
}
