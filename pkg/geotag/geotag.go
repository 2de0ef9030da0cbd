// Package geotag assigns positions to images by interpolating their capture
// times along a telemetry track.
package geotag

import (
	"fmt"
	"math"
	"sort"

	"github.com/camtrail/camtrail/pkg/geo"
)

// ImageMetadata is one geotagged image, the serializable unit handed to the
// EXIF-writing and upload stages. Times are seconds since the Unix epoch.
type ImageMetadata struct {
	Filename     string
	Time         float64
	Lat          float64
	Lon          float64
	Alt          *float64
	Angle        *float64
	Make         string
	Model        string
	Width        int64
	Height       int64
	Filesize     int64
	SequenceUUID string
}

// ImageError marks one image that could not be processed, without aborting
// the rest of its batch.
type ImageError struct {
	Filename string
	Err      error
}

// OutsideTrackError reports a capture time not covered by the track. Times
// are whatever clock the track uses.
type OutsideTrackError struct {
	ImageTime  float64
	TrackStart float64
	TrackEnd   float64
}

func (e *OutsideTrackError) Error() string {
	if e.ImageTime < e.TrackStart {
		return fmt.Sprintf("capture time is %.3f seconds before the track start", e.TrackStart-e.ImageTime)
	}
	return fmt.Sprintf("capture time is %.3f seconds after the track end", e.ImageTime-e.TrackEnd)
}

// Alignment selects how image capture times are mapped onto the track's
// clock. It is always set explicitly; nothing is inferred from the shape of
// the input.
type Alignment int

const (
	// AlignCaptureTimes uses the offset-adjusted capture times as-is; the
	// track must be on the same clock.
	AlignCaptureTimes Alignment = iota

	// AlignTrackToFirstImage rebases a track with relative timestamps onto
	// the first image's capture time. Used for video-native tracks whose
	// time zero is the start of the recording.
	AlignTrackToFirstImage

	// AlignImagesToTrackStart shifts the image timeline so the first
	// capture lands on the track's first point.
	AlignImagesToTrackStart
)

// outsideTolerance is how far outside the track a capture time may fall,
// in seconds, before it is rejected instead of clamped.
const outsideTolerance = 0.001

// Options configure one geotagging pass.
type Options struct {
	// Offset is the constant camera-to-GPS clock skew in seconds, added to
	// every capture time.
	Offset float64

	Alignment Alignment
}

// ApplyTrack interpolates each image's capture time along the track and
// fills in its position and bearing. Images are returned sorted by time;
// images whose adjusted time falls outside the track come back as errors.
// An empty track errors every image.
func ApplyTrack(images []ImageMetadata, track []geo.Point, opts Options) ([]ImageMetadata, []ImageError) {
	sortedImages := make([]ImageMetadata, len(images))
	copy(sortedImages, images)
	sort.SliceStable(sortedImages, func(i, j int) bool {
		if sortedImages[i].Time != sortedImages[j].Time {
			return sortedImages[i].Time < sortedImages[j].Time
		}
		return sortedImages[i].Filename < sortedImages[j].Filename
	})

	if len(track) == 0 {
		errs := make([]ImageError, 0, len(sortedImages))
		for _, img := range sortedImages {
			errs = append(errs, ImageError{Filename: img.Filename, Err: fmt.Errorf("no track to interpolate against")})
		}
		return nil, errs
	}

	sortedTrack := make([]geo.Point, len(track))
	copy(sortedTrack, track)
	sort.SliceStable(sortedTrack, func(i, j int) bool {
		return sortedTrack[i].Time < sortedTrack[j].Time
	})

	offset := opts.Offset
	switch opts.Alignment {
	case AlignTrackToFirstImage:
		first := sortedImages[0].Time
		for i := range sortedTrack {
			sortedTrack[i].Time += first
		}
	case AlignImagesToTrackStart:
		offset += sortedTrack[0].Time - sortedImages[0].Time
	}

	start := sortedTrack[0].Time
	end := sortedTrack[len(sortedTrack)-1].Time

	var tagged []ImageMetadata
	var errs []ImageError
	for _, img := range sortedImages {
		t := img.Time + offset
		if t < start-outsideTolerance || end+outsideTolerance < t {
			errs = append(errs, ImageError{
				Filename: img.Filename,
				Err:      &OutsideTrackError{ImageTime: t, TrackStart: start, TrackEnd: end},
			})
			continue
		}
		t = math.Min(math.Max(t, start), end)

		p := interpolate(sortedTrack, t)
		img.Time = p.Time
		img.Lat = p.Lat
		img.Lon = p.Lon
		img.Alt = p.Alt
		img.Angle = p.Angle
		tagged = append(tagged, img)
	}
	return tagged, errs
}

func interpolate(sortedTrack []geo.Point, t float64) geo.Point {
	p, err := geo.Interpolate(sortedTrack, t)
	if err != nil {
		// unreachable: ApplyTrack never passes an empty track
		panic(err)
	}
	return p
}

// SpreadSubSeconds makes capture times unique within same-second bursts by
// distributing each burst evenly up to the next distinct timestamp. Images
// must already be sorted by time; updates happen in place.
func SpreadSubSeconds(images []ImageMetadata) {
	i := 0
	for i < len(images) {
		j := i
		for j < len(images) && sameMillisecond(images[i].Time, images[j].Time) {
			j++
		}
		if j-i > 1 {
			t := images[i].Time
			next := math.Floor(t + 1.0)
			if j < len(images) && images[j].Time < next {
				next = images[j].Time
			}
			interval := (next - t) / float64(j-i)
			for k := i; k < j; k++ {
				images[k].Time = t + float64(k-i)*interval
			}
		}
		i = j
	}
}

func sameMillisecond(a, b float64) bool {
	return int64(a*1e3) == int64(b*1e3)
}
