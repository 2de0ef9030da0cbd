package camtrail

import (
	"errors"
	"fmt"

	"github.com/camtrail/camtrail/pkg/geotag"
	"github.com/camtrail/camtrail/pkg/sequence"
)

// Soft failures: a file that produced one is skipped and recorded, the
// batch keeps going.

// NoTelemetryError means no decoder found a GPS stream in the video.
type NoTelemetryError struct{}

func (e *NoTelemetryError) Error() string {
	return "no GPS telemetry found in the video"
}

// EmptyTrackError means a telemetry source parsed cleanly but held no
// usable points, e.g. a GPX file without timestamps.
type EmptyTrackError struct {
	Source string
}

func (e *EmptyTrackError) Error() string {
	return fmt.Sprintf("track from %s contains no usable points", e.Source)
}

// NoiseError means the quality and outlier filters rejected every point.
type NoiseError struct {
	Decoded int
}

func (e *NoiseError) Error() string {
	return fmt.Sprintf("all %d GPS points were filtered out as noise", e.Decoded)
}

// StationaryError means the whole track stayed within the parked radius.
type StationaryError struct {
	Radius float64
}

func (e *StationaryError) Error() string {
	return fmt.Sprintf("video is stationary: GPS track stays within %.0f m", e.Radius)
}

// InternalError wraps a panic recovered at the per-file worker boundary.
type InternalError struct {
	Value any
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// ErrorTypeName returns the stable name an error record serializes under.
func ErrorTypeName(err error) string {
	var (
		noTelemetry *NoTelemetryError
		emptyTrack  *EmptyTrackError
		noise       *NoiseError
		stationary  *StationaryError
		internal    *InternalError
		outside     *geotag.OutsideTrackError
		duplicate   *sequence.DuplicateError
		nullIsland  *sequence.NullIslandError
		tooFast     *sequence.CaptureSpeedError
	)
	switch {
	case errors.As(err, &noTelemetry):
		return "NoTelemetry"
	case errors.As(err, &emptyTrack):
		return "EmptyTrack"
	case errors.As(err, &noise):
		return "GPSNoise"
	case errors.As(err, &stationary):
		return "StationaryVideo"
	case errors.As(err, &outside):
		return "OutsideTrack"
	case errors.As(err, &duplicate):
		return "Duplicate"
	case errors.As(err, &nullIsland):
		return "NullIsland"
	case errors.As(err, &tooFast):
		return "CaptureSpeedTooFast"
	case errors.As(err, &internal):
		return "Internal"
	default:
		return "ParseError"
	}
}
