// Package telemetry defines the typed sensor records decoded from camera
// telemetry streams.
package telemetry

import (
	"github.com/camtrail/camtrail/pkg/geo"
)

// GPSFix is the device-reported lock quality of a fix.
type GPSFix int

const (
	GPSFixNone GPSFix = 0
	GPSFix2D   GPSFix = 2
	GPSFix3D   GPSFix = 3
)

// GPSPoint is a fix with quality attributes as reported by GoPro devices.
// Precision is dilution of precision multiplied by 100; GroundSpeed is in
// m/s. Epoch is the absolute UTC time in seconds when the stream carried
// one.
type GPSPoint struct {
	geo.Point
	Epoch       *float64
	Fix         *GPSFix
	Precision   *float64
	GroundSpeed *float64
}

// CAMMGPSPoint is a full CAMM GPS sample. TimeGPSEpoch is the embedded
// absolute time; Point.Time stays on the video clock.
type CAMMGPSPoint struct {
	geo.Point
	TimeGPSEpoch       float64
	FixType            int32
	HorizontalAccuracy float64
	VerticalAccuracy   float64
	VelocityEast       float64
	VelocityNorth      float64
	VelocityUp         float64
	SpeedAccuracy      float64
}

// IMUSample is one inertial measurement. Units depend on the stream it was
// read from: rad/s for gyroscopes, m/s² for accelerometers, µT for
// magnetometers.
type IMUSample struct {
	Time float64
	X    float64
	Y    float64
	Z    float64
}

// IMU aggregates the inertial streams of one device.
type IMU struct {
	Gyroscope     []IMUSample
	Accelerometer []IMUSample
	Magnetometer  []IMUSample
}
