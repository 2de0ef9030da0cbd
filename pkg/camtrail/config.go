// Package camtrail runs the batch geotagging pipeline: discover videos and
// images, extract and sanitize telemetry, interpolate positions onto sample
// frames, and segment the result into upload sequences.
package camtrail

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"

	"github.com/camtrail/camtrail/pkg/telemetry"
)

// Config holds every tunable of the pipeline. All of them read from the
// environment with a CAMTRAIL_ prefix, so a flagless deployment can still
// adjust the thresholds.
type Config struct {
	// Sequence cuts.
	CutoffDistance float64 `env:"CUTOFF_DISTANCE" envDefault:"600"`
	CutoffTime     float64 `env:"CUTOFF_TIME" envDefault:"60"`

	// Duplicate flagging.
	DuplicateDistance float64 `env:"DUPLICATE_DISTANCE" envDefault:"0.1"`
	DuplicateAngle    float64 `env:"DUPLICATE_ANGLE" envDefault:"5"`

	MaxSequenceLength  int     `env:"MAX_SEQUENCE_LENGTH" envDefault:"500"`
	MaxCaptureSpeedKMH float64 `env:"MAX_CAPTURE_SPEED_KMH" envDefault:"400"`

	// GoPro GPS quality gates.
	GoProMaxDOP100    float64 `env:"GOPRO_MAX_DOP100" envDefault:"1000"`
	GoProGPSFixes     []int   `env:"GOPRO_GPS_FIXES" envDefault:"2,3"`
	GoProGPSPrecision float64 `env:"GOPRO_GPS_PRECISION" envDefault:"15"`

	// Workers is the video worker pool size; 0 means one per CPU.
	Workers int `env:"WORKERS"`

	// ExtractIMU also decodes gyroscope/accelerometer/magnetometer streams
	// onto the video metadata.
	ExtractIMU bool `env:"EXTRACT_IMU"`

	// Offset is the constant camera-to-GPS clock skew in seconds applied to
	// image capture times.
	Offset float64 `env:"TIME_OFFSET"`

	// InterpolateDirections re-derives all image bearings from the sequence
	// geometry instead of trusting the device compass.
	InterpolateDirections bool `env:"INTERPOLATE_DIRECTIONS"`
}

// LoadConfig reads the configuration from CAMTRAIL_-prefixed environment
// variables, falling back to the defaults above.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "CAMTRAIL_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg, nil
}

// AcceptedFixes returns the configured GoPro fix modes as typed values.
func (c *Config) AcceptedFixes() []telemetry.GPSFix {
	fixes := make([]telemetry.GPSFix, 0, len(c.GoProGPSFixes))
	for _, f := range c.GoProGPSFixes {
		fixes = append(fixes, telemetry.GPSFix(f))
	}
	return fixes
}
