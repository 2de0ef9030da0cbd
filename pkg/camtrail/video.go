package camtrail

import (
	"fmt"
	"io"
	"os"

	"github.com/camtrail/camtrail/pkg/blackvue"
	"github.com/camtrail/camtrail/pkg/camm"
	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/gpmf"
	"github.com/camtrail/camtrail/pkg/gpsfilter"
	"github.com/camtrail/camtrail/pkg/telemetry"
)

// VideoTrack is the sanitized telemetry of one video file.
type VideoTrack struct {
	Filename string
	// Points are ordered ascending, relative to the start of the video.
	Points []geo.Point
	Make   string
	Model  string
	// IMU is populated only when Config.ExtractIMU is set and the codec
	// carries sensor streams.
	IMU *telemetry.IMU
}

// ExtractVideoTrack classifies and decodes one video. The decoders are
// tried in order GoPro, CAMM, BlackVue; a decoder that finds no telemetry
// at all passes the file to the next one. Parse errors are fatal for the
// file; quality failures come back as typed soft errors.
func (p *Pipeline) ExtractVideoTrack(path string) (*VideoTrack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	track, err := p.extractGoPro(f, path)
	if err != nil || track != nil {
		return track, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	track, err = p.extractCAMM(f, path)
	if err != nil || track != nil {
		return track, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return p.extractBlackVue(f, path)
}

// extractGoPro returns (nil, nil) when the video has no usable GPMF GPS
// stream, handing the file to the next decoder.
func (p *Pipeline) extractGoPro(f *os.File, path string) (*VideoTrack, error) {
	data, err := gpmf.ExtractTelemetryData(f)
	if err != nil {
		return nil, err
	}
	if data == nil || len(data.GPS) == 0 {
		return nil, nil
	}

	cfg := p.Config
	kept := gpsfilter.FilterNoisyPoints(data.GPS, cfg.AcceptedFixes(), cfg.GoProMaxDOP100)
	kept = gpsfilter.FilterOutliersPrecision(kept, cfg.GoProGPSPrecision)
	if len(kept) == 0 {
		return nil, &NoiseError{Decoded: len(data.GPS)}
	}

	points := make([]geo.Point, 0, len(kept))
	for _, gp := range kept {
		points = append(points, gp.Point)
	}
	if err := checkStationary(points); err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	model, err := gpmf.ExtractCameraModel(f)
	if err != nil {
		p.Log.V(1).Info("no camera model in GPMF stream", "video", path, "err", err)
	}

	track := &VideoTrack{
		Filename: path,
		Points:   points,
		Make:     "GoPro",
		Model:    model,
	}
	if cfg.ExtractIMU {
		track.IMU = &data.IMU
	}
	return track, nil
}

func (p *Pipeline) extractCAMM(f *os.File, path string) (*VideoTrack, error) {
	info, err := camm.ExtractInfo(f)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	points := info.Points()
	if len(points) == 0 {
		return nil, nil
	}
	if err := checkStationary(points); err != nil {
		return nil, err
	}

	track := &VideoTrack{
		Filename: path,
		Points:   points,
		Make:     info.Make,
		Model:    info.Model,
	}
	if p.Config.ExtractIMU {
		track.IMU = &info.IMU
	}
	return track, nil
}

func (p *Pipeline) extractBlackVue(f *os.File, path string) (*VideoTrack, error) {
	info, err := blackvue.ExtractInfo(f)
	if err != nil {
		return nil, err
	}
	if info == nil || len(info.GPS) == 0 {
		return nil, &NoTelemetryError{}
	}
	if err := checkStationary(info.GPS); err != nil {
		return nil, err
	}

	return &VideoTrack{
		Filename: path,
		Points:   info.GPS,
		Make:     info.Make,
		Model:    info.Model,
	}, nil
}

func checkStationary(points []geo.Point) error {
	if gpsfilter.IsStationary(points, gpsfilter.StationaryRadius) {
		return &StationaryError{Radius: gpsfilter.StationaryRadius}
	}
	return nil
}
