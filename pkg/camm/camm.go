package camm

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/mp4"
	"github.com/camtrail/camtrail/pkg/telemetry"
)

var formatCamm = mp4.BoxType{'c', 'a', 'm', 'm'}

// Info is everything decoded from a CAMM track: the GPS streams by record
// shape, the inertial streams, and the device identity from moov/udta.
type Info struct {
	GPS      []telemetry.CAMMGPSPoint
	GoProGPS []telemetry.GPSPoint
	MinGPS   []geo.Point
	IMU      telemetry.IMU
	Make     string
	Model    string
}

// Points returns the preferred GPS stream flattened onto the shared point
// shape: full fixes win over GoPro extension fixes, which win over minimal
// ones.
func (i *Info) Points() []geo.Point {
	if len(i.GPS) > 0 {
		out := make([]geo.Point, len(i.GPS))
		for idx := range i.GPS {
			out[idx] = i.GPS[idx].Point
		}
		return out
	}
	if len(i.GoProGPS) > 0 {
		out := make([]geo.Point, len(i.GoProGPS))
		for idx := range i.GoProGPS {
			out[idx] = i.GoProGPS[idx].Point
		}
		return out
	}
	return i.MinGPS
}

// measurement is one decoded sample still on the media clock. The edit
// list reshuffles sampleTime before the packet is bucketed into Info.
type measurement struct {
	sampleTime float64
	packet     Packet
}

// editSegment is an elst entry converted to seconds. A mediaTime of -1
// marks an empty edit, whose duration offsets everything after it.
type editSegment struct {
	mediaTime float64
	duration  float64
}

func editSegments(entries []mp4.EditEntry, movieTimescale, mediaTimescale uint32) ([]editSegment, error) {
	if movieTimescale == 0 {
		return nil, fmt.Errorf("expect positive movie timescale")
	}
	if mediaTimescale == 0 {
		return nil, fmt.Errorf("expect positive media timescale")
	}
	segments := make([]editSegment, 0, len(entries))
	for _, e := range entries {
		s := editSegment{mediaTime: -1, duration: float64(e.SegmentDuration) / float64(movieTimescale)}
		if e.MediaTime != -1 {
			s.mediaTime = float64(e.MediaTime) / float64(mediaTimescale)
		}
		segments = append(segments, s)
	}
	return segments, nil
}

// filterByEditList keeps the measurements the edit list selects and rebases
// their times onto the movie timeline. The offset introduced by the last
// empty edit applies to every retained measurement.
func filterByEditList(ms []measurement, segments []editSegment) []measurement {
	var offset float64
	for _, s := range segments {
		if s.mediaTime == -1 {
			offset = s.duration
		}
	}

	var selects []editSegment
	for _, s := range segments {
		if s.mediaTime != -1 {
			selects = append(selects, s)
		}
	}

	if len(selects) == 0 {
		out := make([]measurement, 0, len(ms))
		for _, m := range ms {
			m.sampleTime += offset
			out = append(out, m)
		}
		return out
	}

	sort.SliceStable(selects, func(i, j int) bool {
		return selects[i].mediaTime < selects[j].mediaTime
	})

	var out []measurement
	idx := 0
	for _, m := range ms {
		if idx >= len(selects) {
			break
		}
		seg := selects[idx]
		switch {
		case m.sampleTime < seg.mediaTime:
			// before the segment starts: dropped
		case m.sampleTime <= seg.mediaTime+seg.duration:
			m.sampleTime += offset
			out = append(out, m)
		default:
			idx++
		}
	}
	return out
}

func trackHasCamm(track *mp4.Track) (bool, error) {
	descriptions, err := track.SampleDescriptions()
	if err != nil {
		return false, err
	}
	for _, d := range descriptions {
		if d.Format == formatCamm {
			return true, nil
		}
	}
	return false, nil
}

func trackMeasurements(rs io.ReadSeeker, track *mp4.Track) ([]measurement, error) {
	samples, err := track.Samples()
	if err != nil {
		return nil, err
	}
	var ms []measurement
	for _, s := range samples {
		if s.Description.Format != formatCamm {
			continue
		}
		data, err := mp4.ReadSampleData(rs, s.RawSample)
		if err != nil {
			return nil, err
		}
		packet, err := DecodePacket(data)
		if err != nil {
			return nil, err
		}
		ms = append(ms, measurement{sampleTime: s.ExactTime, packet: packet})
	}
	return ms, nil
}

func applyEditList(movie *mp4.Movie, track *mp4.Track, ms []measurement) ([]measurement, error) {
	entries, err := track.EditList()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return ms, nil
	}
	mdhd, err := track.MediaHeader()
	if err != nil {
		return nil, err
	}
	mvhd, err := movie.MovieHeader()
	if err != nil {
		return nil, err
	}
	segments, err := editSegments(entries, mvhd.Timescale, mdhd.Timescale)
	if err != nil {
		return nil, err
	}
	return filterByEditList(ms, segments), nil
}

func bucket(ms []measurement) *Info {
	info := &Info{}
	for _, m := range ms {
		p := m.packet
		switch p.Type {
		case TypeMinGPS:
			alt := p.MinGPS[2]
			info.MinGPS = append(info.MinGPS, geo.Point{
				Time: m.sampleTime,
				Lat:  p.MinGPS[0],
				Lon:  p.MinGPS[1],
				Alt:  &alt,
			})
		case TypeGPS:
			g := p.GPS
			alt := float64(g.Alt)
			info.GPS = append(info.GPS, telemetry.CAMMGPSPoint{
				Point:              geo.Point{Time: m.sampleTime, Lat: g.Lat, Lon: g.Lon, Alt: &alt},
				TimeGPSEpoch:       g.TimeGPSEpoch,
				FixType:            g.FixType,
				HorizontalAccuracy: float64(g.HorizontalAccuracy),
				VerticalAccuracy:   float64(g.VerticalAccuracy),
				VelocityEast:       float64(g.VelocityEast),
				VelocityNorth:      float64(g.VelocityNorth),
				VelocityUp:         float64(g.VelocityUp),
				SpeedAccuracy:      float64(g.SpeedAccuracy),
			})
		case TypeGoProGPS:
			g := p.GoProGPS
			alt := float64(g.Alt)
			epoch := g.EpochTime
			fix := telemetry.GPSFix(g.Fix)
			precision := float64(g.Precision)
			speed := float64(g.GroundSpeed)
			info.GoProGPS = append(info.GoProGPS, telemetry.GPSPoint{
				Point:       geo.Point{Time: m.sampleTime, Lat: g.Lat, Lon: g.Lon, Alt: &alt},
				Epoch:       &epoch,
				Fix:         &fix,
				Precision:   &precision,
				GroundSpeed: &speed,
			})
		case TypeGyro:
			info.IMU.Gyroscope = append(info.IMU.Gyroscope, imuSample(m))
		case TypeAcceleration:
			info.IMU.Accelerometer = append(info.IMU.Accelerometer, imuSample(m))
		case TypeMagneticField:
			info.IMU.Magnetometer = append(info.IMU.Magnetometer, imuSample(m))
		}
	}
	return info
}

func imuSample(m measurement) telemetry.IMUSample {
	v := m.packet.Vector
	return telemetry.IMUSample{
		Time: m.sampleTime,
		X:    float64(v[0]),
		Y:    float64(v[1]),
		Z:    float64(v[2]),
	}
}

// ExtractInfo decodes the first CAMM track of a video. A video without one
// returns a nil Info; a CAMM track without GPS returns an Info whose GPS
// streams are all empty.
func ExtractInfo(rs io.ReadSeeker) (*Info, error) {
	movie, err := mp4.ParseMovie(rs)
	if err != nil {
		return nil, err
	}

	for _, track := range movie.Tracks() {
		has, err := trackHasCamm(track)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}

		ms, err := trackMeasurements(rs, track)
		if err != nil {
			return nil, err
		}
		ms, err = applyEditList(movie, track, ms)
		if err != nil {
			return nil, err
		}

		info := bucket(ms)
		info.Make, info.Model = MakeAndModel(movie)
		return info, nil
	}

	return nil, nil
}

// ExtractPoints returns the GPS track of the first CAMM track, or nil when
// the video carries none.
func ExtractPoints(rs io.ReadSeeker) ([]geo.Point, error) {
	info, err := ExtractInfo(rs)
	if err != nil || info == nil {
		return nil, err
	}
	points := info.Points()
	if points == nil {
		points = []geo.Point{}
	}
	return points, nil
}

// udta children that spell out the device identity, by vendor convention.
var (
	typeCMak = mp4.BoxType{0xa9, 'm', 'a', 'k'} // Insta360 Titan
	typeCMod = mp4.BoxType{0xa9, 'm', 'o', 'd'}
	typeAMak = mp4.BoxType{'@', 'm', 'a', 'k'} // Ricoh Theta V
	typeAMod = mp4.BoxType{'@', 'm', 'o', 'd'}
	typeManu = mp4.BoxType{'m', 'a', 'n', 'u'} // Ricoh Theta V
	typeModl = mp4.BoxType{'m', 'o', 'd', 'l'}
)

// MakeAndModel scans moov/udta for the camera make and model. Vendors
// disagree on the atoms: sized entries with a language code, or raw UTF-8
// payloads. Undecodable values come back empty.
func MakeAndModel(movie *mp4.Movie) (cameraMake, cameraModel string) {
	moov := movie.Data()
	udta, err := mp4.ReadBoxData(bytes.NewReader(moov), int64(len(moov)), false, mp4.Path(mp4.TypeUdta))
	if err != nil {
		return "", ""
	}

	// best effort: a malformed child keeps whatever decoded before it
	_ = mp4.WalkBoxes(bytes.NewReader(udta), int64(len(udta)), false, func(h mp4.Header, r io.ReadSeeker) error {
		data, err := io.ReadAll(io.LimitReader(r, h.MaxSize))
		if err != nil {
			return err
		}
		switch h.Type {
		case typeCMak:
			cameraMake = decodeQuietly(bytes.TrimRight(parseSized(data), "\x00"))
		case typeCMod:
			cameraModel = decodeQuietly(bytes.TrimRight(parseSized(data), "\x00"))
		case typeAMak, typeManu:
			cameraMake = decodeQuietly(data)
		case typeAMod, typeModl:
			cameraModel = decodeQuietly(data)
		}
		if cameraMake != "" && cameraModel != "" {
			return mp4.ErrStopWalk
		}
		return nil
	})

	return strings.TrimSpace(cameraMake), strings.TrimSpace(cameraModel)
}

// parseSized unwraps the sized make/model layout: a 16-bit big-endian
// length, a 2-byte language code, then the value.
func parseSized(data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	size := int(data[0])<<8 | int(data[1])
	if size > len(data)-4 {
		return nil
	}
	return data[4 : 4+size]
}

func decodeQuietly(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	return string(data)
}
