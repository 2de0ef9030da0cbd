// Package blackvue extracts GPS telemetry from BlackVue dashcam videos,
// which embed bracketed NMEA text inside a top-level free atom instead of a
// dedicated telemetry track.
package blackvue

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/mp4"
)

// Make is the device vendor for every BlackVue video.
const Make = "BlackVue"

var (
	typeGPS  = mp4.BoxType{'g', 'p', 's', ' '}
	typeCprt = mp4.BoxType{'c', 'p', 'r', 't'}
)

// Each line couples a millisecond timestamp with one NMEA sentence, e.g.
// [1623057074211]$GPVTG,,T,,M,0.078,N,0.144,K,D*28[1623057075215]
var nmeaLineRegex = regexp.MustCompile(`^\s*\[(\d+)\]\s*(\$\w{5}[^\[]*?)\s*(\[\d+\])?\s*$`)

// Info is everything decoded from one BlackVue video.
type Info struct {
	GPS   []geo.Point
	Make  string
	Model string
}

// ExtractPoints returns the GPS track embedded in the free atom, sorted and
// rebased so the first point is at time zero. The bracketed timestamps have
// no universal epoch meaning, only their spacing does. A video without a
// free/gps box returns nil.
func ExtractPoints(rs io.ReadSeeker) ([]geo.Point, error) {
	data, err := gpsBoxData(rs)
	if err != nil || data == nil {
		return nil, err
	}

	points := parseGPSBox(data)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	if len(points) > 0 {
		first := points[0].Time
		for i := range points {
			points[i].Time = (points[i].Time - first) / 1000
		}
	}
	return points, nil
}

func gpsBoxData(rs io.ReadSeeker) ([]byte, error) {
	data, err := mp4.ReadBoxData(rs, -1, true, mp4.Path(mp4.TypeFree, typeGPS))
	if err != nil {
		var notFound *mp4.BoxNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// parseGPSBox keeps valid GPGGA fixes. Point times are the bracketed
// millisecond timestamps, still unrebased.
func parseGPSBox(data []byte) []geo.Point {
	var points []geo.Point
	for _, line := range bytes.Split(data, []byte("\n")) {
		m := nmeaLineRegex.FindSubmatch(bytes.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		sentence := string(m[2])
		if !strings.HasPrefix(sentence, "$GPGGA") {
			continue
		}
		fix, ok := parseGGA(sentence)
		if !ok {
			continue
		}
		epochMS, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			continue
		}
		fix.Time = epochMS
		points = append(points, fix)
	}
	return points
}

// parseGGA decodes one $GPGGA sentence into a fix, rejecting sentences with
// a bad checksum or without a GPS lock.
func parseGGA(sentence string) (geo.Point, bool) {
	body, ok := validChecksum(sentence)
	if !ok {
		return geo.Point{}, false
	}

	// GPGGA, time, lat, N/S, lon, E/W, quality, sats, hdop, alt, M, ...
	fields := strings.Split(body, ",")
	if len(fields) < 10 {
		return geo.Point{}, false
	}
	quality, err := strconv.Atoi(fields[6])
	if err != nil || quality < 1 {
		return geo.Point{}, false
	}
	lat, ok := parseCoordinate(fields[2], fields[3])
	if !ok {
		return geo.Point{}, false
	}
	lon, ok := parseCoordinate(fields[4], fields[5])
	if !ok {
		return geo.Point{}, false
	}

	p := geo.Point{Lat: lat, Lon: lon}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		p.Alt = &alt
	}
	return p, true
}

// validChecksum strips the leading $ and trailing *XX, returning the
// sentence body only when the XOR checksum matches.
func validChecksum(sentence string) (string, bool) {
	if !strings.HasPrefix(sentence, "$") {
		return "", false
	}
	star := strings.LastIndex(sentence, "*")
	if star < 0 || len(sentence) < star+3 {
		return "", false
	}
	want, err := strconv.ParseUint(sentence[star+1:star+3], 16, 8)
	if err != nil {
		return "", false
	}
	body := sentence[1:star]
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	if sum != byte(want) {
		return "", false
	}
	return body, true
}

// parseCoordinate converts NMEA ddmm.mmmm plus a hemisphere letter to
// signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, bool) {
	dot := strings.Index(value, ".")
	if dot < 3 {
		return 0, false
	}
	degrees, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, false
	}
	deg := degrees + minutes/60
	switch hemisphere {
	case "S", "W":
		deg = -deg
	case "N", "E":
	default:
		return 0, false
	}
	return deg, true
}

// ExtractCameraModel reads the device model from the free/cprt box. Newer
// firmware writes JSON; older firmware a semicolon-delimited copyright
// string whose second field is the model. Missing or undecodable boxes
// yield an empty model.
func ExtractCameraModel(rs io.ReadSeeker) string {
	data, err := mp4.ReadBoxData(rs, -1, true, mp4.Path(mp4.TypeFree, typeCprt))
	if err != nil {
		return ""
	}
	return modelFromCprt(data)
}

func modelFromCprt(data []byte) string {
	s := strings.Trim(strings.TrimSpace(string(data)), "\x00")

	var parsed struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return strings.TrimSpace(parsed.Model)
	}

	// e.g. "Pittasoft Co., Ltd.;DR900S-1CH;1.008;English;1;D90SS1HAE00661;T69;"
	fields := strings.Split(s, ";")
	if len(fields) < 2 {
		return ""
	}
	return strings.TrimSpace(fields[1])
}

// ExtractInfo combines the GPS track and the device identity of one video.
// A video without BlackVue telemetry returns nil.
func ExtractInfo(rs io.ReadSeeker) (*Info, error) {
	points, err := ExtractPoints(rs)
	if err != nil {
		return nil, err
	}
	if points == nil {
		return nil, nil
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return &Info{
		GPS:   points,
		Make:  Make,
		Model: ExtractCameraModel(rs),
	}, nil
}
