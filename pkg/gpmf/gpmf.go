package gpmf

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/mp4"
	"github.com/camtrail/camtrail/pkg/telemetry"
)

// A GPS stream is nested under DEVC/STRM. GPS5 rows carry lat, lon, alt,
// 2D speed, and 3D speed; GPS9 adds days since 2000, seconds since
// midnight, DOP, and the fix. Only the value stream and SCAL are required.
// GPSU wall-clock time is informational: sample times stay on the video
// clock and the absolute times ride along as epoch hints.

var formatGpmd = mp4.BoxType{'g', 'p', 'm', 'd'}

// TelemetryData is everything decoded from one GPMF track, from the first
// device that produced each kind of stream.
type TelemetryData struct {
	GPS []telemetry.GPSPoint
	IMU telemetry.IMU
}

// noDeviceID groups streams without a DVID; it sorts after every real
// 32-bit device id.
const noDeviceID = int64(1) << 32

func indexKLVs(stream []KLV) map[FourCC]KLV {
	indexed := make(map[FourCC]KLV, len(stream))
	for _, klv := range stream {
		indexed[klv.Key] = klv
	}
	return indexed
}

func firstScalar(klv KLV) (float64, bool) {
	if len(klv.Rows) == 0 || len(klv.Rows[0]) == 0 {
		return 0, false
	}
	return klv.Rows[0][0], true
}

// firstColumn returns the first value of each row, the shape SCAL uses for
// per-axis divisors.
func firstColumn(klv KLV) []float64 {
	out := make([]float64, 0, len(klv.Rows))
	for _, row := range klv.Rows {
		if len(row) == 0 {
			return nil
		}
		out = append(out, row[0])
	}
	return out
}

func flattenRows(klv KLV) []float64 {
	var out []float64
	for _, row := range klv.Rows {
		out = append(out, row...)
	}
	return out
}

func joinRaw(klv KLV) []byte {
	var out []byte
	for _, row := range klv.Raw {
		out = append(out, row...)
	}
	return out
}

func parseGPSUTime(s string) (float64, error) {
	// yymmddhhmmss.sss
	t, err := time.Parse("060102150405.000", s)
	if err != nil {
		return 0, err
	}
	return float64(t.UnixNano()) / 1e9, nil
}

var epochTime2000 = float64(time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).Unix())

func gps9EpochTime(daysSince2000, secsSinceMidnight float64) float64 {
	return epochTime2000 + daysSince2000*24*60*60 + secsSinceMidnight
}

func gps5FromStream(stream []KLV) ([]telemetry.GPSPoint, error) {
	indexed := indexKLVs(stream)

	gps5, ok := indexed[keyGPS5]
	if !ok {
		return nil, nil
	}
	scal, ok := indexed[keySCAL]
	if !ok {
		return nil, nil
	}
	scals := firstColumn(scal)
	if scals == nil {
		return nil, nil
	}
	for _, s := range scals {
		if s == 0 {
			return nil, nil
		}
	}

	var fix *telemetry.GPSFix
	if klv, ok := indexed[keyGPSF]; ok {
		if v, ok := firstScalar(klv); ok {
			f := telemetry.GPSFix(int(v))
			fix = &f
		}
	}

	var epoch *float64
	if klv, ok := indexed[keyGPSU]; ok && len(klv.Raw) > 0 {
		if e, err := parseGPSUTime(string(klv.Raw[0])); err == nil {
			epoch = &e
		}
	}

	var precision *float64
	if klv, ok := indexed[keyGPSP]; ok {
		if v, ok := firstScalar(klv); ok {
			precision = &v
		}
	}

	points := make([]telemetry.GPSPoint, 0, len(gps5.Rows))
	for _, row := range gps5.Rows {
		if len(row) < 5 || len(scals) < 5 {
			return nil, fmt.Errorf("expect 5 GPS5 values but got %d scaled by %d", len(row), len(scals))
		}
		alt := row[2] / scals[2]
		groundSpeed := row[3] / scals[3]
		point := telemetry.GPSPoint{
			// Sample time is resolved later from the video clock.
			Point: geo.Point{
				Lat: row[0] / scals[0],
				Lon: row[1] / scals[1],
				Alt: &alt,
			},
			GroundSpeed: &groundSpeed,
		}
		if epoch != nil {
			e := *epoch
			point.Epoch = &e
		}
		if fix != nil {
			f := *fix
			point.Fix = &f
		}
		if precision != nil {
			p := *precision
			point.Precision = &p
		}
		points = append(points, point)
	}
	return points, nil
}

func gps9FromStream(stream []KLV) ([]telemetry.GPSPoint, error) {
	const numValues = 9

	indexed := indexKLVs(stream)

	gps9, ok := indexed[keyGPS9]
	if !ok || gps9.Raw == nil {
		return nil, nil
	}
	scal, ok := indexed[keySCAL]
	if !ok {
		return nil, nil
	}
	scals := firstColumn(scal)
	if scals == nil {
		return nil, nil
	}
	for _, s := range scals {
		if s == 0 {
			return nil, nil
		}
	}

	valueTypes := joinRaw(indexed[keyTYPE])
	if len(valueTypes) == 0 {
		return nil, nil
	}
	if len(valueTypes) != numValues {
		return nil, fmt.Errorf("parse complex type %q: expect %d types but got %d", valueTypes, numValues, len(valueTypes))
	}
	if len(scals) < numValues {
		return nil, fmt.Errorf("expect %d GPS9 scale values but got %d", numValues, len(scals))
	}

	widths := make([]int, numValues)
	for i, t := range valueTypes {
		w, ok := typeSizes[t]
		if !ok {
			return nil, fmt.Errorf("parse complex type %q: unknown type %q", valueTypes, t)
		}
		widths[i] = w
	}

	points := make([]telemetry.GPSPoint, 0, len(gps9.Raw))
	for _, row := range gps9.Raw {
		values := make([]float64, numValues)
		off := 0
		for i, w := range widths {
			if off+w > len(row) {
				return nil, fmt.Errorf("GPS9 sample of %d bytes too short for type %q", len(row), valueTypes)
			}
			values[i] = decodeScalar(valueTypes[i], row[off:off+w]) / scals[i]
			off += w
		}

		alt := values[2]
		groundSpeed := values[3]
		epoch := gps9EpochTime(values[5], values[6])
		fix := telemetry.GPSFix(int(values[8]))
		precision := values[7] * 100
		points = append(points, telemetry.GPSPoint{
			Point: geo.Point{
				Lat: values[0],
				Lon: values[1],
				Alt: &alt,
			},
			Epoch:       &epoch,
			Fix:         &fix,
			Precision:   &precision,
			GroundSpeed: &groundSpeed,
		})
	}
	return points, nil
}

// findFirstGPSStream returns the points of the first STRM carrying GPS
// values, preferring GPS9 over GPS5 within each stream.
func findFirstGPSStream(stream []KLV) ([]telemetry.GPSPoint, error) {
	for _, klv := range stream {
		if klv.Key != keySTRM {
			continue
		}
		points, err := gps9FromStream(klv.Nested)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			return points, nil
		}
		points, err = gps5FromStream(klv.Nested)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			return points, nil
		}
	}
	return nil, nil
}

func findFirstDeviceID(stream []KLV) int64 {
	for _, klv := range stream {
		if klv.Key == keyDVID {
			if v, ok := firstScalar(klv); ok {
				return int64(v)
			}
			break
		}
	}
	return noDeviceID
}

// A matrix of only 0, 1, and -1 merely re-orients axes; anything else is a
// real calibration worth applying over ORIN/ORIO.
func isCalibrationMatrix(matrix []float64) bool {
	for _, v := range matrix {
		if v != 0 && v != 1 && v != -1 {
			return true
		}
	}
	return false
}

func buildOrientationMatrix(orin, orio []byte) []float64 {
	matrix := make([]float64, 0, len(orin)*len(orio))
	for _, out := range orin {
		for _, in := range orio {
			switch {
			case in == out:
				matrix = append(matrix, 1)
			case int(in)-'a' == int(out)-'A':
				matrix = append(matrix, -1)
			case int(in)-'A' == int(out)-'a':
				matrix = append(matrix, -1)
			default:
				matrix = append(matrix, 0)
			}
		}
	}
	return matrix
}

func calibrationMatrix(indexed map[FourCC]KLV) []float64 {
	if mtrx, ok := indexed[keyMTRX]; ok {
		matrix := flattenRows(mtrx)
		if isCalibrationMatrix(matrix) {
			return matrix
		}
	}
	orin, okIn := indexed[keyORIN]
	orio, okOut := indexed[keyORIO]
	if okIn && okOut {
		return buildOrientationMatrix(joinRaw(orin), joinRaw(orio))
	}
	return nil
}

func applyMatrix(matrix, values []float64) []float64 {
	size := len(values)
	out := make([]float64, size)
	for y := 0; y < size; y++ {
		var sum float64
		for x := 0; x < size; x++ {
			sum += matrix[y*size+x] * values[x]
		}
		out[y] = sum
	}
	return out
}

// scaleAndCalibrate decodes one sensor stream: values are re-oriented by
// MTRX or ORIN/ORIO when present, then divided per-axis by SCAL. A single
// SCAL value applies to every axis; zero divisors are treated as one.
func scaleAndCalibrate(stream []KLV, key FourCC) [][]float64 {
	indexed := indexKLVs(stream)

	klv, ok := indexed[key]
	if !ok {
		return nil
	}

	scals := flattenRows(indexed[keySCAL])
	for i, s := range scals {
		if s == 0 {
			scals[i] = 1
		}
	}
	if len(scals) == 0 {
		scals = []float64{1}
	}
	single := len(scals) == 1

	matrix := calibrationMatrix(indexed)

	out := make([][]float64, 0, len(klv.Rows))
	for _, row := range klv.Rows {
		values := row
		if matrix != nil && len(matrix) == len(row)*len(row) {
			values = applyMatrix(matrix, row)
		}
		n := len(values)
		if !single && len(scals) < n {
			n = len(scals)
		}
		scaled := make([]float64, n)
		for i := 0; i < n; i++ {
			if single {
				scaled[i] = values[i] / scals[0]
			} else {
				scaled[i] = values[i] / scals[i]
			}
		}
		out = append(out, scaled)
	}
	return out
}

func findFirstSensorStream(stream []KLV, key FourCC) [][]float64 {
	for _, klv := range stream {
		if klv.Key != keySTRM {
			continue
		}
		if rows := scaleAndCalibrate(klv.Nested, key); len(rows) > 0 {
			return rows
		}
	}
	return nil
}

// imuSamples spreads the rows of one sample evenly across its duration.
// Sensor rows are stored z, x, y.
func imuSamples(sample mp4.Sample, rows [][]float64) []telemetry.IMUSample {
	avg := sample.ExactTimeDelta / float64(len(rows))
	out := make([]telemetry.IMUSample, 0, len(rows))
	for idx, row := range rows {
		if len(row) < 3 {
			continue
		}
		out = append(out, telemetry.IMUSample{
			Time: sample.ExactTime + avg*float64(idx),
			Z:    row[0],
			X:    row[1],
			Y:    row[2],
		})
	}
	return out
}

// backfillEpochTimes fills missing epoch hints by shifting the nearest
// anchored point by the video-clock delta, forward first and then backward
// from the first anchor.
func backfillEpochTimes(points []telemetry.GPSPoint) {
	first := 0
	for ; first < len(points); first++ {
		if points[first].Epoch != nil {
			break
		}
	}
	if first == len(points) {
		return
	}

	lastEpoch, lastTime := *points[first].Epoch, points[first].Time
	for i := first + 1; i < len(points); i++ {
		if points[i].Epoch == nil {
			e := lastEpoch + (points[i].Time - lastTime)
			points[i].Epoch = &e
		}
		lastEpoch, lastTime = *points[i].Epoch, points[i].Time
	}

	lastEpoch, lastTime = *points[first].Epoch, points[first].Time
	for i := first - 1; i >= 0; i-- {
		if points[i].Epoch == nil {
			e := lastEpoch + (points[i].Time - lastTime)
			points[i].Epoch = &e
		}
		lastEpoch, lastTime = *points[i].Epoch, points[i].Time
	}
}

// extractFromSamples decodes every gpmd sample and keeps, per stream kind,
// the series of the first device that produced it.
func extractFromSamples(rs io.ReadSeeker, samples []mp4.Sample) (*TelemetryData, error) {
	var data TelemetryData
	gpsID, acclID, gyroID, magnID := int64(-1), int64(-1), int64(-1), int64(-1)

	for _, sample := range samples {
		payload, err := mp4.ReadSampleData(rs, sample.RawSample)
		if err != nil {
			return nil, err
		}

		for _, device := range Parse(payload) {
			if device.Key != keyDEVC {
				continue
			}
			deviceID := findFirstDeviceID(device.Nested)

			points, err := findFirstGPSStream(device.Nested)
			if err != nil {
				return nil, err
			}
			if len(points) > 0 && (gpsID == -1 || gpsID == deviceID) {
				gpsID = deviceID
				avg := sample.ExactTimeDelta / float64(len(points))
				for i := range points {
					points[i].Time = sample.ExactTime + avg*float64(i)
				}
				data.GPS = append(data.GPS, points...)
			}

			if rows := findFirstSensorStream(device.Nested, keyACCL); len(rows) > 0 && (acclID == -1 || acclID == deviceID) {
				acclID = deviceID
				data.IMU.Accelerometer = append(data.IMU.Accelerometer, imuSamples(sample, rows)...)
			}
			if rows := findFirstSensorStream(device.Nested, keyGYRO); len(rows) > 0 && (gyroID == -1 || gyroID == deviceID) {
				gyroID = deviceID
				data.IMU.Gyroscope = append(data.IMU.Gyroscope, imuSamples(sample, rows)...)
			}
			if rows := findFirstSensorStream(device.Nested, keyMAGN); len(rows) > 0 && (magnID == -1 || magnID == deviceID) {
				magnID = deviceID
				data.IMU.Magnetometer = append(data.IMU.Magnetometer, imuSamples(sample, rows)...)
			}
		}
	}

	backfillEpochTimes(data.GPS)
	return &data, nil
}

func trackHasGpmd(track *mp4.Track) (bool, error) {
	descriptions, err := track.SampleDescriptions()
	if err != nil {
		return false, err
	}
	for _, d := range descriptions {
		if d.Format == formatGpmd {
			return true, nil
		}
	}
	return false, nil
}

func gpmdSamples(track *mp4.Track) ([]mp4.Sample, error) {
	samples, err := track.Samples()
	if err != nil {
		return nil, err
	}
	filtered := samples[:0:0]
	for _, s := range samples {
		if s.Description.Format == formatGpmd {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// ExtractPoints returns the GPS points of the first GPMF device carrying
// them. A video without any gpmd track returns nil points; a gpmd track
// without GPS returns empty points.
func ExtractPoints(rs io.ReadSeeker) ([]telemetry.GPSPoint, error) {
	movie, err := mp4.ParseMovie(rs)
	if err != nil {
		return nil, err
	}

	hadTrack := false
	for _, track := range movie.Tracks() {
		has, err := trackHasGpmd(track)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}
		hadTrack = true

		samples, err := gpmdSamples(track)
		if err != nil {
			return nil, err
		}
		data, err := extractFromSamples(rs, samples)
		if err != nil {
			return nil, err
		}
		if len(data.GPS) > 0 {
			return data.GPS, nil
		}
	}

	if hadTrack {
		return []telemetry.GPSPoint{}, nil
	}
	return nil, nil
}

// ExtractTelemetryData returns all streams of the first gpmd track with
// GPS, or nil when no track carries any.
func ExtractTelemetryData(rs io.ReadSeeker) (*TelemetryData, error) {
	movie, err := mp4.ParseMovie(rs)
	if err != nil {
		return nil, err
	}

	for _, track := range movie.Tracks() {
		has, err := trackHasGpmd(track)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}

		samples, err := gpmdSamples(track)
		if err != nil {
			return nil, err
		}
		data, err := extractFromSamples(rs, samples)
		if err != nil {
			return nil, err
		}
		if len(data.GPS) > 0 {
			return data, nil
		}
	}
	return nil, nil
}

// ExtractDeviceNames maps device ids to the DVNM names found in the first
// gpmd track that has any.
func ExtractDeviceNames(rs io.ReadSeeker) (map[int64]string, error) {
	movie, err := mp4.ParseMovie(rs)
	if err != nil {
		return nil, err
	}

	for _, track := range movie.Tracks() {
		has, err := trackHasGpmd(track)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}

		samples, err := gpmdSamples(track)
		if err != nil {
			return nil, err
		}

		names := make(map[int64]string)
		for _, sample := range samples {
			payload, err := mp4.ReadSampleData(rs, sample.RawSample)
			if err != nil {
				return nil, err
			}
			for _, device := range Parse(payload) {
				if device.Key != keyDEVC {
					continue
				}
				deviceID := findFirstDeviceID(device.Nested)
				for _, klv := range device.Nested {
					// The name comes as one string or as single chars.
					if klv.Key == keyDVNM && len(klv.Raw) > 0 {
						names[deviceID] = string(joinRaw(klv))
					}
				}
			}
		}
		if len(names) > 0 {
			return names, nil
		}
	}
	return nil, nil
}

// ExtractCameraModel picks the camera model from the device names,
// preferring names mentioning hero, then gopro.
func ExtractCameraModel(rs io.ReadSeeker) (string, error) {
	names, err := ExtractDeviceNames(rs)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}

	unicodeNames := make([]string, 0, len(names))
	for _, name := range names {
		if utf8.ValidString(name) {
			unicodeNames = append(unicodeNames, name)
		}
	}
	if len(unicodeNames) == 0 {
		return "", nil
	}
	sort.Strings(unicodeNames)

	for _, name := range unicodeNames {
		if strings.Contains(strings.ToLower(name), "hero") {
			return strings.TrimSpace(name), nil
		}
	}
	for _, name := range unicodeNames {
		if strings.Contains(strings.ToLower(name), "gopro") {
			return strings.TrimSpace(name), nil
		}
	}
	return strings.TrimSpace(unicodeNames[0]), nil
}
