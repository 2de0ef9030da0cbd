// Package gpx reads GPX 1.1 track files as an external telemetry source
// for geotagging images that carry no embedded GPS.
package gpx

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/camtrail/camtrail/pkg/geo"
)

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Ele  *float64 `xml:"ele"`
	Time string   `xml:"time"`
}

// ParseReader decodes GPX tracks into telemetry segments, one per trkseg,
// each sorted by time. Point times are seconds since the Unix epoch.
// Points without a parseable timestamp are dropped.
func ParseReader(r io.Reader) ([][]geo.Point, error) {
	var parsed gpxFile
	if err := xml.NewDecoder(r).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode gpx: %w", err)
	}

	var tracks [][]geo.Point
	for _, trk := range parsed.Tracks {
		for _, seg := range trk.Segments {
			points := make([]geo.Point, 0, len(seg.Points))
			for _, tp := range seg.Points {
				ts, err := parseTime(tp.Time)
				if err != nil {
					continue
				}
				p := geo.Point{
					Time: ts,
					Lat:  tp.Lat,
					Lon:  tp.Lon,
				}
				if tp.Ele != nil {
					ele := *tp.Ele
					p.Alt = &ele
				}
				points = append(points, p)
			}
			if len(points) == 0 {
				continue
			}
			sort.SliceStable(points, func(i, j int) bool {
				return points[i].Time < points[j].Time
			})
			tracks = append(tracks, points)
		}
	}
	return tracks, nil
}

// Parse reads a GPX file from disk.
func Parse(path string) ([][]geo.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gpx: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

func parseTime(s string) (float64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return float64(t.UnixNano()) / 1e9, nil
}
