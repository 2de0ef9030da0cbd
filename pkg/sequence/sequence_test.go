package sequence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/geotag"
)

// lonAt converts meters east of the origin into degrees of longitude at the
// equator, where a degree spans pi*WGS84A/180 meters.
func lonAt(meters float64) float64 {
	return meters * 180 / (math.Pi * geo.WGS84A)
}

func img(name string, t, eastMeters float64, angle *float64) geotag.ImageMetadata {
	return geotag.ImageMetadata{
		Filename: name,
		Time:     t,
		Lat:      0,
		Lon:      lonAt(eastMeters),
		Angle:    angle,
		Make:     "GoPro",
		Model:    "HERO11 Black",
		Width:    4000,
		Height:   3000,
	}
}

func deg(d float64) *float64 { return &d }

func names(images []geotag.ImageMetadata) []string {
	var out []string
	for _, im := range images {
		out = append(out, im.Filename)
	}
	return out
}

func TestSplitSequencesDistanceGap(t *testing.T) {
	images := []geotag.ImageMetadata{
		img("a.jpg", 0, 0, nil),
		img("b.jpg", 1, 1, nil),
		img("c.jpg", 2, 2, nil),
		img("d.jpg", 3, 702, nil),
		img("e.jpg", 4, 703, nil),
		img("f.jpg", 5, 704, nil),
	}

	seqs := SplitSequences(images, 600, 60)
	require.Len(t, seqs, 2)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, names(seqs[0]))
	assert.Equal(t, []string{"d.jpg", "e.jpg", "f.jpg"}, names(seqs[1]))

	var flat []geotag.ImageMetadata
	for _, s := range seqs {
		flat = append(flat, s...)
	}
	assert.Equal(t, images, flat)
}

func TestSplitSequencesTimeGap(t *testing.T) {
	images := []geotag.ImageMetadata{
		img("a.jpg", 0, 0, nil),
		img("b.jpg", 1, 1, nil),
		img("c.jpg", 61, 2, nil),
	}

	seqs := SplitSequences(images, 600, 60)
	require.Len(t, seqs, 2)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names(seqs[0]))
	assert.Equal(t, []string{"c.jpg"}, names(seqs[1]))
}

func TestSplitSequencesEmpty(t *testing.T) {
	assert.Empty(t, SplitSequences(nil, 600, 60))
}

func TestFlagDuplicates(t *testing.T) {
	seq := []geotag.ImageMetadata{
		img("a.jpg", 0, 0, deg(10)),
		img("b.jpg", 1, 0.05, deg(12)),
		img("c.jpg", 2, 0.2, deg(11)),
	}

	kept, dups := FlagDuplicates(seq, 0.1, 5)
	assert.Equal(t, []string{"a.jpg", "c.jpg"}, names(kept))
	require.Len(t, dups, 1)
	assert.Equal(t, "b.jpg", dups[0].Filename)

	var dup *DuplicateError
	require.ErrorAs(t, dups[0].Err, &dup)
	assert.InDelta(t, 0.05, dup.Distance, 0.001)
	assert.InDelta(t, 2, dup.AngleDelta, 0.001)
}

func TestFlagDuplicatesMissingBearing(t *testing.T) {
	seq := []geotag.ImageMetadata{
		img("a.jpg", 0, 0, deg(10)),
		img("b.jpg", 1, 0.05, nil),
	}

	kept, dups := FlagDuplicates(seq, 0.1, 5)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, names(kept))
	assert.Empty(t, dups)
}

func TestFlagDuplicatesAnchorStaysPut(t *testing.T) {
	seq := []geotag.ImageMetadata{
		img("a.jpg", 0, 0, deg(0)),
		img("b.jpg", 1, 0.08, deg(0)),
		img("c.jpg", 2, 0.16, deg(0)),
	}

	// b is a duplicate of a; c is 0.16 m from the anchor a, not 0.08 m
	// from b, so it survives.
	kept, dups := FlagDuplicates(seq, 0.1, 5)
	assert.Equal(t, []string{"a.jpg", "c.jpg"}, names(kept))
	require.Len(t, dups, 1)
	assert.Equal(t, "b.jpg", dups[0].Filename)
}

func TestInterpolateDirections(t *testing.T) {
	seq := []geotag.ImageMetadata{
		img("a.jpg", 0, 0, nil),
		img("b.jpg", 1, 10, deg(215)),
		img("c.jpg", 2, 20, nil),
		img("d.jpg", 3, 30, nil),
	}

	InterpolateDirections(seq)

	require.NotNil(t, seq[0].Angle)
	assert.InDelta(t, 90, *seq[0].Angle, 0.01) // due east toward b
	assert.Equal(t, 215.0, *seq[1].Angle)      // device bearing kept
	require.NotNil(t, seq[2].Angle)
	assert.InDelta(t, 90, *seq[2].Angle, 0.01)
	require.NotNil(t, seq[3].Angle)
	assert.InDelta(t, 90, *seq[3].Angle, 0.01) // last inherits its predecessor
}

func TestCapLength(t *testing.T) {
	var seq []geotag.ImageMetadata
	for i := 0; i < 7; i++ {
		seq = append(seq, img(string(rune('a'+i))+".jpg", float64(i), float64(i), nil))
	}

	chunks := CapLength([][]geotag.ImageMetadata{seq}, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 3)
	assert.Len(t, chunks[2], 1)
	assert.Equal(t, "g.jpg", chunks[2][0].Filename)
}

func TestProcessAssignsUUIDs(t *testing.T) {
	images := []geotag.ImageMetadata{
		img("trip/a.jpg", 0, 0, nil),
		img("trip/b.jpg", 1, 1, nil),
		img("trip/c.jpg", 2, 702, nil),
	}

	out, errs := Process(images, Options{})
	assert.Empty(t, errs)
	require.Len(t, out, 3)

	assert.NotEmpty(t, out[0].SequenceUUID)
	assert.Equal(t, out[0].SequenceUUID, out[1].SequenceUUID)
	assert.NotEqual(t, out[1].SequenceUUID, out[2].SequenceUUID)
}

func TestProcessGroupsByCamera(t *testing.T) {
	a := img("trip/a.jpg", 0, 0, nil)
	b := img("trip/b.jpg", 1, 1, nil)
	b.Model = "HERO9 Black"

	out, errs := Process([]geotag.ImageMetadata{a, b}, Options{})
	assert.Empty(t, errs)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].SequenceUUID, out[1].SequenceUUID)
}

func TestProcessNullIsland(t *testing.T) {
	bad := img("trip/bad.jpg", 0, 0, nil)
	bad.Lat, bad.Lon = 0, 0
	good := img("trip/good.jpg", 1, 1, nil)
	good.Lat = 1

	out, errs := Process([]geotag.ImageMetadata{bad, good}, Options{})
	require.Len(t, out, 1)
	assert.Equal(t, "trip/good.jpg", out[0].Filename)
	require.Len(t, errs, 1)
	assert.Equal(t, "trip/bad.jpg", errs[0].Filename)

	var nullIsland *NullIslandError
	assert.ErrorAs(t, errs[0].Err, &nullIsland)
}

func TestProcessCaptureSpeed(t *testing.T) {
	// 200 m in one second is 720 km/h, far past anything a capture run
	// should show, but below the 600 m sequence cutoff.
	images := []geotag.ImageMetadata{
		img("trip/a.jpg", 0, 0, nil),
		img("trip/b.jpg", 1, 200, nil),
	}

	out, errs := Process(images, Options{})
	assert.Empty(t, out)
	require.Len(t, errs, 2)

	var speed *CaptureSpeedError
	require.ErrorAs(t, errs[0].Err, &speed)
	assert.InDelta(t, 720, speed.SpeedKMH, 1)
	assert.Equal(t, 400.0, speed.MaxKMH)
}

func TestProcessSortsWithinGroup(t *testing.T) {
	images := []geotag.ImageMetadata{
		img("trip/b.jpg", 2, 2, nil),
		img("trip/a.jpg", 0, 0, nil),
		img("trip/c.jpg", 1, 1, nil),
	}

	out, errs := Process(images, Options{})
	assert.Empty(t, errs)
	assert.Equal(t, []string{"trip/a.jpg", "trip/c.jpg", "trip/b.jpg"}, names(out))
}

func TestProcessEmpty(t *testing.T) {
	out, errs := Process(nil, Options{})
	assert.Empty(t, out)
	assert.Empty(t, errs)
}
