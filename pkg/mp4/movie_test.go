package mp4

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hdlrBox(handler string) []byte {
	body := fullbox(make([]byte, 4))
	body = append(body, handler...)
	body = append(body, make([]byte, 12)...)
	return bx("hdlr", body)
}

func mdhdV0Box(creation, timescale, duration uint32) []byte {
	body := fullbox(be32(creation), be32(0), be32(timescale), be32(duration))
	body = append(body, 0, 0, 0, 0)
	return bx("mdhd", body)
}

func mvhdV0Box(timescale, duration uint32) []byte {
	body := fullbox(be32(0), be32(0), be32(timescale), be32(duration))
	body = append(body, make([]byte, 80)...)
	return bx("mvhd", body)
}

func TestParseMovieTracks(t *testing.T) {
	creation := uint32(time.Date(2023, time.April, 5, 6, 7, 8, 0, time.UTC).Sub(epoch1904) / time.Second)

	telemetryStbl := concat(
		stsdBox("camm"),
		stszBox(0, 2, 2),
		stscBox([3]uint32{1, 2, 1}),
		stcoBox(1000),
		sttsBox([2]uint32{2, 500}),
	)

	elstBody := fullbox(be32(2),
		be32(100), be32(0xFFFFFFFF), be32(1<<16),
		be32(200), be32(3000), be32(1<<16),
	)

	file := bx("ftyp", []byte("isom"))
	file = append(file, bx("moov",
		mvhdV0Box(1000, 5000),
		bx("trak",
			bx("mdia",
				mdhdV0Box(creation, 30000, 150000),
				hdlrBox("vide"),
				bx("minf", bx("stbl", stsdBox("avc1"))),
			),
		),
		bx("trak",
			bx("edts", bx("elst", elstBody)),
			bx("mdia",
				mdhdV0Box(creation, 1000, 1000),
				hdlrBox("soun"),
				bx("minf", bx("stbl", telemetryStbl)),
			),
		),
	)...)
	file = append(file, bx("mdat", make([]byte, 64))...)

	movie, err := ParseMovie(bytes.NewReader(file))
	require.NoError(t, err)
	require.Len(t, movie.Tracks(), 2)

	mvhd, err := movie.MovieHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), mvhd.Timescale)
	assert.Equal(t, uint64(5000), mvhd.Duration)

	video := movie.Tracks()[0]
	assert.True(t, video.IsVideo())
	mdhd, err := video.MediaHeader()
	require.NoError(t, err)
	assert.Equal(t, uint32(30000), mdhd.Timescale)
	assert.Equal(t,
		time.Date(2023, time.April, 5, 6, 7, 8, 0, time.UTC),
		ToTime(mdhd.CreationTime))

	edits, err := video.EditList()
	require.NoError(t, err)
	assert.Nil(t, edits)

	telemetry := movie.Tracks()[1]
	assert.False(t, telemetry.IsVideo())

	descriptions, err := telemetry.SampleDescriptions()
	require.NoError(t, err)
	require.Len(t, descriptions, 1)
	assert.Equal(t, typ("camm"), descriptions[0].Format)

	samples, err := telemetry.Samples()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 0.0, samples[0].ExactTime)
	assert.Equal(t, 0.5, samples[1].ExactTime)
	assert.Equal(t, int64(1000), samples[0].Offset)
	assert.Equal(t, int64(1002), samples[1].Offset)

	edits, err = telemetry.EditList()
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, EditEntry{SegmentDuration: 100, MediaTime: -1, MediaRateInteger: 1}, edits[0])
	assert.Equal(t, EditEntry{SegmentDuration: 200, MediaTime: 3000, MediaRateInteger: 1}, edits[1])
}

func TestParseMovieMissingMoov(t *testing.T) {
	file := bx("ftyp", []byte("isom"))
	file = append(file, bx("mdat", make([]byte, 16))...)

	_, err := ParseMovie(bytes.NewReader(file))
	var notFound *BoxNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestMediaHeaderVersion1(t *testing.T) {
	body := []byte{1, 0, 0, 0}
	body = append(body, be64(3600)...)
	body = append(body, be64(3601)...)
	body = append(body, be32(90000)...)
	body = append(body, be64(900000)...)
	track := &Track{data: bx("mdia", bx("mdhd", body))}

	mdhd, err := track.MediaHeader()
	require.NoError(t, err)
	assert.Equal(t, uint64(3600), mdhd.CreationTime)
	assert.Equal(t, uint32(90000), mdhd.Timescale)
	assert.Equal(t, uint64(900000), mdhd.Duration)
}

func TestEditListVersion1(t *testing.T) {
	body := []byte{1, 0, 0, 0}
	body = append(body, be32(1)...)
	body = append(body, be64(400)...)
	body = append(body, be64(0xFFFFFFFFFFFFFFFF)...)
	body = append(body, 0, 1, 0, 0)
	track := &Track{data: bx("edts", bx("elst", body))}

	edits, err := track.EditList()
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, uint64(400), edits[0].SegmentDuration)
	assert.Equal(t, int64(-1), edits[0].MediaTime)
}

func TestTrackMissingMediaHeader(t *testing.T) {
	track := &Track{data: bx("mdia", hdlrBox("vide"))}
	_, err := track.MediaHeader()
	var notFound *BoxNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestToTime(t *testing.T) {
	assert.Equal(t, time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC), ToTime(0))
	assert.Equal(t, time.Date(1904, time.January, 2, 0, 0, 0, 0, time.UTC), ToTime(86400))
}
