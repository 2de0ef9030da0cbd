package mp4

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// Movie wraps a moov payload held in memory. The movie box of real files is
// small; sample payloads stay in the stream and are never loaded here.
type Movie struct {
	data   []byte
	tracks []*Track
}

// Track wraps one trak payload.
type Track struct {
	data []byte
}

// MovieHeader carries the mvhd fields the telemetry decoders need.
// CreationTime and ModificationTime are seconds since the 1904 epoch.
type MovieHeader struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
}

// MediaHeader carries the mdhd fields of one track.
type MediaHeader struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
}

// EditEntry is one elst entry. SegmentDuration is in movie timescale units;
// MediaTime is in media timescale units, with -1 marking an empty edit.
type EditEntry struct {
	SegmentDuration   uint64
	MediaTime         int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// ParseMovie locates the top-level moov box and parses its track layout.
func ParseMovie(rs io.ReadSeeker) (*Movie, error) {
	data, err := ReadBoxData(rs, -1, true, Path(TypeMoov))
	if err != nil {
		return nil, err
	}
	return NewMovie(data)
}

// NewMovie parses the track layout of a moov payload.
func NewMovie(data []byte) (*Movie, error) {
	m := &Movie{data: data}
	err := WalkBoxes(bytes.NewReader(data), int64(len(data)), false, func(h Header, r io.ReadSeeker) error {
		if h.Type != TypeTrak {
			return nil
		}
		payload, err := readPayload(r, h)
		if err != nil {
			return err
		}
		m.tracks = append(m.tracks, &Track{data: payload})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Data returns the moov payload.
func (m *Movie) Data() []byte {
	return m.data
}

// Tracks returns the movie's tracks in file order.
func (m *Movie) Tracks() []*Track {
	return m.tracks
}

// MovieHeader decodes the mvhd box.
func (m *Movie) MovieHeader() (MovieHeader, error) {
	data, err := ReadBoxData(bytes.NewReader(m.data), int64(len(m.data)), false, Path(TypeMvhd))
	if err != nil {
		return MovieHeader{}, err
	}
	c := &cursor{buf: data, box: TypeMvhd}
	version := c.u8()
	c.skip(3)
	var h MovieHeader
	if version == 1 {
		h.CreationTime = c.u64()
		h.ModificationTime = c.u64()
		h.Timescale = c.u32()
		h.Duration = c.u64()
	} else {
		h.CreationTime = uint64(c.u32())
		h.ModificationTime = uint64(c.u32())
		h.Timescale = c.u32()
		h.Duration = uint64(c.u32())
	}
	return h, c.err
}

func (t *Track) boxData(path [][]BoxType) ([]byte, error) {
	return ReadBoxData(bytes.NewReader(t.data), int64(len(t.data)), false, path)
}

// HandlerType returns the mdia handler type, e.g. "vide" or "soun".
func (t *Track) HandlerType() (BoxType, error) {
	data, err := t.boxData(Path(TypeMdia, TypeHdlr))
	if err != nil {
		return BoxType{}, err
	}
	c := &cursor{buf: data, box: TypeHdlr}
	c.skip(8)
	var ht BoxType
	copy(ht[:], c.need(4))
	return ht, c.err
}

// IsVideo reports whether the track carries video.
func (t *Track) IsVideo() bool {
	ht, err := t.HandlerType()
	return err == nil && ht == BoxType{'v', 'i', 'd', 'e'}
}

// MediaHeader decodes the track's mdhd box, which is required.
func (t *Track) MediaHeader() (MediaHeader, error) {
	data, err := t.boxData(Path(TypeMdia, TypeMdhd))
	if err != nil {
		return MediaHeader{}, err
	}
	c := &cursor{buf: data, box: TypeMdhd}
	version := c.u8()
	c.skip(3)
	var h MediaHeader
	if version == 1 {
		h.CreationTime = c.u64()
		h.ModificationTime = c.u64()
		h.Timescale = c.u32()
		h.Duration = c.u64()
	} else {
		h.CreationTime = uint64(c.u32())
		h.ModificationTime = uint64(c.u32())
		h.Timescale = c.u32()
		h.Duration = uint64(c.u32())
	}
	return h, c.err
}

// EditList decodes the track's elst entries. A track without an edit list
// returns nil entries and no error.
func (t *Track) EditList() ([]EditEntry, error) {
	data, err := t.boxData(Path(TypeEdts, TypeElst))
	if err != nil {
		var notFound *BoxNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	c := &cursor{buf: data, box: TypeElst}
	version := c.u8()
	c.skip(3)
	entrySize := 12
	if version == 1 {
		entrySize = 20
	}
	count := c.entryCount(entrySize)
	entries := make([]EditEntry, 0, count)
	for i := uint32(0); i < count && c.err == nil; i++ {
		var e EditEntry
		if version == 1 {
			e.SegmentDuration = c.u64()
			e.MediaTime = c.i64()
		} else {
			e.SegmentDuration = uint64(c.u32())
			e.MediaTime = int64(c.i32())
		}
		e.MediaRateInteger = c.i16()
		e.MediaRateFraction = c.i16()
		entries = append(entries, e)
	}
	return entries, c.err
}

// SampleDescriptions decodes the track's stsd entries without touching the
// other sample tables.
func (t *Track) SampleDescriptions() ([]SampleDescription, error) {
	data, err := t.boxData(Path(TypeMdia, TypeMinf, TypeStbl, TypeStsd))
	if err != nil {
		return nil, err
	}
	return parseStsd(data)
}

// RawSamples decodes the track's sample tables into file-located samples.
func (t *Track) RawSamples() ([]RawSample, error) {
	stbl, err := t.boxData(Path(TypeMdia, TypeMinf, TypeStbl))
	if err != nil {
		return nil, err
	}
	_, raw, err := ExtractRawSamplesFromStbl(stbl)
	return raw, err
}

// Samples decodes the track's sample tables and resolves media times
// against the track timescale.
func (t *Track) Samples() ([]Sample, error) {
	mdhd, err := t.MediaHeader()
	if err != nil {
		return nil, err
	}
	stbl, err := t.boxData(Path(TypeMdia, TypeMinf, TypeStbl))
	if err != nil {
		return nil, err
	}
	return ExtractSamplesFromStbl(stbl, mdhd.Timescale)
}

var epoch1904 = time.Date(1904, time.January, 1, 0, 0, 0, 0, time.UTC)

// ToTime converts seconds since the 1904 epoch, as stored in mvhd and mdhd,
// to UTC time.
func ToTime(seconds uint64) time.Time {
	return epoch1904.Add(time.Duration(seconds) * time.Second)
}
