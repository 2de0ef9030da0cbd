package mp4

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// bx builds a box with a 32-bit size header.
func bx(name string, payload ...[]byte) []byte {
	var body []byte
	for _, p := range payload {
		body = append(body, p...)
	}
	out := be32(uint32(8 + len(body)))
	out = append(out, name...)
	return append(out, body...)
}

func typ(name string) BoxType {
	var t BoxType
	copy(t[:], name)
	return t
}

type walked struct {
	header  Header
	payload []byte
}

func walkAll(t *testing.T, data []byte, extendEOF bool) []walked {
	t.Helper()
	var out []walked
	err := WalkBoxes(bytes.NewReader(data), -1, extendEOF, func(h Header, r io.ReadSeeker) error {
		payload, err := readPayload(r, h)
		if err != nil {
			return err
		}
		out = append(out, walked{header: h, payload: payload})
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestParseBoxHeaderZeroBudget(t *testing.T) {
	rs := bytes.NewReader([]byte("anything here"))
	h, err := ParseBoxHeader(rs, 0, true)
	require.NoError(t, err)
	assert.Equal(t, Header{}, h)

	pos, err := rs.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestParseBoxHeaderEmptyInput(t *testing.T) {
	h, err := ParseBoxHeader(bytes.NewReader(nil), -1, true)
	require.NoError(t, err)
	assert.Zero(t, h.HeaderSize)

	boxes := walkAll(t, nil, true)
	assert.Empty(t, boxes)
}

func TestWalkBoxesZeroSizeOnly(t *testing.T) {
	boxes := walkAll(t, []byte{0, 0, 0, 0}, true)
	require.Len(t, boxes, 1)
	assert.Equal(t, int64(4), boxes[0].header.HeaderSize)
	assert.Equal(t, BoxType{}, boxes[0].header.Type)
	assert.Empty(t, boxes[0].payload)
}

func TestWalkBoxesZeroSizeExtendsToEOF(t *testing.T) {
	data := append([]byte{0, 0, 0, 0}, "hellworld"...)
	boxes := walkAll(t, data, true)
	require.Len(t, boxes, 1)
	assert.Equal(t, typ("hell"), boxes[0].header.Type)
	assert.Equal(t, int64(8), boxes[0].header.HeaderSize)
	assert.Equal(t, []byte("world"), boxes[0].payload)
}

func TestWalkBoxesZeroSizeSwallowsFollowingBoxes(t *testing.T) {
	data := append([]byte{0, 0, 0, 0}, "hell"...)
	data = append(data, bx("ftyp", []byte("isom"))...)
	boxes := walkAll(t, data, true)
	require.Len(t, boxes, 1)
	assert.Equal(t, typ("hell"), boxes[0].header.Type)
	assert.Equal(t, bx("ftyp", []byte("isom")), boxes[0].payload)
}

func TestParseBoxHeaderExtendedSize(t *testing.T) {
	data := append([]byte{0, 0, 0, 1}, "hell"...)
	data = append(data, be64(21)...)
	data = append(data, "world"...)

	rs := bytes.NewReader(data)
	h, err := ParseBoxHeader(rs, -1, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.Size32)
	assert.Equal(t, int64(21), h.BoxSize)
	assert.Equal(t, int64(16), h.HeaderSize)
	assert.Equal(t, int64(5), h.MaxSize)

	payload, err := readPayload(rs, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), payload)
}

func TestHeaderBytesRoundTrip(t *testing.T) {
	plain := bx("trak", []byte("payload"))
	h, err := ParseBoxHeader(bytes.NewReader(plain), -1, false)
	require.NoError(t, err)
	assert.Equal(t, plain[:h.HeaderSize], h.Bytes())

	ext := append([]byte{0, 0, 0, 1}, "mdat"...)
	ext = append(ext, be64(21)...)
	ext = append(ext, "world"...)
	h, err = ParseBoxHeader(bytes.NewReader(ext), -1, false)
	require.NoError(t, err)
	assert.Equal(t, ext[:h.HeaderSize], h.Bytes())
}

func TestWalkBoxesSiblings(t *testing.T) {
	data := bx("ftyp", []byte("isom"))
	data = append(data, bx("free", []byte("xy"))...)
	data = append(data, bx("mdat", []byte("sampledata"))...)

	boxes := walkAll(t, data, true)
	require.Len(t, boxes, 3)
	assert.Equal(t, typ("ftyp"), boxes[0].header.Type)
	assert.Equal(t, typ("free"), boxes[1].header.Type)
	assert.Equal(t, typ("mdat"), boxes[2].header.Type)
	assert.Equal(t, []byte("sampledata"), boxes[2].payload)

	var total int64
	for _, b := range boxes {
		total += b.header.BoxSize
	}
	assert.Equal(t, int64(len(data)), total)
}

func TestWalkBoxesToleratesConsumerSeeks(t *testing.T) {
	data := bx("ftyp", []byte("isom"))
	data = append(data, bx("free", []byte("xy"))...)

	var types []BoxType
	err := WalkBoxes(bytes.NewReader(data), -1, true, func(h Header, r io.ReadSeeker) error {
		types = append(types, h.Type)
		// Disturb the cursor; the walker must still find the next sibling.
		_, err := r.Seek(0, io.SeekStart)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []BoxType{typ("ftyp"), typ("free")}, types)
}

func TestWalkBoxesAdvancesBySizeNotContent(t *testing.T) {
	// The mdat payload happens to look like a box header itself.
	wide := bx("wide")
	data := bx("mdat", wide)
	data = append(data, bx("free", []byte("abc"))...)

	boxes := walkAll(t, data, true)
	require.Len(t, boxes, 2)
	assert.Equal(t, typ("mdat"), boxes[0].header.Type)
	assert.Equal(t, wide, boxes[0].payload)
	assert.Equal(t, typ("free"), boxes[1].header.Type)
}

func TestWalkBoxesChildExceedsScope(t *testing.T) {
	child := append(be32(100), "trak"...)
	err := WalkBoxes(bytes.NewReader(child), 8, false, func(h Header, r io.ReadSeeker) error {
		return nil
	})
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, typ("trak"), rangeErr.Type)
	assert.True(t, IsParseError(err))
}

func TestWalkBoxesSizeSmallerThanHeader(t *testing.T) {
	data := append(be32(4), "trak"...)
	err := WalkBoxes(bytes.NewReader(data), -1, false, func(h Header, r io.ReadSeeker) error {
		return nil
	})
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, int64(8), rangeErr.Want)
	assert.Equal(t, int64(4), rangeErr.Have)
}

func TestWalkBoxesStop(t *testing.T) {
	data := bx("ftyp", []byte("isom"))
	data = append(data, bx("free", []byte("xy"))...)

	var count int
	err := WalkBoxes(bytes.NewReader(data), -1, true, func(h Header, r io.ReadSeeker) error {
		count++
		return ErrStopWalk
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWalkBoxesRecursive(t *testing.T) {
	file := bx("ftyp", []byte("isom"))
	file = append(file, bx("moov",
		bx("mvhd", make([]byte, 100)),
		bx("trak",
			bx("mdia",
				bx("hdlr", make([]byte, 24)),
			),
		),
	)...)
	file = append(file, bx("free")...)

	containers := map[BoxType]bool{
		TypeMoov: true,
		TypeTrak: true,
		TypeMdia: true,
	}

	type visit struct {
		typ   BoxType
		depth int
	}
	var visits []visit
	var totalAtTop int64
	err := WalkBoxesRecursive(bytes.NewReader(file), -1, containers, func(h Header, depth int, r io.ReadSeeker) error {
		visits = append(visits, visit{typ: h.Type, depth: depth})
		if depth == 0 {
			totalAtTop += h.BoxSize
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []visit{
		{typ("ftyp"), 0},
		{typ("moov"), 0},
		{typ("mvhd"), 1},
		{typ("trak"), 1},
		{typ("mdia"), 2},
		{typ("hdlr"), 3},
		{typ("free"), 0},
	}, visits)
	assert.Equal(t, int64(len(file)), totalAtTop)
}

func TestFindBoxDescendsPath(t *testing.T) {
	file := bx("ftyp", []byte("isom"))
	file = append(file, bx("moov",
		bx("trak", bx("tkhd", make([]byte, 84))),
		bx("trak", bx("mdia", bx("hdlr", []byte("handler")))),
	)...)

	data, err := ReadBoxData(bytes.NewReader(file), -1, true, Path(TypeMoov, TypeTrak, TypeMdia, TypeHdlr))
	require.NoError(t, err)
	assert.Equal(t, []byte("handler"), data)
}

func TestFindBoxAlternatives(t *testing.T) {
	scope := bx("stts", make([]byte, 8))
	scope = append(scope, bx("co64", []byte{0, 0, 0, 0, 0, 0, 0, 1})...)

	h, err := FindBox(bytes.NewReader(scope), int64(len(scope)), false, [][]BoxType{{TypeStco, TypeCo64}})
	require.NoError(t, err)
	assert.Equal(t, TypeCo64, h.Type)
}

func TestFindBoxNotFound(t *testing.T) {
	file := bx("moov", bx("trak", bx("tkhd")))
	_, err := FindBox(bytes.NewReader(file), -1, true, Path(TypeMoov, TypeTrak, TypeMdia))
	var notFound *BoxNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, IsParseError(err))
}

func TestReadBoxDataZeroSizeMoov(t *testing.T) {
	moovPayload := bx("mvhd", make([]byte, 100))
	file := bx("ftyp", []byte("isom"))
	file = append(file, 0, 0, 0, 0)
	file = append(file, "moov"...)
	file = append(file, moovPayload...)

	data, err := ReadBoxData(bytes.NewReader(file), -1, true, Path(TypeMoov))
	require.NoError(t, err)
	assert.Equal(t, moovPayload, data)
}
