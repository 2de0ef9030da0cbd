package mp4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// RawSample locates one sample in the container stream. DescriptionIdx is
// 1-based, as in the sample-to-chunk table. TimeDelta and CompositionOffset
// are in media timescale units.
type RawSample struct {
	DescriptionIdx    uint32
	Offset            int64
	Size              int64
	TimeDelta         int64
	CompositionOffset int64
	IsSync            bool
}

// SampleDescription is one sample description entry. Data holds the entry
// payload after the format tag, undecoded.
type SampleDescription struct {
	Format BoxType
	Data   []byte
}

// Sample is a raw sample with its media times resolved against the track
// timescale, in seconds.
type Sample struct {
	RawSample
	ExactTime            float64
	ExactCompositionTime float64
	ExactTimeDelta       float64
	Description          SampleDescription
}

type chunkEntry struct {
	firstChunk      uint32
	samplesPerChunk uint32
	descriptionIdx  uint32
}

// cursor reads big-endian fields out of a table payload with a sticky
// truncation error.
type cursor struct {
	buf []byte
	off int
	box BoxType
	err error
}

func (c *cursor) need(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.buf) {
		c.err = &ParseError{Type: c.box, Offset: -1, Msg: fmt.Sprintf("table truncated at byte %d", c.off)}
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) skip(n int) { c.need(n) }

func (c *cursor) u8() uint8 {
	b := c.need(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16() uint16 {
	b := c.need(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (c *cursor) u32() uint32 {
	b := c.need(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (c *cursor) u64() uint64 {
	b := c.need(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (c *cursor) i16() int16 { return int16(c.u16()) }
func (c *cursor) i32() int32 { return int32(c.u32()) }
func (c *cursor) i64() int64 { return int64(c.u64()) }

// entryCount reads a table entry count and rejects counts that cannot fit
// in the remaining payload, so a hostile count never drives allocation.
func (c *cursor) entryCount(entrySize int) uint32 {
	count := c.u32()
	if c.err == nil && int64(count)*int64(entrySize) > int64(len(c.buf)-c.off) {
		c.err = &ParseError{
			Type:   c.box,
			Offset: -1,
			Msg:    fmt.Sprintf("%d entries exceed %d remaining bytes", count, len(c.buf)-c.off),
		}
	}
	return count
}

func parseStsd(data []byte) ([]SampleDescription, error) {
	c := &cursor{buf: data, box: TypeStsd}
	c.skip(4)
	count := c.entryCount(8)
	descriptions := make([]SampleDescription, 0, count)
	for i := uint32(0); i < count && c.err == nil; i++ {
		entrySize := c.u32()
		var format BoxType
		copy(format[:], c.need(4))
		if c.err != nil {
			break
		}
		if entrySize < 8 {
			return nil, &ParseError{Type: TypeStsd, Offset: -1, Msg: fmt.Sprintf("description entry size %d too small", entrySize)}
		}
		payload := c.need(int(entrySize) - 8)
		if c.err != nil {
			break
		}
		descriptions = append(descriptions, SampleDescription{Format: format, Data: payload})
	}
	return descriptions, c.err
}

func parseStsz(data []byte) ([]int64, error) {
	c := &cursor{buf: data, box: TypeStsz}
	c.skip(4)
	sampleSize := c.u32()
	if sampleSize != 0 {
		count := c.u32()
		if c.err != nil {
			return nil, c.err
		}
		sizes := make([]int64, count)
		for i := range sizes {
			sizes[i] = int64(sampleSize)
		}
		return sizes, nil
	}
	count := c.entryCount(4)
	sizes := make([]int64, 0, count)
	for i := uint32(0); i < count && c.err == nil; i++ {
		sizes = append(sizes, int64(c.u32()))
	}
	return sizes, c.err
}

func parseChunkOffsets(data []byte, box BoxType) ([]int64, error) {
	c := &cursor{buf: data, box: box}
	c.skip(4)
	entrySize := 4
	if box == TypeCo64 {
		entrySize = 8
	}
	count := c.entryCount(entrySize)
	offsets := make([]int64, 0, count)
	for i := uint32(0); i < count && c.err == nil; i++ {
		if box == TypeCo64 {
			offsets = append(offsets, c.i64())
		} else {
			offsets = append(offsets, int64(c.u32()))
		}
	}
	return offsets, c.err
}

func parseStsc(data []byte) ([]chunkEntry, error) {
	c := &cursor{buf: data, box: TypeStsc}
	c.skip(4)
	count := c.entryCount(12)
	entries := make([]chunkEntry, 0, count)
	for i := uint32(0); i < count && c.err == nil; i++ {
		entries = append(entries, chunkEntry{
			firstChunk:      c.u32(),
			samplesPerChunk: c.u32(),
			descriptionIdx:  c.u32(),
		})
	}
	return entries, c.err
}

// parseStts expands decoding-delta runs into one delta per sample. parseCtts
// does the same for composition offsets, which are signed.
func parseStts(data []byte) ([]int64, error) {
	c := &cursor{buf: data, box: TypeStts}
	c.skip(4)
	count := c.entryCount(8)
	var timedeltas []int64
	for i := uint32(0); i < count && c.err == nil; i++ {
		sampleCount := c.u32()
		delta := int64(c.u32())
		for j := uint32(0); j < sampleCount && c.err == nil; j++ {
			timedeltas = append(timedeltas, delta)
		}
	}
	return timedeltas, c.err
}

func parseCtts(data []byte) ([]int64, error) {
	c := &cursor{buf: data, box: TypeCtts}
	c.skip(4)
	count := c.entryCount(8)
	var offsets []int64
	for i := uint32(0); i < count && c.err == nil; i++ {
		sampleCount := c.u32()
		offset := int64(c.i32())
		for j := uint32(0); j < sampleCount && c.err == nil; j++ {
			offsets = append(offsets, offset)
		}
	}
	return offsets, c.err
}

func parseStss(data []byte) (map[uint32]bool, error) {
	c := &cursor{buf: data, box: TypeStss}
	c.skip(4)
	count := c.entryCount(4)
	syncs := make(map[uint32]bool, count)
	for i := uint32(0); i < count && c.err == nil; i++ {
		syncs[c.u32()] = true
	}
	return syncs, c.err
}

// ExtractRawSamplesFromStbl decodes the child tables of an stbl payload and
// tiles them into one RawSample per sample. Tracks with fewer decoding
// deltas or composition offsets than samples are padded with zeros; a sync
// table missing entirely marks every sample sync.
func ExtractRawSamplesFromStbl(stbl []byte) ([]SampleDescription, []RawSample, error) {
	var (
		descriptions       []SampleDescription
		sizes              []int64
		chunkOffsets       []int64
		chunkEntries       []chunkEntry
		timedeltas         []int64
		compositionOffsets []int64
		hasCtts            bool
		syncs              map[uint32]bool
	)

	err := WalkBoxes(bytes.NewReader(stbl), int64(len(stbl)), false, func(h Header, r io.ReadSeeker) error {
		data, err := readPayload(r, h)
		if err != nil {
			return err
		}
		switch h.Type {
		case TypeStsd:
			descriptions, err = parseStsd(data)
		case TypeStsz:
			sizes, err = parseStsz(data)
		case TypeStco, TypeCo64:
			chunkOffsets, err = parseChunkOffsets(data, h.Type)
		case TypeStsc:
			chunkEntries, err = parseStsc(data)
		case TypeStts:
			timedeltas, err = parseStts(data)
		case TypeCtts:
			compositionOffsets, err = parseCtts(data)
			hasCtts = true
		case TypeStss:
			syncs, err = parseStss(data)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	// Some encoders write fewer deltas than samples.
	for len(timedeltas) < len(sizes) {
		timedeltas = append(timedeltas, 0)
	}
	if !hasCtts {
		compositionOffsets = make([]int64, len(sizes))
	}
	for len(compositionOffsets) < len(sizes) {
		compositionOffsets = append(compositionOffsets, 0)
	}

	raw, err := buildRawSamples(sizes, chunkEntries, chunkOffsets, timedeltas, compositionOffsets, syncs)
	if err != nil {
		return nil, nil, err
	}
	return descriptions, raw, nil
}

func buildRawSamples(sizes []int64, chunkEntries []chunkEntry, chunkOffsets []int64, timedeltas, compositionOffsets []int64, syncs map[uint32]bool) ([]RawSample, error) {
	if len(chunkEntries) == 0 {
		return nil, nil
	}

	samples := make([]RawSample, 0, len(sizes))
	sampleIdx := 0
	chunkIdx := 0

	emitChunk := func(entry chunkEntry) error {
		if chunkIdx >= len(chunkOffsets) {
			return &ParseError{
				Type:   TypeStco,
				Offset: -1,
				Msg:    fmt.Sprintf("chunk %d referenced but only %d chunk offsets", chunkIdx+1, len(chunkOffsets)),
			}
		}
		sampleOffset := chunkOffsets[chunkIdx]
		for i := uint32(0); i < entry.samplesPerChunk && sampleIdx < len(sizes); i++ {
			samples = append(samples, RawSample{
				DescriptionIdx:    entry.descriptionIdx,
				Offset:            sampleOffset,
				Size:              sizes[sampleIdx],
				TimeDelta:         timedeltas[sampleIdx],
				CompositionOffset: compositionOffsets[sampleIdx],
				IsSync:            syncs == nil || syncs[uint32(sampleIdx+1)],
			})
			sampleOffset += sizes[sampleIdx]
			sampleIdx++
		}
		chunkIdx++
		return nil
	}

	for entryIdx, entry := range chunkEntries {
		nbrChunks := uint32(1)
		if entryIdx+1 < len(chunkEntries) {
			next := chunkEntries[entryIdx+1]
			if next.firstChunk > entry.firstChunk {
				nbrChunks = next.firstChunk - entry.firstChunk
			}
		}
		for i := uint32(0); i < nbrChunks; i++ {
			if err := emitChunk(entry); err != nil {
				return nil, err
			}
		}
	}

	// Remaining samples repeat the last chunk run.
	last := chunkEntries[len(chunkEntries)-1]
	for sampleIdx < len(sizes) {
		if err := emitChunk(last); err != nil {
			return nil, err
		}
	}

	return samples, nil
}

// ExtractSamplesFromStbl decodes an stbl payload and resolves each sample's
// media times against the given timescale.
func ExtractSamplesFromStbl(stbl []byte, timescale uint32) ([]Sample, error) {
	if timescale == 0 {
		return nil, &ParseError{Type: TypeMdhd, Offset: -1, Msg: "zero media timescale"}
	}
	descriptions, raw, err := ExtractRawSamplesFromStbl(stbl)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(raw))
	accDelta := int64(0)
	for _, r := range raw {
		if r.DescriptionIdx < 1 || int(r.DescriptionIdx) > len(descriptions) {
			return nil, &ParseError{
				Type:   TypeStsd,
				Offset: -1,
				Msg:    fmt.Sprintf("sample description index %d out of range 1..%d", r.DescriptionIdx, len(descriptions)),
			}
		}
		samples = append(samples, Sample{
			RawSample:            r,
			ExactTime:            float64(accDelta) / float64(timescale),
			ExactCompositionTime: float64(accDelta+r.CompositionOffset) / float64(timescale),
			ExactTimeDelta:       float64(r.TimeDelta) / float64(timescale),
			Description:          descriptions[r.DescriptionIdx-1],
		})
		accDelta += r.TimeDelta
	}
	return samples, nil
}

// ReadSampleData reads one sample payload from the container stream.
func ReadSampleData(rs io.ReadSeeker, s RawSample) ([]byte, error) {
	if _, err := rs.Seek(s.Offset, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, s.Size)
	if _, err := io.ReadFull(rs, buf); err != nil {
		return nil, fmt.Errorf("read %d-byte sample at offset %d: %w", s.Size, s.Offset, err)
	}
	return buf, nil
}
