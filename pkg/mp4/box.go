// Package mp4 reads ISO base media (MP4/QuickTime) containers: bounded box
// traversal, path lookup, and sample-table decoding. Every read is budgeted
// by the enclosing box so a malformed child can never escape its parent.
package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// Known box types.
var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeMvhd = BoxType{'m', 'v', 'h', 'd'}
	TypeTrak = BoxType{'t', 'r', 'a', 'k'}
	TypeTkhd = BoxType{'t', 'k', 'h', 'd'}
	TypeEdts = BoxType{'e', 'd', 't', 's'}
	TypeElst = BoxType{'e', 'l', 's', 't'}
	TypeMdia = BoxType{'m', 'd', 'i', 'a'}
	TypeMdhd = BoxType{'m', 'd', 'h', 'd'}
	TypeHdlr = BoxType{'h', 'd', 'l', 'r'}
	TypeMinf = BoxType{'m', 'i', 'n', 'f'}
	TypeStbl = BoxType{'s', 't', 'b', 'l'}
	TypeStsd = BoxType{'s', 't', 's', 'd'}
	TypeStts = BoxType{'s', 't', 't', 's'}
	TypeCtts = BoxType{'c', 't', 't', 's'}
	TypeStsc = BoxType{'s', 't', 's', 'c'}
	TypeStsz = BoxType{'s', 't', 's', 'z'}
	TypeStco = BoxType{'s', 't', 'c', 'o'}
	TypeCo64 = BoxType{'c', 'o', '6', '4'}
	TypeStss = BoxType{'s', 't', 's', 's'}
	TypeUdta = BoxType{'u', 'd', 't', 'a'}
	TypeMdat = BoxType{'m', 'd', 'a', 't'}
	TypeFree = BoxType{'f', 'r', 'e', 'e'}
)

// Header describes one parsed box. BoxSize includes the header bytes; a
// BoxSize of 0 means the box extends to the end of its scope, which is
// allowed only where EOF extension is enabled. MaxSize is the byte budget
// available for the box payload, or -1 when open-ended.
type Header struct {
	HeaderSize int64
	Type       BoxType
	Size32     uint32
	BoxSize    int64
	MaxSize    int64
}

// Bytes serializes the header back to wire form: size32, type, and the
// extended size when the header carried one.
func (h Header) Bytes() []byte {
	buf := make([]byte, 0, 16)
	buf = binary.BigEndian.AppendUint32(buf, h.Size32)
	buf = append(buf, h.Type[:]...)
	if h.HeaderSize == 16 {
		buf = binary.BigEndian.AppendUint64(buf, uint64(h.BoxSize))
	}
	return buf
}

// RangeError reports a declared size that does not fit the bytes available
// to it.
type RangeError struct {
	Type   BoxType
	Offset int64
	Want   int64
	Have   int64
}

func (e *RangeError) Error() string {
	if e.Type == (BoxType{}) {
		return fmt.Sprintf("request %d bytes but %d bytes remain", e.Want, e.Have)
	}
	return fmt.Sprintf("box %s at offset %d: request %d bytes but %d bytes remain", e.Type, e.Offset, e.Want, e.Have)
}

// BoxNotFoundError reports a required box missing from the container.
type BoxNotFoundError struct {
	Path [][]BoxType
}

func (e *BoxNotFoundError) Error() string {
	return fmt.Sprintf("unable to find box at path %v", e.Path)
}

// ParseError reports a malformed structure inside a located box.
type ParseError struct {
	Type   BoxType
	Offset int64
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("box %s: %s", e.Type, e.Msg)
	}
	return fmt.Sprintf("box %s at offset %d: %s", e.Type, e.Offset, e.Msg)
}

// IsParseError reports whether err is a structural container failure, as
// opposed to an I/O error or a semantic condition.
func IsParseError(err error) bool {
	var rangeErr *RangeError
	var notFound *BoxNotFoundError
	var parseErr *ParseError
	return errors.As(err, &rangeErr) || errors.As(err, &notFound) || errors.As(err, &parseErr)
}

// ErrStopWalk stops a box walk early without reporting an error.
var ErrStopWalk = errors.New("stop box walk")

func sizeRemain(size, bound int64) (int64, error) {
	if bound == -1 {
		return -1, nil
	}
	remaining := bound - size
	if remaining < 0 {
		return 0, &RangeError{Want: size, Have: bound}
	}
	return remaining, nil
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// ParseBoxHeader reads one box header from rs, consuming at most maxsize
// bytes (-1 = unbounded). A returned HeaderSize of 0 means the scope is
// exhausted. When extendEOF is set, a declared size of 0 marks a box
// extending to the end of the scope; otherwise it is a range failure.
func ParseBoxHeader(rs io.ReadSeeker, maxsize int64, extendEOF bool) (Header, error) {
	read := func(n int64) ([]byte, error) {
		if maxsize != -1 && n > maxsize {
			n = maxsize
		}
		buf := make([]byte, n)
		got, err := io.ReadFull(rs, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		if maxsize != -1 {
			maxsize -= int64(got)
		}
		return buf[:got], nil
	}

	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return Header{}, err
	}

	sizeBytes, err := read(4)
	if err != nil {
		return Header{}, err
	}
	size32 := uint32(beUint(sizeBytes))

	typeBytes, err := read(4)
	if err != nil {
		return Header{}, err
	}
	var boxType BoxType
	copy(boxType[:], typeBytes)

	boxSize := int64(size32)
	if size32 == 1 {
		largeBytes, err := read(8)
		if err != nil {
			return Header{}, err
		}
		boxSize = int64(beUint(largeBytes))
	}

	end, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return Header{}, err
	}
	headerSize := end - start

	if !(extendEOF && size32 == 0) {
		dataSize, err := sizeRemain(headerSize, boxSize)
		if err != nil {
			return Header{}, &RangeError{Type: boxType, Offset: start, Want: headerSize, Have: boxSize}
		}
		if _, err := sizeRemain(dataSize, maxsize); err != nil {
			return Header{}, &RangeError{Type: boxType, Offset: start, Want: dataSize, Have: maxsize}
		}
		maxsize = dataSize
	}

	return Header{
		HeaderSize: headerSize,
		Type:       boxType,
		Size32:     size32,
		BoxSize:    boxSize,
		MaxSize:    maxsize,
	}, nil
}

// BoxFunc handles one box. The reader is positioned at the box payload and
// may be read or seeked freely; the walker restores the cursor afterwards.
type BoxFunc func(h Header, r io.ReadSeeker) error

// WalkBoxes iterates the sibling boxes of one scope in order, calling fn
// for each. The walk is forward-only: the underlying cursor advances as it
// goes. Returning ErrStopWalk from fn ends the walk cleanly, leaving the
// cursor at the current box's payload.
func WalkBoxes(rs io.ReadSeeker, maxsize int64, extendEOF bool, fn BoxFunc) error {
	for {
		offset, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}

		h, err := ParseBoxHeader(rs, maxsize, extendEOF)
		if err != nil {
			return err
		}
		if h.HeaderSize == 0 {
			return nil
		}

		if err := fn(h, rs); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}

		if extendEOF && h.Size32 == 0 {
			if maxsize == -1 {
				if _, err := rs.Seek(0, io.SeekEnd); err != nil {
					return err
				}
			} else {
				if _, err := rs.Seek(offset+maxsize, io.SeekStart); err != nil {
					return err
				}
			}
			maxsize = 0
		} else {
			if _, err := rs.Seek(offset+h.BoxSize, io.SeekStart); err != nil {
				return err
			}
			maxsize, err = sizeRemain(h.BoxSize, maxsize)
			if err != nil {
				return err
			}
		}
	}
}

// RecursiveBoxFunc handles one box during a recursive walk.
type RecursiveBoxFunc func(h Header, depth int, r io.ReadSeeker) error

// WalkBoxesRecursive walks the box tree depth-first, descending into boxes
// whose type is in containers. Recursion depth is bounded by the container
// set, never by input data. Returning ErrStopWalk from fn ends the whole
// walk cleanly.
func WalkBoxesRecursive(rs io.ReadSeeker, maxsize int64, containers map[BoxType]bool, fn RecursiveBoxFunc) error {
	err := walkRecursive(rs, maxsize, 0, containers, fn)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

func walkRecursive(rs io.ReadSeeker, maxsize int64, depth int, containers map[BoxType]bool, fn RecursiveBoxFunc) error {
	return WalkBoxes(rs, maxsize, depth == 0, func(h Header, r io.ReadSeeker) error {
		payloadStart, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if err := fn(h, depth, r); err != nil {
			return err
		}
		if containers[h.Type] {
			if _, err := r.Seek(payloadStart, io.SeekStart); err != nil {
				return err
			}
			if err := walkRecursive(r, h.MaxSize, depth+1, containers, fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// Path builds a box path of single-alternative segments.
func Path(types ...BoxType) [][]BoxType {
	segments := make([][]BoxType, len(types))
	for i, t := range types {
		segments[i] = []BoxType{t}
	}
	return segments
}

func typeIn(t BoxType, alternatives []BoxType) bool {
	for _, a := range alternatives {
		if t == a {
			return true
		}
	}
	return false
}

// FindBox descends the path, where each segment lists acceptable types, and
// returns the header of the first match with the reader positioned at its
// payload. EOF extension applies to the outermost scope only when extendEOF
// is set.
func FindBox(rs io.ReadSeeker, maxsize int64, extendEOF bool, path [][]BoxType) (Header, error) {
	depth := 1
	if extendEOF {
		depth = 0
	}
	h, found, err := findBox(rs, maxsize, depth, path)
	if err != nil {
		return Header{}, err
	}
	if !found {
		return Header{}, &BoxNotFoundError{Path: path}
	}
	return h, nil
}

func findBox(rs io.ReadSeeker, maxsize int64, depth int, path [][]BoxType) (Header, bool, error) {
	if len(path) == 0 {
		return Header{}, false, nil
	}

	var match Header
	found := false
	err := WalkBoxes(rs, maxsize, depth == 0, func(h Header, r io.ReadSeeker) error {
		if !typeIn(h.Type, path[0]) {
			return nil
		}
		if len(path) == 1 {
			match, found = h, true
			return ErrStopWalk
		}
		inner, ok, err := findBox(r, h.MaxSize, depth+1, path[1:])
		if err != nil {
			return err
		}
		if ok {
			match, found = inner, true
			return ErrStopWalk
		}
		return nil
	})
	return match, found, err
}

// ReadBoxData returns the payload of the first box at path. A missing box
// reports BoxNotFoundError; payloads cut short by the end of input are
// returned as-is, mirroring what the stream can deliver.
func ReadBoxData(rs io.ReadSeeker, maxsize int64, extendEOF bool, path [][]BoxType) ([]byte, error) {
	h, err := FindBox(rs, maxsize, extendEOF, path)
	if err != nil {
		return nil, err
	}
	return readPayload(rs, h)
}

func readPayload(rs io.ReadSeeker, h Header) ([]byte, error) {
	if h.MaxSize == -1 {
		return io.ReadAll(rs)
	}
	buf := make([]byte, h.MaxSize)
	got, err := io.ReadFull(rs, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:got], nil
}
