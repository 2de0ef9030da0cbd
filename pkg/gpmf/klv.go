// Package gpmf decodes GoPro GPMF telemetry carried in gpmd tracks: GPS
// fixes from GPS5/GPS9 streams, inertial sensor streams, and device names.
// See the published GPMF layout at https://github.com/gopro/gpmf-parser.
package gpmf

import (
	"encoding/binary"
	"math"
)

// FourCC is a GPMF stream key.
type FourCC [4]byte

func (f FourCC) String() string {
	return string(f[:])
}

var (
	keyDEVC = FourCC{'D', 'E', 'V', 'C'}
	keyDVID = FourCC{'D', 'V', 'I', 'D'}
	keyDVNM = FourCC{'D', 'V', 'N', 'M'}
	keySTRM = FourCC{'S', 'T', 'R', 'M'}
	keyGPS5 = FourCC{'G', 'P', 'S', '5'}
	keyGPS9 = FourCC{'G', 'P', 'S', '9'}
	keySCAL = FourCC{'S', 'C', 'A', 'L'}
	keyGPSF = FourCC{'G', 'P', 'S', 'F'}
	keyGPSP = FourCC{'G', 'P', 'S', 'P'}
	keyGPSU = FourCC{'G', 'P', 'S', 'U'}
	keyTYPE = FourCC{'T', 'Y', 'P', 'E'}
	keyACCL = FourCC{'A', 'C', 'C', 'L'}
	keyGYRO = FourCC{'G', 'Y', 'R', 'O'}
	keyMAGN = FourCC{'M', 'A', 'G', 'N'}
	keyMTRX = FourCC{'M', 'T', 'R', 'X'}
	keyORIN = FourCC{'O', 'R', 'I', 'N'}
	keyORIO = FourCC{'O', 'R', 'I', 'O'}
)

// KLV is one key-length-value unit. Size is the per-sample structure size
// in bytes and Repeat the sample count. Exactly one of Nested (type 0x00),
// Rows (numeric types), or Raw (character, FourCC, and unregistered types)
// is populated.
type KLV struct {
	Key    FourCC
	Type   byte
	Size   int
	Repeat int
	Nested []KLV
	Rows   [][]float64
	Raw    [][]byte
}

// typeSizes maps the numeric GPMF type characters to element widths. The
// byte-shaped types (c, F, G, U) are kept raw instead.
var typeSizes = map[byte]int{
	'b': 1, 'B': 1,
	'd': 8, 'f': 4,
	'j': 8, 'J': 8,
	'l': 4, 'L': 4,
	'q': 4, 'Q': 8,
	's': 2, 'S': 2,
}

func decodeScalar(t byte, b []byte) float64 {
	switch t {
	case 'b':
		return float64(int8(b[0]))
	case 'B':
		return float64(b[0])
	case 'd':
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	case 'f':
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 'j':
		return float64(int64(binary.BigEndian.Uint64(b)))
	case 'J', 'Q':
		return float64(binary.BigEndian.Uint64(b))
	case 'l':
		return float64(int32(binary.BigEndian.Uint32(b)))
	case 'L', 'q':
		return float64(binary.BigEndian.Uint32(b))
	case 's':
		return float64(int16(binary.BigEndian.Uint16(b)))
	case 'S':
		return float64(binary.BigEndian.Uint16(b))
	}
	return 0
}

// Parse decodes a KLV stream, returning the units of the longest valid
// prefix. Each value block is padded to 32-bit alignment.
func Parse(data []byte) []KLV {
	var out []KLV
	for {
		klv, n, ok := parseOne(data)
		if !ok {
			return out
		}
		out = append(out, klv)
		data = data[n:]
	}
}

func parseOne(b []byte) (KLV, int, bool) {
	if len(b) < 8 {
		return KLV{}, 0, false
	}

	var key FourCC
	copy(key[:], b[:4])
	typ := b[4]
	size := int(b[5])
	repeat := int(binary.BigEndian.Uint16(b[6:8]))

	dataLen := size * repeat
	pad := (4 - dataLen%4) % 4
	total := 8 + dataLen + pad
	if len(b) < total {
		return KLV{}, 0, false
	}
	payload := b[8 : 8+dataLen]

	klv := KLV{Key: key, Type: typ, Size: size, Repeat: repeat}
	switch {
	case typ == 0:
		klv.Nested = Parse(payload)
	case typ == 'c':
		klv.Raw = splitRows(payload, size, repeat)
	default:
		width, numeric := typeSizes[typ]
		if !numeric {
			klv.Raw = splitRows(payload, size, repeat)
			break
		}
		perRow := size / width
		klv.Rows = make([][]float64, 0, repeat)
		for r := 0; r < repeat; r++ {
			row := payload[r*size : (r+1)*size]
			vals := make([]float64, 0, perRow)
			for i := 0; i < perRow; i++ {
				vals = append(vals, decodeScalar(typ, row[i*width:(i+1)*width]))
			}
			klv.Rows = append(klv.Rows, vals)
		}
	}
	return klv, total, true
}

func splitRows(payload []byte, size, repeat int) [][]byte {
	rows := make([][]byte, 0, repeat)
	for r := 0; r < repeat; r++ {
		rows = append(rows, payload[r*size:(r+1)*size])
	}
	return rows
}
