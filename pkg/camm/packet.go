// Package camm decodes Camera Motion Metadata telemetry tracks.
//
// CAMM is a fixed-struct little-endian encoding used by several 360 and
// action cameras, carried in a dedicated track whose sample description
// format is "camm". See
// https://developers.google.com/streetview/publish/camm-spec
package camm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PacketType identifies one CAMM sample variant.
type PacketType int16

const (
	TypeAngleAxis     PacketType = 0
	TypeExposureTime  PacketType = 1
	TypeGyro          PacketType = 2
	TypeAcceleration  PacketType = 3
	TypePosition      PacketType = 4
	TypeMinGPS        PacketType = 5
	TypeGPS           PacketType = 6
	TypeMagneticField PacketType = 7

	// TypeGoProGPS is a nonstandard extension (1024 + 6) carrying GoPro
	// GPS fixes, whose quality fields do not fit the standard GPS record.
	TypeGoProGPS PacketType = 1030
)

// Exposure is a TypeExposureTime payload, in nanoseconds.
type Exposure struct {
	PixelExposureTime      int32
	RollingShutterSkewTime int32
}

// GPSRecord is a TypeGPS payload. TimeGPSEpoch is seconds since the Unix
// epoch as reported by the receiver clock.
type GPSRecord struct {
	TimeGPSEpoch       float64
	FixType            int32
	Lat                float64
	Lon                float64
	Alt                float32
	HorizontalAccuracy float32
	VerticalAccuracy   float32
	VelocityEast       float32
	VelocityNorth      float32
	VelocityUp         float32
	SpeedAccuracy      float32
}

// GoProGPSRecord is a TypeGoProGPS payload.
type GoProGPSRecord struct {
	Lat         float64
	Lon         float64
	Alt         float32
	EpochTime   float64
	Fix         int32
	Precision   float32
	GroundSpeed float32
}

// Packet is one decoded CAMM sample. Exactly one payload field is set,
// matching Type; unrecognized types keep their bytes in Raw.
type Packet struct {
	Type     PacketType
	Vector   *[3]float32
	Exposure *Exposure
	MinGPS   *[3]float64
	GPS      *GPSRecord
	GoProGPS *GoProGPSRecord
	Raw      []byte
}

type leCursor struct {
	buf []byte
	off int
	typ PacketType
	err error
}

func (c *leCursor) need(n int) []byte {
	if c.err != nil {
		return nil
	}
	if len(c.buf)-c.off < n {
		c.err = fmt.Errorf("camm type %d: need %d bytes at offset %d but %d remain",
			c.typ, n, c.off, len(c.buf)-c.off)
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *leCursor) f32() float32 {
	b := c.need(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func (c *leCursor) f64() float64 {
	b := c.need(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (c *leCursor) i32() int32 {
	b := c.need(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (c *leCursor) vec3() [3]float32 {
	return [3]float32{c.f32(), c.f32(), c.f32()}
}

// DecodePacket decodes one CAMM sample payload: 2 bytes of padding, a
// little-endian int16 type, then the typed record.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < 4 {
		return Packet{}, fmt.Errorf("camm sample header needs 4 bytes, got %d", len(data))
	}
	p := Packet{Type: PacketType(binary.LittleEndian.Uint16(data[2:4]))}
	c := &leCursor{buf: data, off: 4, typ: p.Type}

	switch p.Type {
	case TypeAngleAxis, TypeGyro, TypeAcceleration, TypePosition, TypeMagneticField:
		v := c.vec3()
		p.Vector = &v
	case TypeExposureTime:
		e := Exposure{
			PixelExposureTime:      c.i32(),
			RollingShutterSkewTime: c.i32(),
		}
		p.Exposure = &e
	case TypeMinGPS:
		v := [3]float64{c.f64(), c.f64(), c.f64()}
		p.MinGPS = &v
	case TypeGPS:
		g := GPSRecord{
			TimeGPSEpoch:       c.f64(),
			FixType:            c.i32(),
			Lat:                c.f64(),
			Lon:                c.f64(),
			Alt:                c.f32(),
			HorizontalAccuracy: c.f32(),
			VerticalAccuracy:   c.f32(),
			VelocityEast:       c.f32(),
			VelocityNorth:      c.f32(),
			VelocityUp:         c.f32(),
			SpeedAccuracy:      c.f32(),
		}
		p.GPS = &g
	case TypeGoProGPS:
		g := GoProGPSRecord{
			Lat:         c.f64(),
			Lon:         c.f64(),
			Alt:         c.f32(),
			EpochTime:   c.f64(),
			Fix:         c.i32(),
			Precision:   c.f32(),
			GroundSpeed: c.f32(),
		}
		p.GoProGPS = &g
	default:
		p.Raw = data[4:]
	}
	if c.err != nil {
		return Packet{}, c.err
	}
	return p, nil
}
