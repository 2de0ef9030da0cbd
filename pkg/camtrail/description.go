package camtrail

import (
	"encoding/json"
	"io"
	"time"

	"github.com/camtrail/camtrail/pkg/geotag"
)

// captureTimeLayout is the capture time format used in description files,
// millisecond precision in UTC.
const captureTimeLayout = "2006_01_02_15_04_05_000"

// CompassHeading is the serialized bearing of one image.
type CompassHeading struct {
	TrueHeading     float64 `json:"TrueHeading"`
	MagneticHeading float64 `json:"MagneticHeading"`
}

// ImageDescription is the serialized form of one geotagged image.
type ImageDescription struct {
	Filename       string          `json:"filename"`
	Filetype       string          `json:"filetype"`
	Latitude       float64         `json:"MAPLatitude"`
	Longitude      float64         `json:"MAPLongitude"`
	Altitude       *float64        `json:"MAPAltitude,omitempty"`
	CaptureTime    string          `json:"MAPCaptureTime"`
	CompassHeading *CompassHeading `json:"MAPCompassHeading,omitempty"`
	SequenceUUID   string          `json:"MAPSequenceUUID"`
	DeviceMake     string          `json:"MAPDeviceMake,omitempty"`
	DeviceModel    string          `json:"MAPDeviceModel,omitempty"`
	Width          int64           `json:"width,omitempty"`
	Height         int64           `json:"height,omitempty"`
	Filesize       int64           `json:"filesize,omitempty"`
}

// ErrorDescription is the serialized form of one failed file.
type ErrorDescription struct {
	Filename string      `json:"filename"`
	Error    ErrorDetail `json:"error"`
}

// ErrorDetail names the failure class and carries its message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FormatCaptureTime renders seconds since the Unix epoch in the
// description time layout.
func FormatCaptureTime(t float64) string {
	sec := int64(t)
	nsec := int64((t - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(captureTimeLayout)
}

// DescribeImage serializes one geotagged image.
func DescribeImage(img geotag.ImageMetadata) ImageDescription {
	d := ImageDescription{
		Filename:     img.Filename,
		Filetype:     "image",
		Latitude:     img.Lat,
		Longitude:    img.Lon,
		Altitude:     img.Alt,
		CaptureTime:  FormatCaptureTime(img.Time),
		SequenceUUID: img.SequenceUUID,
		DeviceMake:   img.Make,
		DeviceModel:  img.Model,
		Width:        img.Width,
		Height:       img.Height,
		Filesize:     img.Filesize,
	}
	if img.Angle != nil {
		d.CompassHeading = &CompassHeading{TrueHeading: *img.Angle, MagneticHeading: *img.Angle}
	}
	return d
}

// DescribeError serializes one error record.
func DescribeError(rec geotag.ImageError) ErrorDescription {
	return ErrorDescription{
		Filename: rec.Filename,
		Error: ErrorDetail{
			Type:    ErrorTypeName(rec.Err),
			Message: rec.Err.Error(),
		},
	}
}

// WriteDescriptions emits the batch outcome as one JSON array: image
// descriptions first, error records after.
func WriteDescriptions(w io.Writer, batch *Batch) error {
	out := make([]any, 0, len(batch.Images)+len(batch.Errors))
	for _, img := range batch.Images {
		out = append(out, DescribeImage(img))
	}
	for _, rec := range batch.Errors {
		out = append(out, DescribeError(rec))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
