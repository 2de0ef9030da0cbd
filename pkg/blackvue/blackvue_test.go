package blackvue

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(name string, payload ...[]byte) []byte {
	var body []byte
	for _, p := range payload {
		body = append(body, p...)
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(8+len(body)))
	out = append(out, name...)
	return append(out, body...)
}

const (
	ggaCalgary = "$GPGGA,202530.00,5109.0262,N,11401.8407,W,5,40,0.5,1097.36,M,-17.00,M,18,TSTR*61"
	ggaMunich  = "$GPGGA,120000.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*67"
)

func TestParseGPSBox(t *testing.T) {
	data := []byte("[1623057074211]" + ggaCalgary + "\r\n" +
		"[1623057075215]$GPVTG,,T,,M,0.078,N,0.144,K,D*28[1623057076218]\n" +
		"[1623057075211]" + ggaMunich + "\n" +
		"garbage line\n")

	points := parseGPSBox(data)
	require.Len(t, points, 2)

	assert.InDelta(t, 1623057074211, points[0].Time, 1e-9)
	assert.InDelta(t, 51.150436666666664, points[0].Lat, 1e-12)
	assert.InDelta(t, -114.03067833333333, points[0].Lon, 1e-12)
	require.NotNil(t, points[0].Alt)
	assert.InDelta(t, 1097.36, *points[0].Alt, 1e-9)

	assert.InDelta(t, 48.1173, points[1].Lat, 1e-12)
	assert.InDelta(t, 11.516666666666667, points[1].Lon, 1e-12)
}

func TestParseGGARejects(t *testing.T) {
	// bad checksum
	_, ok := parseGGA("$GPGGA,202530.00,5109.0262,N,11401.8407,W,5,40,0.5,1097.36,M,-17.00,M,18,TSTR*60")
	assert.False(t, ok)

	// no fix
	_, ok = parseGGA("$GPGGA,202530.00,5109.0262,N,11401.8407,W,0,40,0.5,1097.36,M,-17.00,M,18,TSTR*64")
	assert.False(t, ok)

	// truncated
	_, ok = parseGGA("$GPGGA,202530.00*52")
	assert.False(t, ok)
}

func TestExtractPointsSortsAndRebases(t *testing.T) {
	gps := []byte("[2000]" + ggaMunich + "\n" + "[1000]" + ggaCalgary + "\n")
	file := box("ftyp", []byte("isom"))
	file = append(file, box("free", box("gps ", gps))...)

	points, err := ExtractPoints(bytes.NewReader(file))
	require.NoError(t, err)
	require.Len(t, points, 2)

	// the Calgary fix was stamped earlier and becomes t=0
	assert.Zero(t, points[0].Time)
	assert.InDelta(t, 51.150436666666664, points[0].Lat, 1e-12)
	assert.InDelta(t, 1.0, points[1].Time, 1e-9)
	assert.InDelta(t, 48.1173, points[1].Lat, 1e-12)
}

func TestExtractPointsNoTelemetry(t *testing.T) {
	file := box("ftyp", []byte("isom"))
	file = append(file, box("free", []byte("nothing to see"))...)

	points, err := ExtractPoints(bytes.NewReader(file))
	require.NoError(t, err)
	assert.Nil(t, points)
}

func TestModelFromCprt(t *testing.T) {
	for _, tc := range []struct {
		cprt string
		want string
	}{
		{` {"model":"DR900X Plus","ver":0.918,"lang":"English","direct":1,"psn":"","temp":34,"GPS":1}` + "\x00", "DR900X Plus"},
		{" Pittasoft Co., Ltd.;DR900S-1CH;1.008;English;1;D90SS1HAE00661;T69;\x00", "DR900S-1CH"},
		{"no delimiters at all", ""},
		{"", ""},
	} {
		assert.Equal(t, tc.want, modelFromCprt([]byte(tc.cprt)))
	}
}

func TestExtractInfo(t *testing.T) {
	gps := []byte("[1000]" + ggaCalgary + "\n")
	cprt := []byte("Pittasoft Co., Ltd.;DR900S-1CH;1.008;")
	file := box("free", box("gps ", gps), box("cprt", cprt))

	info, err := ExtractInfo(bytes.NewReader(file))
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "BlackVue", info.Make)
	assert.Equal(t, "DR900S-1CH", info.Model)
	require.Len(t, info.GPS, 1)

	// a video without the gps box is not a BlackVue recording
	info, err = ExtractInfo(bytes.NewReader(box("moov")))
	require.NoError(t, err)
	assert.Nil(t, info)
}
