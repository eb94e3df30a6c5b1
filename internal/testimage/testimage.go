// Package testimage builds small JPEG fixtures with hand-assembled EXIF
// blocks for tests.
package testimage

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/disintegration/imaging"
)

// GPS is a coordinate pair written as GPSLatitude/GPSLongitude tags.
type GPS struct {
	Lat float64
	Lon float64
}

// Image returns a small solid-colour image.
func Image() image.Image {
	return imaging.New(8, 8, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
}

// JPEG returns an encoded JPEG without metadata.
func JPEG(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Image(), imaging.JPEG); err != nil {
		t.Fatalf("encoding jpeg: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithEXIF returns a JPEG carrying an APP1 EXIF segment. gps may be nil;
// taken is a DateTimeOriginal value ("2006:01:02 15:04:05") or empty.
func JPEGWithEXIF(t testing.TB, gps *GPS, taken string) []byte {
	t.Helper()
	plain := JPEG(t)
	payload := append([]byte("Exif\x00\x00"), TIFF(gps, taken)...)

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8, 0xFF, 0xE1})
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(payload)+2))
	buf.Write(payload)
	buf.Write(plain[2:])
	return buf.Bytes()
}

const (
	typeASCII    = 2
	typeLong     = 4
	typeRational = 5

	tagExifIFD          = 0x8769
	tagGPSIFD           = 0x8825
	tagDateTimeOriginal = 0x9003
	tagGPSLatitudeRef   = 0x0001
	tagGPSLatitude      = 0x0002
	tagGPSLongitudeRef  = 0x0003
	tagGPSLongitude     = 0x0004

	rationalDen = 1000000
)

type entry struct {
	tag, typ uint16
	count    uint32
	value    uint32
	inline   []byte
}

// TIFF assembles a little-endian TIFF structure holding the given tags.
func TIFF(gps *GPS, taken string) []byte {
	le := binary.LittleEndian
	ifdSize := func(n int) uint32 { return uint32(2 + 12*n + 4) }

	var ifd0 []entry
	offset := uint32(8)
	n0 := 0
	if taken != "" {
		n0++
	}
	if gps != nil {
		n0++
	}
	offset += ifdSize(n0)

	var exifIFDOff, dateOff uint32
	if taken != "" {
		exifIFDOff = offset
		dateOff = exifIFDOff + ifdSize(1)
		offset = dateOff + uint32(len(taken)+1)
		ifd0 = append(ifd0, entry{tag: tagExifIFD, typ: typeLong, count: 1, value: exifIFDOff})
	}

	var gpsIFDOff, latOff, lonOff uint32
	if gps != nil {
		gpsIFDOff = offset
		latOff = gpsIFDOff + ifdSize(4)
		lonOff = latOff + 24
		offset = lonOff + 24
		ifd0 = append(ifd0, entry{tag: tagGPSIFD, typ: typeLong, count: 1, value: gpsIFDOff})
	}

	out := make([]byte, 0, offset)
	out = append(out, 'I', 'I')
	out = le.AppendUint16(out, 42)
	out = le.AppendUint32(out, 8)
	out = appendIFD(out, ifd0)

	if taken != "" {
		out = appendIFD(out, []entry{{tag: tagDateTimeOriginal, typ: typeASCII, count: uint32(len(taken) + 1), value: dateOff}})
		out = append(out, taken...)
		out = append(out, 0)
	}

	if gps != nil {
		latRef, lonRef := "N", "E"
		if gps.Lat < 0 {
			latRef = "S"
		}
		if gps.Lon < 0 {
			lonRef = "W"
		}
		out = appendIFD(out, []entry{
			{tag: tagGPSLatitudeRef, typ: typeASCII, count: 2, inline: []byte(latRef)},
			{tag: tagGPSLatitude, typ: typeRational, count: 3, value: latOff},
			{tag: tagGPSLongitudeRef, typ: typeASCII, count: 2, inline: []byte(lonRef)},
			{tag: tagGPSLongitude, typ: typeRational, count: 3, value: lonOff},
		})
		out = appendDegrees(out, gps.Lat)
		out = appendDegrees(out, gps.Lon)
	}

	return out
}

// Degrees returns the value a reader decodes for v once it is stored as a
// rational with the fixture's denominator.
func Degrees(v float64) float64 {
	num := math.Round(math.Abs(v) * rationalDen)
	d := num / rationalDen
	if v < 0 {
		return -d
	}
	return d
}

func appendIFD(out []byte, entries []entry) []byte {
	le := binary.LittleEndian
	out = le.AppendUint16(out, uint16(len(entries)))
	for _, e := range entries {
		out = le.AppendUint16(out, e.tag)
		out = le.AppendUint16(out, e.typ)
		out = le.AppendUint32(out, e.count)
		if e.inline != nil {
			v := make([]byte, 4)
			copy(v, e.inline)
			out = append(out, v...)
		} else {
			out = le.AppendUint32(out, e.value)
		}
	}
	return le.AppendUint32(out, 0)
}

func appendDegrees(out []byte, v float64) []byte {
	le := binary.LittleEndian
	num := uint32(math.Round(math.Abs(v) * rationalDen))
	out = le.AppendUint32(out, num)
	out = le.AppendUint32(out, rationalDen)
	for range 2 {
		out = le.AppendUint32(out, 0)
		out = le.AppendUint32(out, 1)
	}
	return out
}
