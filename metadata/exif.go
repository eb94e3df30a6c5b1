// Package metadata reads capture metadata (GPS position and capture time)
// embedded in uploaded photos.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"photo-map/model"
)

const exifDateLayout = "2006:01:02 15:04:05"

// Extractor reads EXIF metadata from files on disk. Extraction is best
// effort: a file whose metadata cannot be parsed is treated as having none.
type Extractor struct {
	Log *zap.Logger
	// Location is used to interpret EXIF timestamps, which carry no zone.
	Location *time.Location
	// Now returns the ingestion time used when no capture time is found.
	Now func() time.Time
}

// NewExtractor returns an Extractor using local time.
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{
		Log:      logger,
		Location: time.Local,
		Now:      time.Now,
	}
}

// Extract returns the metadata found in the file at path.
func (e *Extractor) Extract(path string) model.Metadata {
	meta := model.Metadata{Timestamp: e.now()}
	logger := e.logger().With(zap.String("filepath", path))

	x, err := e.decode(path)
	if err != nil {
		logger.Debug("no readable EXIF metadata", zap.Error(err))
		return meta
	}

	lat, lon, err := x.LatLong()
	if err != nil {
		logger.Debug("no GPS coordinates in EXIF", zap.Error(err))
		return meta
	}
	meta.HasGPS = true
	meta.Lat = &lat
	meta.Lon = &lon

	if ts, err := e.originalTime(x); err == nil {
		meta.Timestamp = ts
	} else {
		logger.Debug("no original capture time in EXIF", zap.Error(err))
	}

	return meta
}

func (e *Extractor) decode(path string) (*exif.Exif, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if isHEIF(file) {
		raw, err := goheif.ExtractExif(file)
		if err != nil {
			return nil, fmt.Errorf("extracting exif from heif container: %w", err)
		}
		block, err := exifBlock(raw)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(block)
	} else if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	x, err := exif.Decode(r)
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return nil, fmt.Errorf("decoding exif: %w", err)
	}
	return x, nil
}

func (e *Extractor) originalTime(x *exif.Exif) (time.Time, error) {
	tag, err := x.Get(exif.DateTimeOriginal)
	if err != nil {
		return time.Time{}, err
	}
	s, err := tag.StringVal()
	if err != nil {
		return time.Time{}, err
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimRight(strings.TrimSpace(s), "\x00")
	return time.ParseInLocation(exifDateLayout, s, loc)
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Extractor) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

// isHEIF sniffs the ISO-BMFF "ftyp" box for a HEIF brand.
func isHEIF(r io.ReaderAt) bool {
	header := make([]byte, 12)
	if _, err := r.ReadAt(header, 0); err != nil {
		return false
	}
	if string(header[4:8]) != "ftyp" {
		return false
	}
	switch string(header[8:12]) {
	case "heic", "heix", "hevc", "hevx", "heim", "heis", "mif1", "msf1":
		return true
	}
	return false
}

var (
	exifHeader   = []byte("Exif\x00\x00")
	tiffHeaderLE = []byte("II*\x00")
	tiffHeaderBE = []byte("MM\x00*")
)

// exifBlock trims whatever precedes the EXIF payload in a HEIF exif item
// (a 4-byte offset field, optionally the "Exif\0\0" marker).
func exifBlock(raw []byte) ([]byte, error) {
	if i := bytes.Index(raw, exifHeader); i >= 0 {
		return raw[i:], nil
	}
	for _, h := range [][]byte{tiffHeaderLE, tiffHeaderBE} {
		if i := bytes.Index(raw, h); i >= 0 {
			return raw[i:], nil
		}
	}
	return nil, errors.New("no TIFF header in exif item")
}
