// Package convert normalizes uploaded images into formats every browser can
// display.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/jdeng/goheif"

	"photo-map/metrics"
)

// ErrTranscode is wrapped by every failure to convert a container image.
var ErrTranscode = errors.New("transcode failed")

const (
	DefaultQuality = 90
	outputExt      = ".jpeg"
)

var containerTypes = map[string]bool{
	"image/heic":          true,
	"image/heif":          true,
	"image/heic-sequence": true,
	"image/heif-sequence": true,
}

// DecodeFunc decodes a container image.
type DecodeFunc func(r io.Reader) (image.Image, error)

// Output is a normalized image ready for durable storage.
type Output struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Normalizer transcodes HEIC/HEIF uploads to JPEG and passes everything else
// through untouched.
type Normalizer struct {
	Quality int
	Decode  DecodeFunc
}

// NewNormalizer returns a Normalizer using the HEIF decoder.
func NewNormalizer(quality int) *Normalizer {
	if quality <= 0 {
		quality = DefaultQuality
	}
	return &Normalizer{Quality: quality, Decode: goheif.Decode}
}

// IsContainerType reports whether mimeType must be transcoded before it
// can be displayed.
func IsContainerType(mimeType string) bool {
	return containerTypes[baseType(mimeType)]
}

// DetectType returns the declared type, sniffing the content when the
// declaration says nothing useful.
func DetectType(data []byte, declared string) string {
	t := baseType(declared)
	if t == "" || t == "application/octet-stream" {
		return baseType(mimetype.Detect(data).String())
	}
	return t
}

// Normalize returns the bytes to store for an upload named filename.
func (n *Normalizer) Normalize(data []byte, mimeType, filename string) (Output, error) {
	contentType := DetectType(data, mimeType)
	if !IsContainerType(contentType) {
		return Output{Data: data, Filename: filename, ContentType: contentType}, nil
	}

	out, err := n.transcode(data)
	if err != nil {
		metrics.TranscodesTotal.WithLabelValues("failure").Inc()
		return Output{}, fmt.Errorf("%w: %s: %v", ErrTranscode, filename, err)
	}
	metrics.TranscodesTotal.WithLabelValues("success").Inc()

	base := filepath.Base(filename)
	return Output{
		Data:        out,
		Filename:    strings.TrimSuffix(base, filepath.Ext(base)) + outputExt,
		ContentType: "image/jpeg",
	}, nil
}

func (n *Normalizer) transcode(data []byte) ([]byte, error) {
	decode := n.Decode
	if decode == nil {
		decode = goheif.Decode
	}
	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}

	quality := n.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
