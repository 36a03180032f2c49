// Package imaging contains the small set of image encode/decode helpers the
// styling pipeline needs: JPEG re-encoding for upload, data-URL handling for
// the wire format, and payload validation after decode.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"strings"
)

const (
	// UploadQuality matches the original capture pipeline: aggressive enough
	// to keep multi-megapixel photos under typical request size limits.
	UploadQuality = 80
	// ResultQuality is used when persisting a generated result to disk.
	ResultQuality = 90

	dataURLMarker = "base64,"
)

// ErrUndecodable indicates that a payload did not contain a decodable image.
var ErrUndecodable = errors.New("imaging: payload is not a decodable image")

// CompressForUpload decodes the source photo and re-encodes it as JPEG at
// UploadQuality. PNG input is accepted; output is always JPEG.
func CompressForUpload(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode source image: %w", err)
	}
	return EncodeJPEG(img, UploadQuality)
}

// EncodeJPEG renders img into JPEG bytes at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Validate reports whether data holds a decodable image, returning its
// dimensions on success.
func Validate(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ToDataURL wraps JPEG bytes in the data-URL form the remote endpoint accepts.
func ToDataURL(data []byte) string {
	return "data:image/jpeg;" + dataURLMarker + base64.StdEncoding.EncodeToString(data)
}

// StripDataURL removes a data-URL prefix, if present, leaving the bare
// base64 payload. Payloads without the marker pass through untouched.
func StripDataURL(payload string) string {
	if idx := strings.Index(payload, dataURLMarker); idx >= 0 {
		return payload[idx+len(dataURLMarker):]
	}
	return payload
}

// DecodeBase64Image strips an optional data-URL prefix, base64-decodes the
// remainder and verifies the bytes form a real image.
func DecodeBase64Image(payload string) ([]byte, error) {
	raw := strings.TrimSpace(StripDataURL(payload))
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("imaging: base64 decode: %w", err)
	}
	if _, _, err := Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// SolidJPEG produces a deterministic single-color JPEG for the demo binary
// and tests, so the pipeline stays exercisable without remote credentials.
func SolidJPEG(width, height int, c color.Color) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("imaging: invalid dimensions %dx%d", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return EncodeJPEG(img, ResultQuality)
}
