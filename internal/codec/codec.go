// Package codec converts between transport encodings (compressed image bytes,
// optionally wrapped in a base64 data URL) and tensor.Image pixel arrays.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WEBP decoder

	"github.com/ngupuk/kupu/internal/tensor"
)

// Channels selects the pixel layout Decode produces.
type Channels int

const (
	RGB Channels = iota
	Grayscale
)

// Count returns the number of samples per pixel.
func (c Channels) Count() int {
	if c == Grayscale {
		return 1
	}
	return 3
}

// Format is an output image encoding.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

// DefaultJPEGQuality matches what the web editor expects from the server.
const DefaultJPEGQuality = 95

// ParseFormat accepts "jpeg", "jpg" and "png" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// ErrDecode is matched by every error returned from the decode functions.
var ErrDecode = errors.New("invalid image data")

// DecodeError describes why transport data could not be turned into pixels.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// DefaultMaxPixels is the largest canvas a Decoder accepts unless told
// otherwise, the same bound Pillow uses for decompression bombs.
const DefaultMaxPixels = 178956970

// Decoder decodes transport data under a pixel budget. The zero value uses
// DefaultMaxPixels.
type Decoder struct {
	MaxPixels int64
}

func (d Decoder) maxPixels() int64 {
	if d.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return d.MaxPixels
}

// Decode parses compressed image bytes with the default Decoder.
func Decode(data []byte, mode Channels) (*tensor.Image, error) {
	return Decoder{}.Decode(data, mode)
}

// Decode parses compressed image bytes (PNG, JPEG, GIF, BMP or WEBP) into an
// image with the requested channel layout. The header is checked against
// the pixel budget before any pixel buffer is allocated.
func (d Decoder) Decode(data []byte, mode Channels) (*tensor.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty image data"}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "image load error", Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > d.maxPixels() {
		return nil, &DecodeError{
			Reason: "image too large",
			Err:    fmt.Errorf("%dx%d exceeds %d pixels", cfg.Width, cfg.Height, d.maxPixels()),
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "image load error", Err: err}
	}
	out, err := tensor.FromStdImage(img, mode.Count())
	if err != nil {
		return nil, &DecodeError{Reason: "channel conversion failed", Err: err}
	}
	return out, nil
}

// Encode compresses img. quality only applies to JPEG; values outside
// [1,100] fall back to DefaultJPEGQuality.
func Encode(img *tensor.Image, format Format, quality int) ([]byte, error) {
	std, err := tensor.ToStdImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image for encoding: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case JPEG:
		if quality < 1 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		err = imaging.Encode(&buf, std, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG:
		err = imaging.Encode(&buf, std, imaging.PNG)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
