// Package encoder turns raw image bytes into a resized, re-encoded derivative.
//
// Encoders work purely on in-memory buffers. Scratch files, uploads and
// cleanup belong to the caller.
package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp" // WebP format support
)

var (
	// ErrDecodeFailed is returned when the input is not a decodable image
	ErrDecodeFailed = errors.New("decode failed")

	// ErrEncodeFailed is returned when the derivative cannot be produced
	ErrEncodeFailed = errors.New("encode failed")
)

// Supported target formats
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// DefaultQuality is the quality used for first-pass derivatives
const DefaultQuality = 80

// Constraints controls a single encode
type Constraints struct {
	Format   string
	Quality  int // 0..100
	MaxWidth int // 0 disables downscaling
}

// Validate checks the constraint ranges
func (c Constraints) Validate() error {
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("%w: quality %d out of range", ErrEncodeFailed, c.Quality)
	}
	if c.MaxWidth < 0 {
		return fmt.Errorf("%w: negative max width %d", ErrEncodeFailed, c.MaxWidth)
	}
	if c.Format == "" {
		return fmt.Errorf("%w: target format required", ErrEncodeFailed)
	}
	return nil
}

// Result is an encoded derivative
type Result struct {
	Data        []byte
	Width       int
	Height      int
	Format      string
	ContentType string
}

// Size returns the encoded size in bytes
func (r *Result) Size() int64 {
	return int64(len(r.Data))
}

// Encoder produces derivatives. Implementations must be deterministic: the
// same bytes and constraints always yield the same output.
type Encoder interface {
	Encode(raw []byte, c Constraints) (*Result, error)
	Name() string
}

// Info describes an image without decoding its pixels
type Info struct {
	Width  int
	Height int
	Format string
}

// Probe reads the image header
func Probe(raw []byte) (*Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	return &Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// FitWidth returns the fit-inside dimensions for a maximum width. It never
// upscales and keeps the aspect ratio.
func FitWidth(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth || width == 0 {
		return width, height
	}
	h := (height*maxWidth + width/2) / width
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

// NormalizeFormat maps aliases onto the supported format names
func NormalizeFormat(format string) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "jpg":
		return FormatJPEG
	default:
		return f
	}
}
