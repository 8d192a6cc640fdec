package encoder

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// ImagingEncoder is the pure Go backend. It writes JPEG and PNG; WebP output
// needs the libvips backend.
type ImagingEncoder struct{}

// NewImagingEncoder creates a pure Go encoder
func NewImagingEncoder() *ImagingEncoder {
	return &ImagingEncoder{}
}

// Name returns the backend name
func (e *ImagingEncoder) Name() string {
	return "imaging"
}

// Encode decodes raw, downscales it to fit MaxWidth and re-encodes it
func (e *ImagingEncoder) Encode(raw []byte, c Constraints) (*Result, error) {
	c.Format = NormalizeFormat(c.Format)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var format imaging.Format
	var opts []imaging.EncodeOption
	switch c.Format {
	case FormatJPEG:
		format = imaging.JPEG
		opts = append(opts, imaging.JPEGQuality(c.Quality))
	case FormatPNG:
		format = imaging.PNG
	default:
		return nil, fmt.Errorf("%w: format %q not supported by %s backend", ErrEncodeFailed, c.Format, e.Name())
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	bounds := img.Bounds()
	width, height := FitWidth(bounds.Dx(), bounds.Dy(), c.MaxWidth)
	if width != bounds.Dx() {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	out := img.Bounds()
	return &Result{
		Data:        buf.Bytes(),
		Width:       out.Dx(),
		Height:      out.Dy(),
		Format:      c.Format,
		ContentType: "image/" + c.Format,
	}, nil
}
