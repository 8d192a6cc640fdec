// Package vipsenc is the libvips encoder backend. It is the only backend that
// writes WebP.
package vipsenc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
)

// webpEffort is fixed so identical inputs always produce identical output
const webpEffort = 4

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
)

// Startup initializes libvips once per process. govips cannot be restarted
// after Shutdown.
func Startup(logger *slog.Logger) {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "vips")

	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			logger.Error(msg, "domain", domain)
		case vips.LogLevelWarning:
			logger.Warn(msg, "domain", domain)
		default:
			logger.Debug(msg, "domain", domain)
		}
	}, vips.LogLevelWarning)

	// Conservative memory settings
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	logger.Info("libvips initialized", "version", vips.Version)
}

// Shutdown releases libvips
func Shutdown() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
	}
}

// Encoder encodes derivatives with libvips
type Encoder struct{}

// New returns a libvips encoder, starting libvips if needed
func New(logger *slog.Logger) *Encoder {
	Startup(logger)
	return &Encoder{}
}

// Name returns the backend name
func (e *Encoder) Name() string {
	return "vips"
}

// Encode implements encoder.Encoder
func (e *Encoder) Encode(raw []byte, c encoder.Constraints) (*encoder.Result, error) {
	c.Format = encoder.NormalizeFormat(c.Format)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ref, err := vips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", encoder.ErrDecodeFailed, err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("%w: auto-rotate: %w", encoder.ErrEncodeFailed, err)
	}

	if c.MaxWidth > 0 && ref.Width() > c.MaxWidth {
		width, height := encoder.FitWidth(ref.Width(), ref.Height(), c.MaxWidth)
		if err := ref.Thumbnail(width, height, vips.InterestingNone); err != nil {
			return nil, fmt.Errorf("%w: resize: %w", encoder.ErrEncodeFailed, err)
		}
	}

	var data []byte
	switch c.Format {
	case encoder.FormatWebP:
		data, _, err = ref.ExportWebp(&vips.WebpExportParams{
			Quality:         c.Quality,
			StripMetadata:   true,
			ReductionEffort: webpEffort,
		})
	case encoder.FormatJPEG:
		data, _, err = ref.ExportJpeg(&vips.JpegExportParams{
			Quality:        c.Quality,
			StripMetadata:  true,
			OptimizeCoding: true,
		})
	case encoder.FormatPNG:
		data, _, err = ref.ExportPng(&vips.PngExportParams{
			StripMetadata: true,
			Compression:   6,
		})
	default:
		return nil, fmt.Errorf("%w: format %q not supported by %s backend", encoder.ErrEncodeFailed, c.Format, e.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", encoder.ErrEncodeFailed, err)
	}

	return &encoder.Result{
		Data:        data,
		Width:       ref.Width(),
		Height:      ref.Height(),
		Format:      c.Format,
		ContentType: "image/" + c.Format,
	}, nil
}
