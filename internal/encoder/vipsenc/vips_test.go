//go:build vips

// Run with: go test -tags vips ./internal/encoder/vipsenc (needs libvips)
package vipsenc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
	"github.com/tendant/simple-derivative-pipeline/internal/logging"
)

func TestMain(m *testing.M) {
	Startup(logging.Discard())
	code := m.Run()
	Shutdown()
	os.Exit(code)
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x * y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestEncodeWebPDeterministic(t *testing.T) {
	e := New(logging.Discard())
	raw := pngBytes(t, 900, 600)
	c := encoder.Constraints{Format: encoder.FormatWebP, Quality: 80, MaxWidth: 650}

	first, err := e.Encode(raw, c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := e.Encode(raw, c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Error("identical input produced different WebP bytes")
	}
	if first.ContentType != "image/webp" {
		t.Errorf("content type = %q", first.ContentType)
	}

	info, err := encoder.Probe(first.Data)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Format != "webp" {
		t.Errorf("probed format = %q, want webp", info.Format)
	}
}

func TestEncodeDownscalesToMaxWidth(t *testing.T) {
	e := New(logging.Discard())
	res, err := e.Encode(pngBytes(t, 1200, 800), encoder.Constraints{Format: encoder.FormatWebP, Quality: 80, MaxWidth: 650})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.Width != 650 {
		t.Errorf("width = %d, want 650", res.Width)
	}
	// libvips rounds the short side itself
	if res.Height < 432 || res.Height > 434 {
		t.Errorf("height = %d, want about 433", res.Height)
	}
}

func TestEncodeNeverUpscales(t *testing.T) {
	e := New(logging.Discard())
	tests := []struct {
		name     string
		maxWidth int
	}{
		{"no limit", 0},
		{"limit above width", 650},
		{"limit at width", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Encode(pngBytes(t, 200, 100), encoder.Constraints{Format: encoder.FormatWebP, Quality: 80, MaxWidth: tt.maxWidth})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			info, err := encoder.Probe(res.Data)
			if err != nil {
				t.Fatalf("Probe: %v", err)
			}
			if info.Width != 200 || info.Height != 100 {
				t.Errorf("output %dx%d, want 200x100", info.Width, info.Height)
			}
		})
	}
}

func TestEncodeCorruptInput(t *testing.T) {
	e := New(logging.Discard())
	_, err := e.Encode([]byte("not an image"), encoder.Constraints{Format: encoder.FormatWebP, Quality: 80})
	if !errors.Is(err, encoder.ErrDecodeFailed) {
		t.Errorf("err = %v, want ErrDecodeFailed", err)
	}
}
