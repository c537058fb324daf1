// Package capture grabs the primary display and turns it into PNG bytes
// for transmission.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"
)

// ErrCaptureUnavailable means no display could be grabbed right now.
// The agent treats it as a skipped tick, not a fatal error.
var ErrCaptureUnavailable = errors.New("screen capture unavailable")

// Grab captures the primary display and returns its dimensions plus a
// packed RGB buffer of width*height*3 bytes, no padding.
func Grab() (width, height int, rgb []byte, err error) {
	bounds, err := primaryDisplayBounds()
	if err != nil {
		return 0, 0, nil, err
	}

	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	width = bounds.Dx()
	height = bounds.Dy()
	return width, height, rgbaToRGB(img), nil
}

// primaryDisplayBounds finds the display whose bounds start at the
// origin; that is usually the primary. Falls back to display 0.
func primaryDisplayBounds() (image.Rectangle, error) {
	numDisplays := screenshot.NumActiveDisplays()
	if numDisplays == 0 {
		return image.Rectangle{}, fmt.Errorf("%w: no active displays", ErrCaptureUnavailable)
	}

	var primary image.Rectangle
	for i := 0; i < numDisplays; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		if bounds.Min.X == 0 && bounds.Min.Y == 0 {
			primary = bounds
			break
		}
	}

	if primary.Empty() {
		primary = screenshot.GetDisplayBounds(0)
	}
	if primary.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: empty display bounds", ErrCaptureUnavailable)
	}

	return primary, nil
}

// rgbaToRGB drops the alpha channel, honoring the source stride.
func rgbaToRGB(img *image.RGBA) []byte {
	width := img.Rect.Dx()
	height := img.Rect.Dy()
	rgb := make([]byte, width*height*3)

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			src := x * 4
			dst := (y*width + x) * 3
			rgb[dst+0] = row[src+0]
			rgb[dst+1] = row[src+1]
			rgb[dst+2] = row[src+2]
		}
	}

	return rgb
}

// EncodePNG encodes a packed RGB buffer as a PNG byte stream.
func EncodePNG(width, height int, rgb []byte) ([]byte, error) {
	if len(rgb) != width*height*3 {
		return nil, fmt.Errorf("rgb buffer is %d bytes, want %d", len(rgb), width*height*3)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4+0] = rgb[i*3+0]
		img.Pix[i*4+1] = rgb[i*3+1]
		img.Pix[i*4+2] = rgb[i*3+2]
		img.Pix[i*4+3] = 0xFF
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
