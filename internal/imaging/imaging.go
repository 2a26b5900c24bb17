// Package imaging bounds upload dimensions before they are sent to a model.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoders
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"mspro-labs/koredoko/internal/ai"
)

// DefaultMaxPixels bounds width*height when Options.MaxPixels is unset.
const DefaultMaxPixels = 50_000_000

// ErrTooManyPixels is returned for images whose header declares more pixels
// than Options.MaxPixels. Nothing is decoded in that case.
var ErrTooManyPixels = errors.New("image dimensions are too large")

// Options controls normalization.
type Options struct {
	MaxDimension int   // longest edge in pixels; 0 disables resizing
	MaxPixels    int64 // 0 means DefaultMaxPixels
	JPEGQuality  int
}

// Normalize fits img inside a MaxDimension square, preserving aspect ratio,
// and re-encodes it as JPEG. Images already inside the box and bytes that
// cannot be decoded are returned unchanged.
func Normalize(img ai.Image, opts Options) (ai.Image, bool, error) {
	if opts.MaxDimension <= 0 {
		return img, false, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		// Formats we cannot decode (HEIC and friends) go to the model as-is.
		return img, false, nil
	}

	limit := opts.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > limit {
		return img, false, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	w, h := FitWithin(cfg.Width, cfg.Height, opts.MaxDimension)
	if w == cfg.Width && h == cfg.Height {
		return img, false, nil
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return img, false, fmt.Errorf("decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return img, false, fmt.Errorf("encode jpeg: %w", err)
	}

	return ai.Image{MIMEType: "image/jpeg", Data: buf.Bytes()}, true, nil
}

// FitWithin scales (w, h) down so neither edge exceeds limit.
func FitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := w * limit / h
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}
