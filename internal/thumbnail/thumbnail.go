// Package thumbnail renders downscaled copies of images.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrInvalidWidth is returned for non-positive target widths.
var ErrInvalidWidth = errors.New("invalid width")

// Resizer produces a copy of src that is width pixels wide.
type Resizer interface {
	Resize(ctx context.Context, src []byte, width int) ([]byte, error)
}

// ImagingResizer keeps the aspect ratio and re-encodes in the source format.
type ImagingResizer struct {
	Filter imaging.ResampleFilter
}

func NewResizer() *ImagingResizer {
	return &ImagingResizer{Filter: imaging.Lanczos}
}

func (r *ImagingResizer) Resize(ctx context.Context, src []byte, width int) ([]byte, error) {
	if width <= 0 {
		return nil, ErrInvalidWidth
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, name, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		format = imaging.PNG
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	resized := imaging.Resize(img, width, 0, r.Filter)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
