// Package decoder provides format-specific image decoders.
package decoder

import (
	"context"
	"image"
	"image/jpeg"
	"io"

	"github.com/Skryldev/image-upscaler/core"
	apperrors "github.com/Skryldev/image-upscaler/errors"
)

// JPEG decodes JPEG images using the standard library.
type JPEG struct{}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG || format == core.FormatUnknown
}

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}

	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return envelope(img, core.FormatJPEG), nil
}

// envelope converts a decoded image into the raster representation the
// pipeline works on.
func envelope(img image.Image, format core.Format) *core.ImageEnvelope {
	raster := core.FromImage(img)
	return &core.ImageEnvelope{
		Format: format,
		Raster: raster,
		Meta: core.Metadata{
			Width:    raster.Width,
			Height:   raster.Height,
			Format:   format,
			Channels: raster.Channels,
			HasAlpha: raster.Channels == 4,
		},
	}
}
