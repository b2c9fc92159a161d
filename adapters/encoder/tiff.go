package encoder

import (
	"bytes"
	"context"

	"golang.org/x/image/tiff"

	"github.com/Skryldev/image-upscaler/core"
	apperrors "github.com/Skryldev/image-upscaler/errors"
)

// TIFF encodes images to TIFF format using golang.org/x/image/tiff with
// deflate compression.  TIFF is always lossless, so the quality and
// compression-level options are ignored.
type TIFF struct{}

func NewTIFF() *TIFF { return &TIFF{} }

func (t *TIFF) CanEncode(format core.Format) bool { return format == core.FormatTIFF }

func (t *TIFF) Encode(ctx context.Context, img *core.ImageEnvelope, _ core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "tiff.encode", err)
	}

	src, err := rasterImage(img, "tiff.encode")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if err := tiff.Encode(&buf, src, opts); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "tiff.encode", err)
	}
	return buf.Bytes(), nil
}
