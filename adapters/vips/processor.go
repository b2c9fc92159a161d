// Package vips provides an optional libvips-accelerated codec backend and
// pipeline steps.  The pure-Go path never depends on it.
package vips

import (
	"context"
	"fmt"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-upscaler/core"
	apperrors "github.com/Skryldev/image-upscaler/errors"
	"github.com/Skryldev/image-upscaler/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend is a unified libvips-powered Decoder and Encoder.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
		CollectStats:     true,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatTIFF, core.FormatUnknown:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	raw, err := utils.ReadAllLimited(ctx, r, 0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	format := vipsFormatToCore(ref.Format())
	raster, err := rasterFromRef(ref)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}

	return &core.ImageEnvelope{
		Data:   raw,
		Format: format,
		Raster: raster,
		Meta: core.Metadata{
			Width:     raster.Width,
			Height:    raster.Height,
			Format:    format,
			Channels:  raster.Channels,
			HasAlpha:  raster.Channels == 4,
			SizeBytes: int64(len(raw)),
		},
		OriginalSize: int64(len(raw)),
	}, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatTIFF:
		return true
	}
	return false
}

func (b *Backend) Encode(ctx context.Context, img *core.ImageEnvelope, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrEmptyInput)
	}

	ref, err := refFromRaster(img.Raster)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.import", err)
	}
	defer ref.Close()

	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}

	switch img.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		buf, _, err := ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		if opts.Compression >= 0 {
			ep.Compression = opts.Compression
		}
		buf, _, err := ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		buf, _, err := ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	case core.FormatTIFF:
		buf, _, err := ref.ExportTiff(govips.NewTiffExportParams())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.tiff", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}
}

// ─── VipsResizeStep ───────────────────────────────────────────────────────────

// VipsResizeStep resizes the raster using vips_resize() with the Lanczos3
// kernel.  Its main use is pre-shrinking very large scans before the upscale
// step so the enhancement stages run on a bounded pixel count.
type VipsResizeStep struct {
	Width, Height int
}

func (s *VipsResizeStep) Name() string { return "vips.resize" }

func (s *VipsResizeStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcW, srcH := img.Raster.Width, img.Raster.Height
	dstW, dstH := utils.ScaleDimensions(srcW, srcH, s.Width, s.Height)
	if dstW == srcW && dstH == srcH {
		return img, nil
	}

	ref, err := refFromRaster(img.Raster)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	defer ref.Close()

	if err := ref.Resize(float64(dstW)/float64(srcW), govips.KernelLanczos3); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	raster, err := rasterFromRef(ref)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	out := *img
	out.Raster = raster
	out.Data = nil
	out.Meta.Width = raster.Width
	out.Meta.Height = raster.Height
	return &out, nil
}

// ─── VipsThumbnailStep ────────────────────────────────────────────────────────

// VipsThumbnailStep generates a square thumbnail using vips_thumbnail().
// Operates directly on encoded bytes — no separate decode step required.
type VipsThumbnailStep struct {
	Size int
}

func (s *VipsThumbnailStep) Name() string { return "vips.thumbnail" }

func (s *VipsThumbnailStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	ref, err := govips.NewThumbnailFromBuffer(img.Data, s.Size, s.Size, govips.InterestingCentre)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	defer ref.Close()

	raster, err := rasterFromRef(ref)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	out := *img
	out.Raster = raster
	out.Data = nil
	out.Meta.Width = raster.Width
	out.Meta.Height = raster.Height
	out.Meta.Channels = raster.Channels
	return &out, nil
}

// ─── RegisterVipsBackend ──────────────────────────────────────────────────────

// RegisterVipsBackend replaces the pure-Go codecs with libvips for all formats.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatTIFF} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// rasterFromRef exports the vips image as band-interleaved uchar samples,
// which is exactly the RasterImage layout.  Two-band (gray+alpha) images are
// promoted to sRGB first so the alpha survives as a fourth band.
func rasterFromRef(ref *govips.ImageRef) (*core.RasterImage, error) {
	if ref.BandFormat() != govips.BandFormatUchar {
		if err := ref.Cast(govips.BandFormatUchar); err != nil {
			return nil, err
		}
	}
	if ref.Bands() == 2 {
		if err := ref.ToColorSpace(govips.InterpretationSRGB); err != nil {
			return nil, err
		}
	}
	bands := ref.Bands()
	if bands != 1 && bands != 3 && bands != 4 {
		return nil, fmt.Errorf("unsupported band count %d", bands)
	}

	pix, err := ref.ToBytes()
	if err != nil {
		return nil, err
	}
	return &core.RasterImage{
		Width:    ref.Width(),
		Height:   ref.Height(),
		Channels: bands,
		Pix:      pix,
	}, nil
}

// refFromRaster imports raster samples into vips.  The buffer is cloned
// because vips takes ownership of the memory it is handed.
func refFromRaster(r *core.RasterImage) (*govips.ImageRef, error) {
	return govips.NewImageFromMemory(utils.CloneBytes(r.Pix), r.Width, r.Height, r.Channels)
}

// compile-time interface checks
var _ core.Decoder = (*Backend)(nil)
var _ core.Encoder = (*Backend)(nil)
var _ core.Step = (*VipsResizeStep)(nil)
var _ core.Step = (*VipsThumbnailStep)(nil)
