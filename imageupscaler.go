// Package imageupscaler is the public entry point for the quality-tuned
// image upscaling pipeline.  It wires the codec registry, the worker-pool
// processor and the step library into one facade.
package imageupscaler

import (
	"context"
	"image"
	"io"
	"strings"

	"github.com/Skryldev/image-upscaler/adapters/decoder"
	"github.com/Skryldev/image-upscaler/adapters/encoder"
	"github.com/Skryldev/image-upscaler/config"
	"github.com/Skryldev/image-upscaler/core"
	"github.com/Skryldev/image-upscaler/pipeline"
	"github.com/Skryldev/image-upscaler/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
	TIFF = core.FormatTIFF
)

// Re-export quality profiles.
const (
	ProfileFast     = core.ProfileFast
	ProfileBalanced = core.ProfileBalanced
	ProfileMaximum  = core.ProfileMaximum
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Upscaler is the primary entry point.
type Upscaler struct {
	cfg      config.Config
	inner    *core.Processor
	reg      *core.DefaultRegistry
	hooks    []core.Hook
	jobSteps core.StepFactory
}

// New creates a fully wired Upscaler with the JPEG, PNG, WebP and TIFF codecs
// registered.  Pass a custom config.Config to override defaults.
func New(cfg config.Config) *Upscaler {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterDecoder(core.FormatTIFF, decoder.NewTIFF())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.Upscale.JPEGQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(cfg.Upscale.JPEGQuality))
	reg.RegisterEncoder(core.FormatTIFF, encoder.NewTIFF())

	u := &Upscaler{
		cfg:   cfg,
		inner: core.New(cfg, reg),
		reg:   reg,
	}
	u.jobSteps = func(uc core.UpscaleConfig) []core.Step {
		return []core.Step{
			&pipeline.DecodeStep{Registry: reg},
			&pipeline.UpscaleStep{Config: uc},
			&pipeline.EncodeStep{Registry: reg, BaseOptions: core.EncodeOptionsFor(uc)},
		}
	}
	// Variants run against the already-decoded base image, so their chain
	// starts at the upscale step.
	variantSteps := func(uc core.UpscaleConfig) []core.Step {
		return []core.Step{
			&pipeline.UpscaleStep{Config: uc},
			&pipeline.EncodeStep{Registry: reg, BaseOptions: core.EncodeOptionsFor(uc)},
		}
	}
	u.inner.SetStepFactories(u.jobSteps, variantSteps, &pipeline.DecodeStep{Registry: reg})
	return u
}

// DefaultUpscaleConfig builds the per-run config from the loaded defaults.
func (u *Upscaler) DefaultUpscaleConfig() core.UpscaleConfig {
	d := core.DefaultUpscaleConfig()
	up := u.cfg.Upscale
	if up.ScaleFactor > 0 {
		d.ScaleFactor = up.ScaleFactor
	}
	if up.Profile != "" {
		d.Profile = core.ParseQualityProfile(up.Profile)
	}
	if up.FormatHint != "" {
		d.FormatHint = core.Format(strings.ToLower(up.FormatHint))
	}
	d.EnablePostprocess = up.EnablePostprocess
	if up.JPEGQuality > 0 {
		d.JPEGQuality = up.JPEGQuality
	}
	if up.PNGCompression >= 0 {
		d.PNGCompression = up.PNGCompression
	}
	return d
}

// SetLogger attaches a structured logger.
func (u *Upscaler) SetLogger(l core.Logger) { u.inner.SetLogger(l) }

// SetMetrics attaches a metrics collector.
func (u *Upscaler) SetMetrics(m core.MetricsCollector) { u.inner.SetMetrics(m) }

// AddHook registers an observer for pipeline step events.
func (u *Upscaler) AddHook(h core.Hook) {
	u.hooks = append(u.hooks, h)
	u.inner.AddHook(h)
}

// RegisterDecoder registers a custom decoder for the given format.
func (u *Upscaler) RegisterDecoder(f core.Format, d core.Decoder) { u.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (u *Upscaler) RegisterEncoder(f core.Format, e core.Encoder) { u.reg.RegisterEncoder(f, e) }

// Start starts the background worker pool.
func (u *Upscaler) Start() { u.inner.Start() }

// Stop drains and shuts down the worker pool.
func (u *Upscaler) Stop() { u.inner.Stop() }

// Upscale runs the upscaling pipeline on an in-memory raster and returns the
// result with its stage diagnostics.  The input is never modified.  Hooks
// registered on the Upscaler observe the run as a single "upscale" step.
func (u *Upscaler) Upscale(ctx context.Context, img *core.RasterImage, cfg core.UpscaleConfig) (*core.UpscaleResult, error) {
	pl := pipeline.New().Use(&pipeline.UpscaleStep{Config: cfg})
	for _, h := range u.hooks {
		pl.AddHook(h)
	}

	env := &core.ImageEnvelope{Raster: img}
	if img != nil {
		env.Meta = core.Metadata{
			Width:    img.Width,
			Height:   img.Height,
			Channels: img.Channels,
			HasAlpha: img.Channels == 4,
		}
	}

	out, _, err := pl.Run(ctx, env)
	if err != nil {
		return nil, err
	}
	return out.Upscale, nil
}

// UpscaleBytes decodes raw image bytes, upscales them, and re-encodes the
// result using the config's format hint and quality pass-through.  It returns
// the encoded output and the stage diagnostics.
func (u *Upscaler) UpscaleBytes(ctx context.Context, raw []byte, cfg core.UpscaleConfig) ([]byte, *core.UpscaleResult, error) {
	res, err := u.inner.Process(ctx, FromBytes(raw), u.jobSteps(cfg)...)
	if err != nil {
		return nil, nil, err
	}
	return res.Primary.Data, res.Primary.Upscale, nil
}

// Process executes the provided steps synchronously and returns the result.
func (u *Upscaler) Process(ctx context.Context, src core.Source, steps ...core.Step) (*core.ProcessResult, error) {
	return u.inner.Process(ctx, src, steps...)
}

// Batch runs the same steps on multiple sources concurrently.
func (u *Upscaler) Batch(ctx context.Context, sources []core.Source, steps ...core.Step) ([]*core.ProcessResult, []error) {
	return u.inner.Batch(ctx, sources, steps...)
}

// Variants decodes the source once, then produces one named output per
// variant config in parallel (e.g. 2x preview plus 4x archival master).
// Every variant, and the base config that becomes the primary output, is
// derived from the original decoded image.
func (u *Upscaler) Variants(ctx context.Context, src core.Source, base core.UpscaleConfig, variants []core.VariantDefinition) (*core.ProcessResult, error) {
	return u.inner.ProcessVariants(ctx, src, []core.Step{&pipeline.DecodeStep{Registry: u.reg}}, base, variants)
}

// Submit enqueues an async job for the worker pool and returns the job ID.
// Jobs without an explicit config run with the loaded defaults.
func (u *Upscaler) Submit(job core.Job) (string, error) {
	if job.Config.ScaleFactor == 0 {
		job.Config = u.DefaultUpscaleConfig()
	}
	return u.inner.Submit(job)
}

// NewPipeline creates a reusable, standalone pipeline.
func (u *Upscaler) NewPipeline(steps ...core.Step) *pipeline.Pipeline {
	pl := pipeline.New()
	pl.Use(steps...)
	return pl
}

// Stats returns lightweight processing statistics.
func (u *Upscaler) Stats() (processed, errors int64) {
	return u.inner.ProcessedCount(), u.inner.ErrorCount()
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromBytes creates a Source from an in-memory encoded image.
func FromBytes(raw []byte) core.Source {
	return core.Source{Reader: utils.BytesReader(raw), Size: int64(len(raw))}
}

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// ── Step constructors ─────────────────────────────────────────────────────────

// UpscaleWith returns the core upscaling step for the given config.
func UpscaleWith(cfg core.UpscaleConfig) core.Step { return &pipeline.UpscaleStep{Config: cfg} }

// DecodeWith returns a decode step bound to the given registry.
func DecodeWith(reg core.Registry) core.Step { return &pipeline.DecodeStep{Registry: reg} }

// EncodeWith returns an encode step bound to the given registry and options.
func EncodeWith(reg core.Registry, opts core.EncodeOptions) core.Step {
	return &pipeline.EncodeStep{Registry: reg, BaseOptions: opts}
}

// Resize returns a resize step.  Pass 0 for one axis to preserve aspect ratio.
func Resize(width, height int) core.Step { return &pipeline.ResizeStep{Width: width, Height: height} }

// Crop returns a crop step.
func Crop(x, y, width, height int) core.Step {
	return &pipeline.CropStep{X: x, Y: y, Width: width, Height: height}
}

// Thumbnail returns a square thumbnail step.
func Thumbnail(size int) core.Step { return &pipeline.ThumbnailStep{Size: size} }

// ConvertFormat instructs subsequent steps to use the given output format.
func ConvertFormat(f core.Format) core.Step { return &pipeline.FormatStep{Format: f} }

// Grayscale returns a step that collapses the image to one luminance channel.
func Grayscale() core.Step { return &pipeline.GrayscaleStep{} }

// Gamma returns a gamma-correction step.  Pass 0 to derive the correction
// from the image's mean brightness.
func Gamma(gamma float64) core.Step { return &pipeline.GammaStep{Gamma: gamma} }

// Rotate returns a counter-clockwise rotation step with an expanded canvas.
func Rotate(degrees float64) core.Step { return &pipeline.RotateStep{Degrees: degrees} }

// Flip returns a mirroring step along the selected axes.
func Flip(horizontal, vertical bool) core.Step {
	return &pipeline.FlipStep{Horizontal: horizontal, Vertical: vertical}
}

// Annotate returns a corner-label step.  Anchor is one of "top-left",
// "top-right", "bottom-left", "bottom-right".
func Annotate(text, anchor string) core.Step {
	return &pipeline.AnnotateStep{Text: text, Anchor: anchor}
}

// Overlay returns a step that composites an image over the raster.
func Overlay(overlay image.Image, x, y int) core.Step {
	return &pipeline.OverlayStep{Overlay: overlay, OffsetX: x, OffsetY: y}
}

// AdaptiveCompress returns a step that iteratively reduces quality to hit a
// target size in bytes.
func AdaptiveCompress(reg core.Registry, targetBytes int64, minQ, maxQ int) core.Step {
	return &pipeline.AdaptiveCompressStep{
		Registry:        reg,
		TargetSizeBytes: targetBytes,
		MinQuality:      minQ,
		MaxQuality:      maxQ,
		StepSize:        5,
	}
}

// Store returns a step that writes the encoded result through a storage
// adapter.
func Store(adapter core.StorageAdapter, bucket, prefix string) core.Step {
	return &pipeline.StoreStep{Storage: adapter, Bucket: bucket, Prefix: prefix}
}
