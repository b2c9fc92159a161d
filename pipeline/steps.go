package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Skryldev/image-upscaler/core"
	apperrors "github.com/Skryldev/image-upscaler/errors"
	"github.com/Skryldev/image-upscaler/upscale"
	"github.com/Skryldev/image-upscaler/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into a raster via the registry.
// When the envelope carries no format it is sniffed from the leading bytes.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if img.Raster != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}

	format := img.Format
	if format == "" || format == core.FormatUnknown {
		format = core.Format(utils.DetectFormat(img.Data))
	}
	dec, ok := s.Registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}

	// Preserve the raw bytes alongside the decoded representation.
	decoded.Data = img.Data
	decoded.OriginalSize = img.OriginalSize
	if decoded.OriginalSize == 0 {
		decoded.OriginalSize = int64(len(img.Data))
	}
	return decoded, nil
}

// ── Upscale ───────────────────────────────────────────────────────────────────

// UpscaleStep runs the multi-stage upscaling pipeline on the decoded raster.
// The result replaces the raster, stage diagnostics land in img.Upscale, and
// the format hint from the config is applied for the subsequent encode step.
type UpscaleStep struct {
	Config core.UpscaleConfig
}

func (s *UpscaleStep) Name() string { return "upscale" }

func (s *UpscaleStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: raster not decoded", apperrors.ErrEmptyInput))
	}

	res, err := upscale.Run(ctx, img.Raster, s.Config)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Raster = res.Image
	out.Upscale = res
	out.Data = nil // encoded bytes are stale once pixels change
	out.Meta.Width = res.Width
	out.Meta.Height = res.Height
	out.Meta.Channels = res.Image.Channels
	out.Meta.HasAlpha = res.Image.Channels == 4
	if s.Config.FormatHint != "" && s.Config.FormatHint != core.FormatUnknown {
		out.Format = s.Config.FormatHint
		out.Meta.Format = s.Config.FormatHint
	}
	return &out, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep resizes the raster to the given dimensions, preserving aspect
// ratio when one axis is 0.  Method selects the interpolator by its classic
// name ("nearest", "linear", "cubic"); an explicit Resampler wins over both.
type ResizeStep struct {
	Width, Height int
	Method        string
	Resampler     xdraw.Interpolator
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcW, srcH := img.Raster.Width, img.Raster.Height
	dstW, dstH := utils.ScaleDimensions(srcW, srcH, s.Width, s.Height)

	if dstW == srcW && dstH == srcH {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = interpolatorFor(s.Method)
	}

	src := img.Raster.ToNRGBA()
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := *img
	out.Raster = core.FromNRGBA(dst, img.Raster.Channels)
	out.Data = nil
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	return &out, nil
}

// interpolatorFor maps a method name to an interpolator.  Unknown names fall
// back to bilinear, matching the resizer defaults upstream callers expect.
func interpolatorFor(method string) xdraw.Interpolator {
	switch strings.ToLower(method) {
	case "nearest":
		return xdraw.NearestNeighbor
	case "cubic", "catmullrom":
		return xdraw.CatmullRom
	default: // "linear" and unset
		return xdraw.BiLinear
	}
}

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep cuts a rectangle out of the raster.
type CropStep struct {
	X, Y, Width, Height int
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
	if !rect.In(image.Rect(0, 0, r.Width, r.Height)) || s.Width <= 0 || s.Height <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("crop rect %v exceeds image bounds %dx%d", rect, r.Width, r.Height))
	}

	c := r.Channels
	cropped := core.NewRasterImage(s.Width, s.Height, c)
	for y := 0; y < s.Height; y++ {
		srcOff := ((s.Y+y)*r.Width + s.X) * c
		copy(cropped.Pix[y*s.Width*c:(y+1)*s.Width*c], r.Pix[srcOff:srcOff+s.Width*c])
	}

	out := *img
	out.Raster = cropped
	out.Data = nil
	out.Meta.Width = s.Width
	out.Meta.Height = s.Height
	return &out, nil
}

// ── Thumbnail ────────────────────────────────────────────────────────────────

// ThumbnailStep combines resize with centre cropping to produce a square
// preview of the given size.
type ThumbnailStep struct {
	Size   int
	Method string
}

func (s *ThumbnailStep) Name() string { return "thumbnail" }

func (s *ThumbnailStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Size <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	// Resize so the smallest dimension equals Size, then centre-crop.
	var rw, rh int
	if img.Raster.Width < img.Raster.Height {
		rw, rh = s.Size, 0
	} else {
		rw, rh = 0, s.Size
	}
	resized, err := (&ResizeStep{Width: rw, Height: rh, Method: s.Method}).Execute(ctx, img)
	if err != nil {
		return nil, err
	}

	ox := (resized.Raster.Width - s.Size) / 2
	oy := (resized.Raster.Height - s.Size) / 2
	return (&CropStep{X: ox, Y: oy, Width: s.Size, Height: s.Size}).Execute(ctx, resized)
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep retargets the envelope to a new format for the subsequent encode
// step to pick up.
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Grayscale ─────────────────────────────────────────────────────────────────

// GrayscaleStep collapses the raster to a single luminance channel (BT.601
// weights).  Single-channel input passes through untouched.
type GrayscaleStep struct{}

func (s *GrayscaleStep) Name() string { return "grayscale" }

func (s *GrayscaleStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if r.Channels == 1 {
		return img, nil
	}

	c := r.Channels
	gray := core.NewRasterImage(r.Width, r.Height, 1)
	for i, j := 0, 0; i < len(r.Pix); i, j = i+c, j+1 {
		lum := (299*int(r.Pix[i]) + 587*int(r.Pix[i+1]) + 114*int(r.Pix[i+2]) + 500) / 1000
		gray.Pix[j] = uint8(lum)
	}

	out := *img
	out.Raster = gray
	out.Data = nil
	out.Meta.Channels = 1
	out.Meta.HasAlpha = false
	return &out, nil
}

// ── Gamma ─────────────────────────────────────────────────────────────────────

// GammaStep applies gamma correction.  Gamma < 1 darkens, > 1 lightens, 1 is
// a no-op.  When Gamma is 0 a value is derived from the mean brightness:
// dark frames (mean < 85) map to 0.5..1.0, bright frames (mean > 170) to
// 1.0..1.5, anything in between stays at 1.0.
type GammaStep struct {
	Gamma float64
}

func (s *GammaStep) Name() string { return "gamma" }

func (s *GammaStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	g := s.Gamma
	if g < 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("gamma must be a non-negative finite number, got %v", g))
	}
	if g == 0 {
		g = autoGamma(r)
	}
	if g == 1.0 {
		return img, nil
	}

	adjusted := imaging.AdjustGamma(r.ToNRGBA(), g)

	out := *img
	out.Raster = core.FromNRGBA(adjusted, r.Channels)
	out.Data = nil
	return &out, nil
}

// autoGamma picks a correction factor from the mean luminance.
func autoGamma(r *core.RasterImage) float64 {
	c := r.Channels
	var sum int64
	if c == 1 {
		for _, v := range r.Pix {
			sum += int64(v)
		}
	} else {
		for i := 0; i < len(r.Pix); i += c {
			sum += int64((299*int(r.Pix[i]) + 587*int(r.Pix[i+1]) + 114*int(r.Pix[i+2]) + 500) / 1000)
		}
	}
	mean := float64(sum) / float64(r.Width*r.Height)

	switch {
	case mean < 85:
		return 0.5 + mean/170
	case mean > 170:
		return 1.0 + (mean-170)/170
	default:
		return 1.0
	}
}

// ── Rotate ────────────────────────────────────────────────────────────────────

// RotateStep rotates the raster counter-clockwise by the given angle, expanding
// the canvas so no content is cut off.  Right angles take a lossless fast path;
// arbitrary angles fill the exposed corners with Background (white when nil).
type RotateStep struct {
	Degrees    float64
	Background color.Color
}

func (s *RotateStep) Name() string { return "rotate" }

func (s *RotateStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	angle := math.Mod(s.Degrees, 360)
	if angle < 0 {
		angle += 360
	}
	if angle == 0 {
		return img, nil
	}

	src := r.ToNRGBA()
	var rotated *image.NRGBA
	switch angle {
	case 90:
		rotated = imaging.Rotate90(src)
	case 180:
		rotated = imaging.Rotate180(src)
	case 270:
		rotated = imaging.Rotate270(src)
	default:
		bg := s.Background
		if bg == nil {
			bg = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		}
		rotated = imaging.Rotate(src, angle, bg)
	}

	out := *img
	out.Raster = core.FromNRGBA(rotated, r.Channels)
	out.Data = nil
	out.Meta.Width = out.Raster.Width
	out.Meta.Height = out.Raster.Height
	return &out, nil
}

// ── Flip ──────────────────────────────────────────────────────────────────────

// FlipStep mirrors the raster along one or both axes.
type FlipStep struct {
	Horizontal bool
	Vertical   bool
}

func (s *FlipStep) Name() string { return "flip" }

func (s *FlipStep) Execute(_ context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if !s.Horizontal && !s.Vertical {
		return img, nil
	}

	flipped := r.ToNRGBA()
	if s.Horizontal {
		flipped = imaging.FlipH(flipped)
	}
	if s.Vertical {
		flipped = imaging.FlipV(flipped)
	}

	out := *img
	out.Raster = core.FromNRGBA(flipped, r.Channels)
	out.Data = nil
	return &out, nil
}

// ── Annotate ──────────────────────────────────────────────────────────────────

// AnnotateStep draws a short text label into a corner of the raster.  Anchor
// is one of "top-left", "top-right", "bottom-left", "bottom-right" (the
// default).  A zero Color renders white.
type AnnotateStep struct {
	Text   string
	Anchor string
	Color  color.NRGBA
	Margin int
}

func (s *AnnotateStep) Name() string { return "annotate" }

func (s *AnnotateStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Text == "" {
		return img, nil
	}

	col := s.Color
	if col.A == 0 {
		col = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	margin := s.Margin
	if margin <= 0 {
		margin = 8
	}

	dst := r.ToNRGBA()
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
	}
	textW := d.MeasureString(s.Text).Ceil()

	var x, y int
	switch s.Anchor {
	case "top-left":
		x, y = margin, margin+face.Ascent
	case "top-right":
		x, y = r.Width-margin-textW, margin+face.Ascent
	case "bottom-left":
		x, y = margin, r.Height-margin-face.Descent
	default: // bottom-right
		x, y = r.Width-margin-textW, r.Height-margin-face.Descent
	}
	d.Dot = fixed.P(x, y)
	d.DrawString(s.Text)

	out := *img
	out.Raster = core.FromNRGBA(dst, r.Channels)
	out.Data = nil
	return &out, nil
}

// ── Overlay ───────────────────────────────────────────────────────────────────

// OverlayStep composites an image (logo, watermark) onto the raster at the
// given offset.
type OverlayStep struct {
	Overlay image.Image
	OffsetX int
	OffsetY int
}

func (s *OverlayStep) Name() string { return "overlay" }

func (s *OverlayStep) Execute(_ context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	r := img.Raster
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	if s.Overlay == nil {
		return img, nil
	}

	dst := r.ToNRGBA()
	offset := image.Point{X: s.OffsetX, Y: s.OffsetY}
	draw.Draw(dst, s.Overlay.Bounds().Add(offset), s.Overlay, s.Overlay.Bounds().Min, draw.Over)

	out := *img
	out.Raster = core.FromNRGBA(dst, r.Channels)
	out.Data = nil
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the raster into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	data, err := enc.Encode(ctx, img, s.BaseOptions)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Data = data
	out.Meta.Format = img.Format
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}

// ── AdaptiveCompress ──────────────────────────────────────────────────────────

// AdaptiveCompressStep steps JPEG/WebP quality down until the encoded output
// fits TargetSizeBytes, keeping the last attempt when even MinQuality is too
// large.  Upscaled outputs grow quadratically with the factor, so capping the
// stored size is a common final step.
type AdaptiveCompressStep struct {
	Registry        core.Registry
	TargetSizeBytes int64
	MinQuality      int
	MaxQuality      int
	StepSize        int
}

func (s *AdaptiveCompressStep) Name() string { return "adaptive_compress" }

func (s *AdaptiveCompressStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if s.TargetSizeBytes <= 0 {
		return img, nil
	}
	if img.Raster == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return img, nil // skip; format has no quality dial
	}

	maxQ := s.MaxQuality
	if maxQ <= 0 {
		maxQ = 95
	}
	minQ := s.MinQuality
	if minQ <= 0 {
		minQ = 40
	}
	step := s.StepSize
	if step <= 0 {
		step = 5
	}

	var best []byte
	for quality := maxQ; quality >= minQ; quality -= step {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
		data, err := enc.Encode(ctx, img, core.EncodeOptions{Quality: quality, Compression: -1})
		if err != nil {
			return nil, err
		}
		best = data
		if int64(len(data)) <= s.TargetSizeBytes {
			break
		}
	}

	out := *img
	out.Data = best
	out.Meta.SizeBytes = int64(len(best))
	return &out, nil
}

// ── Store ─────────────────────────────────────────────────────────────────────

// StoreStep writes the encoded bytes through a StorageAdapter.  Each stored
// object gets a UUID-based path under Prefix and carries the image dimensions,
// format and applied upscale stages as side-car metadata.
type StoreStep struct {
	Storage core.StorageAdapter
	Bucket  string
	Prefix  string
}

func (s *StoreStep) Name() string { return "store" }

func (s *StoreStep) Execute(ctx context.Context, img *core.ImageEnvelope) (*core.ImageEnvelope, error) {
	if s.Storage == nil {
		return nil, apperrors.New(apperrors.CategoryStorage, s.Name(), apperrors.ErrStorageUnavailable)
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryStorage, s.Name(),
			fmt.Errorf("%w: no encoded bytes to store", apperrors.ErrEmptyInput))
	}

	name := uuid.NewString() + extensionFor(img.Format)
	if s.Prefix != "" {
		name = strings.TrimSuffix(s.Prefix, "/") + "/" + name
	}
	key := core.StorageKey{Bucket: s.Bucket, Path: name}

	meta := map[string]string{
		"width":  strconv.Itoa(img.Meta.Width),
		"height": strconv.Itoa(img.Meta.Height),
		"format": string(img.Format),
	}
	if img.Upscale != nil {
		meta["stages"] = strings.Join(img.Upscale.StageNames(), ",")
	}

	if err := s.Storage.Put(ctx, key, bytes.NewReader(img.Data), meta); err != nil {
		if apperrors.IsProcessing(err) {
			return nil, err
		}
		return nil, apperrors.New(apperrors.CategoryStorage, s.Name(), err)
	}

	out := *img
	out.Stored = &key
	return &out, nil
}

func extensionFor(f core.Format) string {
	switch f {
	case core.FormatJPEG:
		return ".jpg"
	case core.FormatPNG:
		return ".png"
	case core.FormatWebP:
		return ".webp"
	case core.FormatTIFF:
		return ".tiff"
	}
	return ".bin"
}
