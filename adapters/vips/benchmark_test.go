package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	imageupscaler "github.com/Skryldev/image-upscaler"
	"github.com/Skryldev/image-upscaler/adapters/vips"
	"github.com/Skryldev/image-upscaler/core"
	"github.com/Skryldev/image-upscaler/pipeline"
)

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92})
	return buf.Bytes()
}

func fastConfig(scale float64) core.UpscaleConfig {
	cfg := core.DefaultUpscaleConfig()
	cfg.ScaleFactor = scale
	cfg.Profile = core.ProfileFast
	return cfg
}

func newVipsProc(b *testing.B) (*imageupscaler.Upscaler, *vips.Backend) {
	b.Helper()
	proc := imageupscaler.New(imageupscaler.DefaultConfig())
	backend := vips.NewBackend(vips.BackendConfig{DefaultQuality: 85})
	vips.RegisterVipsBackend(proc.Inner().Registry(), backend)
	proc.Start()
	return proc, backend
}

func newStdlibProc(b *testing.B) *imageupscaler.Upscaler {
	b.Helper()
	proc := imageupscaler.New(imageupscaler.DefaultConfig())
	proc.Start()
	return proc
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func BenchmarkDecode_Stdlib_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	proc := newStdlibProc(b)
	defer proc.Stop()
	reg := proc.Inner().Registry()

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
		); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode_Vips_1920x1080(b *testing.B) {
	raw := makeJPEG(b, 1920, 1080)
	proc, backend := newVipsProc(b)
	defer proc.Stop()
	defer backend.Shutdown()
	reg := proc.Inner().Registry()

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
		); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Upscale ──────────────────────────────────────────────────────────────────

func BenchmarkUpscale2x_Stdlib_640x360(b *testing.B) {
	raw := makeJPEG(b, 640, 360)
	proc := newStdlibProc(b)
	defer proc.Stop()

	cfg := fastConfig(2)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := proc.UpscaleBytes(context.Background(), raw, cfg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUpscale2x_VipsCodecs_640x360(b *testing.B) {
	raw := makeJPEG(b, 640, 360)
	proc, backend := newVipsProc(b)
	defer proc.Stop()
	defer backend.Shutdown()

	cfg := fastConfig(2)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := proc.UpscaleBytes(context.Background(), raw, cfg); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Pre-scale before upscale ─────────────────────────────────────────────────

// Very large scans are first shrunk with vips, then upscaled, so the
// enhancement stages run on a bounded pixel count.
func BenchmarkPrescaleUpscale_4K(b *testing.B) {
	raw := makeJPEG(b, 3840, 2160)
	proc, backend := newVipsProc(b)
	defer proc.Stop()
	defer backend.Shutdown()
	reg := proc.Inner().Registry()

	cfg := fastConfig(2)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
			&vips.VipsResizeStep{Width: 960},
			imageupscaler.UpscaleWith(cfg),
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 85}),
		); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Thumbnail ────────────────────────────────────────────────────────────────

func BenchmarkThumbnail_Stdlib_4K(b *testing.B) {
	raw := makeJPEG(b, 3840, 2160)
	proc := newStdlibProc(b)
	defer proc.Stop()
	reg := proc.Inner().Registry()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
			imageupscaler.Thumbnail(256),
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 75}),
		); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkThumbnail_Vips_4K(b *testing.B) {
	raw := makeJPEG(b, 3840, 2160)
	proc, backend := newVipsProc(b)
	defer proc.Stop()
	defer backend.Shutdown()
	reg := proc.Inner().Registry()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			&vips.VipsThumbnailStep{Size: 256},
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 75}),
		); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── WebP encode ──────────────────────────────────────────────────────────────

// The pure-Go WebP encoder is a labelled shim; vips is the production path.
func BenchmarkEncodeWebP_Stdlib(b *testing.B) {
	raw := makeJPEG(b, 800, 600)
	proc := newStdlibProc(b)
	defer proc.Stop()
	reg := proc.Inner().Registry()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
			imageupscaler.ConvertFormat(imageupscaler.WebP),
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 80}),
		); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeWebP_Vips(b *testing.B) {
	raw := makeJPEG(b, 800, 600)
	proc, backend := newVipsProc(b)
	defer proc.Stop()
	defer backend.Shutdown()
	reg := proc.Inner().Registry()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
			imageupscaler.ConvertFormat(imageupscaler.WebP),
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 80}),
		); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Full pipeline ────────────────────────────────────────────────────────────

func BenchmarkPipeline_Stdlib(b *testing.B) {
	raw := makeJPEG(b, 1280, 720)
	proc := newStdlibProc(b)
	defer proc.Stop()
	reg := proc.Inner().Registry()

	cfg := fastConfig(2)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
			imageupscaler.UpscaleWith(cfg),
			imageupscaler.Annotate("restored", "bottom-right"),
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 85}),
		); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPipeline_Vips(b *testing.B) {
	raw := makeJPEG(b, 1280, 720)
	proc, backend := newVipsProc(b)
	defer proc.Stop()
	defer backend.Shutdown()
	reg := proc.Inner().Registry()

	cfg := fastConfig(2)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := proc.Process(context.Background(),
			imageupscaler.FromReader(bytes.NewReader(raw)),
			imageupscaler.DecodeWith(reg),
			&vips.VipsResizeStep{Width: 640},
			imageupscaler.UpscaleWith(cfg),
			&pipeline.AnnotateStep{Text: "restored", Anchor: "bottom-right"},
			imageupscaler.EncodeWith(reg, core.EncodeOptions{Quality: 85}),
		); err != nil {
			b.Fatal(err)
		}
	}
}
