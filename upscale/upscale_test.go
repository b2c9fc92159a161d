package upscale_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/Skryldev/image-upscaler/core"
	apperrors "github.com/Skryldev/image-upscaler/errors"
	"github.com/Skryldev/image-upscaler/upscale"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

// gradientImage builds a deterministic test pattern with gradients, hard
// block edges and per-channel variety, so every enhancement stage has
// something to act on.
func gradientImage(t *testing.T, w, h, channels int) *core.RasterImage {
	t.Helper()
	img := core.NewRasterImage(w, h, channels)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < channels; c++ {
				v := uint8((x*7 + y*13 + c*51) % 256)
				if x >= w/4 && x < w/2 && y >= h/4 && y < h/2 {
					v = 235
				}
				img.Pix[i] = v
				i++
			}
		}
	}
	return img
}

func wantStages(t *testing.T, res *core.UpscaleResult, want ...string) {
	t.Helper()
	got := res.StageNames()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

// ── Dimension and channel contracts ───────────────────────────────────────────

func TestRun_TargetDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		scale        float64
		wantW, wantH int
	}{
		{"blend 1.5x", 100, 100, 1.5, 150, 150},
		{"blend 2x rect", 64, 48, 2, 128, 96},
		{"cubic 2.5x", 40, 40, 2.5, 100, 100},
		{"cubic fractional", 33, 17, 3.3, 109, 56},
		{"cubic 6x", 20, 30, 6, 120, 180},
		{"double 8x", 25, 25, 8, 200, 200},
		{"double overshoot", 10, 10, 6.6, 66, 66},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultUpscaleConfig()
			cfg.ScaleFactor = tt.scale
			cfg.EnablePostprocess = false
			res, err := upscale.Run(context.Background(), gradientImage(t, tt.w, tt.h, 3), cfg)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Width != tt.wantW || res.Height != tt.wantH {
				t.Errorf("dimensions = %dx%d, want %dx%d", res.Width, res.Height, tt.wantW, tt.wantH)
			}
			if res.Image.Width != res.Width || res.Image.Height != res.Height {
				t.Error("result dimensions disagree with the image header")
			}
			if res.Image.Channels != 3 {
				t.Errorf("channels = %d, want 3", res.Image.Channels)
			}
			if want := tt.wantW * tt.wantH * 3; len(res.Image.Pix) != want {
				t.Errorf("buffer = %d bytes, want %d", len(res.Image.Pix), want)
			}

			// round(src * scale), never floor or ceil
			if rw := int(math.Round(float64(tt.w) * tt.scale)); rw != tt.wantW {
				t.Fatalf("test vector broken: round(%d*%v) = %d", tt.w, tt.scale, rw)
			}
		})
	}
}

func TestRun_ChannelsPreserved(t *testing.T) {
	for _, ch := range []int{1, 3, 4} {
		t.Run(fmt.Sprintf("%dch", ch), func(t *testing.T) {
			img := gradientImage(t, 32, 32, ch)
			res, err := upscale.Run(context.Background(), img, core.DefaultUpscaleConfig())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Image.Channels != ch {
				t.Fatalf("channels = %d, want %d", res.Image.Channels, ch)
			}
			if want := 64 * 64 * ch; len(res.Image.Pix) != want {
				t.Errorf("buffer = %d bytes, want %d", len(res.Image.Pix), want)
			}
			if ch == 4 {
				varied := false
				for i := 3; i < len(res.Image.Pix); i += 4 {
					if res.Image.Pix[i] != 255 {
						varied = true
						break
					}
				}
				if !varied {
					t.Error("alpha plane flattened to opaque")
				}
			}
		})
	}
}

func TestRun_TinyImage(t *testing.T) {
	img := gradientImage(t, 1, 1, 3)
	cfg := core.DefaultUpscaleConfig()
	res, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("Run on 1x1: %v", err)
	}
	if res.Width != 2 || res.Height != 2 {
		t.Errorf("dimensions = %dx%d, want 2x2", res.Width, res.Height)
	}
}

// ── Stage sequences ───────────────────────────────────────────────────────────

func TestRun_Balanced2x(t *testing.T) {
	img := gradientImage(t, 100, 100, 3)
	res, err := upscale.Run(context.Background(), img, core.DefaultUpscaleConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Width != 200 || res.Height != 200 || res.Image.Channels != 3 {
		t.Errorf("output = %dx%dx%d, want 200x200x3", res.Width, res.Height, res.Image.Channels)
	}
	wantStages(t, res, "resample", "denoise", "color_correct", "sharpen")
	if !strings.Contains(res.Stages[0].Detail, "lanczos4") {
		t.Errorf("resample detail = %q, want the lanczos4 blend", res.Stages[0].Detail)
	}
	if res.Elapsed <= 0 {
		t.Error("elapsed time not recorded")
	}
}

func TestRun_DoublingChain8x(t *testing.T) {
	img := gradientImage(t, 100, 100, 3)
	cfg := core.DefaultUpscaleConfig()
	cfg.ScaleFactor = 8
	cfg.Profile = core.ProfileFast // stage list is profile-independent
	res, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Width != 800 || res.Height != 800 {
		t.Errorf("dimensions = %dx%d, want 800x800", res.Width, res.Height)
	}
	wantStages(t, res,
		"resample", "resample", "resample",
		"denoise", "edge_enhance", "color_correct", "sharpen")
	for i := 0; i < 3; i++ {
		want := fmt.Sprintf("doubling pass %d/3", i+1)
		if res.Stages[i].Detail != want {
			t.Errorf("resample[%d] detail = %q, want %q", i, res.Stages[i].Detail, want)
		}
	}
	if !strings.HasPrefix(res.Stages[3].Detail, "nlm") {
		t.Errorf("denoise detail = %q, want non-local means", res.Stages[3].Detail)
	}
	for _, s := range res.Stages {
		if strings.HasPrefix(s.Detail, "fit ") {
			t.Error("unexpected fit record: 8x on 100x100 lands exactly")
		}
	}
}

func TestRun_OvershootAddsFitRecord(t *testing.T) {
	img := gradientImage(t, 10, 10, 3)
	cfg := core.DefaultUpscaleConfig()
	cfg.ScaleFactor = 7
	cfg.EnablePostprocess = false
	res, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Width != 70 || res.Height != 70 {
		t.Errorf("dimensions = %dx%d, want 70x70", res.Width, res.Height)
	}
	wantStages(t, res, "resample", "resample", "resample", "resample")
	if res.Stages[3].Detail != "fit 70x70" {
		t.Errorf("last record = %q, want the exact-fit resample", res.Stages[3].Detail)
	}
}

func TestRun_StageCountGrowsWithScale(t *testing.T) {
	img := gradientImage(t, 16, 16, 3)
	cfg := core.DefaultUpscaleConfig()
	small, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("Run 2x: %v", err)
	}
	cfg.ScaleFactor = 8
	big, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("Run 8x: %v", err)
	}
	if len(big.Stages) <= len(small.Stages) {
		t.Errorf("8x recorded %d stages, 2x recorded %d; higher factors do more work",
			len(big.Stages), len(small.Stages))
	}
}

// ── Determinism and input safety ──────────────────────────────────────────────

func TestRun_Deterministic(t *testing.T) {
	img := gradientImage(t, 48, 36, 3)
	cfg := core.DefaultUpscaleConfig()
	cfg.ScaleFactor = 2.5 // cubic bucket runs every stage

	a, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := upscale.Run(context.Background(), img, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !bytes.Equal(a.Image.Pix, b.Image.Pix) {
		t.Error("identical inputs produced different bytes")
	}
}

func TestRun_InputNotModified(t *testing.T) {
	img := gradientImage(t, 40, 40, 4)
	snapshot := img.Clone()
	if _, err := upscale.Run(context.Background(), img, core.DefaultUpscaleConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(img.Pix, snapshot.Pix) {
		t.Error("input buffer was written during the run")
	}
	if _, err := upscale.Run(context.Background(), img, core.DefaultUpscaleConfig()); err != nil {
		t.Fatalf("rerun on same input: %v", err)
	}
}

// ── Failure modes ─────────────────────────────────────────────────────────────

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		img  *core.RasterImage
		mut  func(*core.UpscaleConfig)
		want error // optional sentinel
	}{
		{"empty pix", &core.RasterImage{Width: 10, Height: 10, Channels: 3}, nil, apperrors.ErrEmptyInput},
		{"zero width", &core.RasterImage{Width: 0, Height: 10, Channels: 3, Pix: make([]byte, 30)}, nil, apperrors.ErrInvalidDimensions},
		{"negative height", &core.RasterImage{Width: 10, Height: -1, Channels: 3, Pix: make([]byte, 30)}, nil, apperrors.ErrInvalidDimensions},
		{"two channels", &core.RasterImage{Width: 10, Height: 10, Channels: 2, Pix: make([]byte, 200)}, nil, apperrors.ErrInvalidChannels},
		{"buffer mismatch", &core.RasterImage{Width: 10, Height: 10, Channels: 3, Pix: make([]byte, 299)}, nil, apperrors.ErrBufferMismatch},
		{"zero scale", nil, func(c *core.UpscaleConfig) { c.ScaleFactor = 0 }, apperrors.ErrInvalidScaleFactor},
		{"negative scale", nil, func(c *core.UpscaleConfig) { c.ScaleFactor = -2 }, apperrors.ErrInvalidScaleFactor},
		{"NaN scale", nil, func(c *core.UpscaleConfig) { c.ScaleFactor = math.NaN() }, apperrors.ErrInvalidScaleFactor},
		{"Inf scale", nil, func(c *core.UpscaleConfig) { c.ScaleFactor = math.Inf(1) }, apperrors.ErrInvalidScaleFactor},
		{"jpeg quality zero", nil, func(c *core.UpscaleConfig) { c.JPEGQuality = 0 }, nil},
		{"jpeg quality high", nil, func(c *core.UpscaleConfig) { c.JPEGQuality = 101 }, nil},
		{"png compression high", nil, func(c *core.UpscaleConfig) { c.PNGCompression = 10 }, nil},
		{"bad format hint", nil, func(c *core.UpscaleConfig) { c.FormatHint = "bmp" }, apperrors.ErrUnsupportedFormat},
		{"bad profile", nil, func(c *core.UpscaleConfig) { c.Profile = core.QualityProfile(9) }, nil},
		{"target too large", nil, func(c *core.UpscaleConfig) { c.ScaleFactor = 4000 }, apperrors.ErrImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := tt.img
			if img == nil {
				img = gradientImage(t, 10, 10, 3)
			}
			cfg := core.DefaultUpscaleConfig()
			if tt.mut != nil {
				tt.mut(&cfg)
			}
			res, err := upscale.Run(context.Background(), img, cfg)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if res != nil {
				t.Error("result must be nil on validation failure")
			}
			if !apperrors.IsInvalidInput(err) {
				t.Errorf("error %v is not an invalid-input error", err)
			}
			var iie *apperrors.InvalidInputError
			if !errors.As(err, &iie) {
				t.Errorf("error %T does not unwrap to *InvalidInputError", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error %v does not wrap %v", err, tt.want)
			}
		})
	}
}

func TestRun_CancelledBeforeFirstStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := upscale.Run(ctx, gradientImage(t, 20, 20, 3), core.DefaultUpscaleConfig())
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if res != nil {
		t.Error("result must be nil on cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v does not wrap context.Canceled", err)
	}
	var pe *apperrors.ProcessingError
	if !errors.As(err, &pe) {
		t.Fatalf("error %T does not unwrap to *ProcessingError", err)
	}
	if pe.Stage != "resample" {
		t.Errorf("failed stage = %q, want resample (first boundary)", pe.Stage)
	}
	if got := apperrors.StageOf(err); got != "resample" {
		t.Errorf("StageOf = %q, want resample", got)
	}
}
