package core

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	apperrors "github.com/Skryldev/image-upscaler/errors"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatTIFF    Format = "tiff"
	FormatUnknown Format = "unknown"
)

// QualityProfile selects how much work the enhancement stages do.
// It never changes which stages run, only their intensity.
type QualityProfile uint8

const (
	ProfileFast QualityProfile = iota
	ProfileBalanced
	ProfileMaximum
)

func (p QualityProfile) String() string {
	switch p {
	case ProfileFast:
		return "fast"
	case ProfileBalanced:
		return "balanced"
	case ProfileMaximum:
		return "maximum"
	default:
		return fmt.Sprintf("profile(%d)", uint8(p))
	}
}

// ParseQualityProfile maps a config string to a profile. Unknown values
// fall back to ProfileBalanced.
func ParseQualityProfile(s string) QualityProfile {
	switch s {
	case "fast":
		return ProfileFast
	case "maximum", "max":
		return ProfileMaximum
	default:
		return ProfileBalanced
	}
}

// Stage identifies one transformation step inside an upscale run.
type Stage uint8

const (
	StageResample Stage = iota
	StageDenoise
	StageEdgeEnhance
	StageColorCorrect
	StageSharpen
)

func (s Stage) String() string {
	switch s {
	case StageResample:
		return "resample"
	case StageDenoise:
		return "denoise"
	case StageEdgeEnhance:
		return "edge_enhance"
	case StageColorCorrect:
		return "color_correct"
	case StageSharpen:
		return "sharpen"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// RasterImage is a decoded image: a contiguous, row-major 8-bit sample
// buffer with a fixed channel count (1 gray, 3 RGB, 4 RGBA).
// Once produced it is treated as read-only; every pipeline stage
// allocates a fresh buffer for its output.
type RasterImage struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// NewRasterImage allocates a zeroed image buffer.
func NewRasterImage(width, height, channels int) *RasterImage {
	return &RasterImage{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Validate checks the RasterImage invariants: positive dimensions, a
// supported channel count and a buffer sized exactly width*height*channels.
func (r *RasterImage) Validate() error {
	if r == nil || len(r.Pix) == 0 {
		return apperrors.ErrEmptyInput
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, r.Width, r.Height)
	}
	if r.Channels != 1 && r.Channels != 3 && r.Channels != 4 {
		return fmt.Errorf("%w: got %d", apperrors.ErrInvalidChannels, r.Channels)
	}
	if want := r.Width * r.Height * r.Channels; len(r.Pix) != want {
		return fmt.Errorf("%w: have %d, want %d (%dx%dx%d)",
			apperrors.ErrBufferMismatch, len(r.Pix), want, r.Width, r.Height, r.Channels)
	}
	return nil
}

// Clone returns a deep copy.
func (r *RasterImage) Clone() *RasterImage {
	out := &RasterImage{Width: r.Width, Height: r.Height, Channels: r.Channels}
	out.Pix = make([]byte, len(r.Pix))
	copy(out.Pix, r.Pix)
	return out
}

// MaxDimension bounds the output size of a single upscale run.
// Requests whose target exceeds this per side are rejected up front.
const MaxDimension = 32768

// UpscaleConfig describes one requested upscale operation. Build values
// from DefaultUpscaleConfig and override fields; Validate is strict and a
// zero JPEGQuality is out of range.
type UpscaleConfig struct {
	// ScaleFactor is the requested linear scale, typically 2, 4 or 8 but any
	// positive finite value is accepted.
	ScaleFactor float64
	// Profile trades processing cost against enhancement thoroughness.
	Profile QualityProfile
	// FormatHint names the downstream encoding. It never changes pixel
	// processing; encoders read it together with the quality knobs below.
	FormatHint Format
	// EnablePostprocess toggles every enhancement stage. When false, only the
	// base resampling for the scale bucket runs.
	EnablePostprocess bool
	// JPEGQuality 1-100, pass-through hint for JPEG encoding.
	JPEGQuality int
	// PNGCompression 0-9, pass-through hint for PNG encoding.
	PNGCompression int
}

// DefaultUpscaleConfig returns the baseline 2x balanced configuration.
func DefaultUpscaleConfig() UpscaleConfig {
	return UpscaleConfig{
		ScaleFactor:       2,
		Profile:           ProfileBalanced,
		FormatHint:        FormatJPEG,
		EnablePostprocess: true,
		JPEGQuality:       98,
		PNGCompression:    1,
	}
}

// Validate checks config ranges.
func (c UpscaleConfig) Validate() error {
	if c.ScaleFactor <= 0 || math.IsNaN(c.ScaleFactor) || math.IsInf(c.ScaleFactor, 0) {
		return fmt.Errorf("%w: got %v", apperrors.ErrInvalidScaleFactor, c.ScaleFactor)
	}
	if c.Profile > ProfileMaximum {
		return fmt.Errorf("unknown quality profile %d", c.Profile)
	}
	switch c.FormatHint {
	case FormatJPEG, FormatPNG, FormatWebP, FormatTIFF:
	default:
		return fmt.Errorf("%w: format hint %q", apperrors.ErrUnsupportedFormat, c.FormatHint)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality %d out of range 1-100", c.JPEGQuality)
	}
	if c.PNGCompression < 0 || c.PNGCompression > 9 {
		return fmt.Errorf("png compression %d out of range 0-9", c.PNGCompression)
	}
	return nil
}

// StageRecord is the per-stage diagnostic entry of an upscale run.
type StageRecord struct {
	Stage    Stage
	Detail   string // e.g. "doubling pass 2/3", "bilateral r=5"
	Duration time.Duration
}

// UpscaleResult is the output of one upscale run.
type UpscaleResult struct {
	Image   *RasterImage
	Width   int
	Height  int
	Stages  []StageRecord
	Elapsed time.Duration
}

// StageNames returns the applied stage identifiers in execution order.
func (r *UpscaleResult) StageNames() []string {
	names := make([]string, len(r.Stages))
	for i, s := range r.Stages {
		names[i] = s.Stage.String()
	}
	return names
}

// Metadata holds extracted image information.
type Metadata struct {
	Width     int
	Height    int
	Format    Format
	Channels  int
	HasAlpha  bool
	SizeBytes int64
}

// ImageEnvelope is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Raster holds the decoded sample buffer once a
// decode step has run.
type ImageEnvelope struct {
	// Encoded bytes — non-nil when the image has been encoded or is raw input.
	Data   []byte
	Format Format

	// Decoded sample buffer — populated by decode steps.
	Raster *RasterImage

	// Metadata extracted during decode.
	Meta Metadata

	// Diagnostics from the most recent upscale step, nil before it runs.
	Upscale *UpscaleResult

	// Destination written by a store step, nil otherwise.
	Stored *StorageKey

	// Size of the original raw input.
	OriginalSize int64
}

// ProcessResult is returned to the caller after the full pipeline completes.
type ProcessResult struct {
	Primary  *ImageEnvelope
	Variants map[string]*ImageEnvelope // keyed by variant name

	// Observability.
	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// Source abstracts where raw bytes come from (reader, file path, URL, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / filename
	Size        int64  // -1 if unknown
}

// Job encapsulates a single unit of work for the worker pool. When Steps is
// empty the processor builds the default decode → upscale → encode sequence
// from Config.
type Job struct {
	ID      string // assigned a UUID on submit when empty
	Ctx     context.Context //nolint:containedctx // intentional for async jobs
	Source  Source
	Config  UpscaleConfig
	Steps   []Step
	Options JobOptions
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobOptions controls per-job behaviour.
type JobOptions struct {
	MaxRetries  int
	RetryDelay  time.Duration
	VariantDefs []VariantDefinition
}

// VariantDefinition instructs the processor to produce a named output
// variant from the same decoded input.
type VariantDefinition struct {
	Name   string
	Config UpscaleConfig
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *ProcessResult
	Err    error
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageEnvelope value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageEnvelope) (*ImageEnvelope, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageEnvelope)
	AfterStep(ctx context.Context, stepName string, img *ImageEnvelope, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored image.
type StorageKey struct {
	Bucket string
	Path   string
}
