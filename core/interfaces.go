package core

import (
	"context"
	"io"
)

// Decoder converts raw bytes / a reader into an in-memory ImageEnvelope.
// Implementations live in adapters/decoder/.
type Decoder interface {
	// Decode reads from r and returns a decoded ImageEnvelope.
	Decode(ctx context.Context, r io.Reader) (*ImageEnvelope, error)
	// CanDecode reports whether this decoder handles the given format hint.
	CanDecode(format Format) bool
}

// Encoder serialises an ImageEnvelope to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageEnvelope, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters, filled from
// the UpscaleConfig pass-through hints.
type EncodeOptions struct {
	Quality     int // JPEG/WebP quality 1-100; 0 = use encoder default
	Compression int // PNG compression level 0-9; -1 = use encoder default
	Lossless    bool
}

// EncodeOptionsFor maps an UpscaleConfig onto encoder parameters.
func EncodeOptionsFor(cfg UpscaleConfig) EncodeOptions {
	return EncodeOptions{
		Quality:     cfg.JPEGQuality,
		Compression: cfg.PNGCompression,
	}
}

// StorageAdapter persists processed images and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordStage(stage string, d interface{ Seconds() float64 })
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}
