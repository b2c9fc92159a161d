package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryStage     Category = "stage"
	CategoryPipeline  Category = "pipeline"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryTransient Category = "transient"
	CategoryInput     Category = "input"
)

// InvalidInputError reports a malformed image or configuration rejected
// before any stage runs. It is never retryable.
type InvalidInputError struct {
	Op  string // validation site, e.g. "upscale.validate"
	Err error
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", CategoryInput, e.Op, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

// InvalidInput creates an InvalidInputError.
func InvalidInput(op string, err error) *InvalidInputError {
	return &InvalidInputError{Op: op, Err: err}
}

// IsInvalidInput reports whether err is an input-validation failure.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}

// ProcessingError is the structured error type used throughout the module.
// Stage is set when the failure occurred inside a named pipeline stage.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Stage     string // failed stage identifier, empty outside the upscale core
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: stage %s: %v", e.Category, e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Stage creates a ProcessingError for a failure inside the named stage.
func Stage(op, stage string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryStage, Op: op, Stage: stage, Err: err}
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// IsProcessing reports whether err is a stage or pipeline failure.
func IsProcessing(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}

// StageOf extracts the failed stage identifier, or "" if err carries none.
func StageOf(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrBufferMismatch     = errors.New("buffer length does not match dimensions")
	ErrInvalidChannels    = errors.New("channel count must be 1, 3 or 4")
	ErrInvalidScaleFactor = errors.New("scale factor must be a positive finite number")
	ErrImageTooLarge      = errors.New("target dimensions exceed limit")
	ErrEmptyInput         = errors.New("empty input")
	ErrContextCanceled    = errors.New("context canceled")
	ErrWorkerPoolFull     = errors.New("worker pool queue full")
	ErrProcessorStopped   = errors.New("processor stopped")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
