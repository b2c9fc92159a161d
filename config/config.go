package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `mapstructure:"worker_count"` // default: runtime.NumCPU()
	QueueSize   int           `mapstructure:"queue_size"`   // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration `mapstructure:"job_timeout"`

	// Retry.
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// Default upscale parameters applied when a job does not override them.
	Upscale UpscaleDefaults `mapstructure:"upscale"`

	// Streaming / memory limits.
	MaxImageBytes int64 `mapstructure:"max_image_bytes"` // 0 = no limit
	ChunkSize     int   `mapstructure:"chunk_size"`      // streaming chunk size in bytes; default 32 KiB

	// Storage.
	Storage StorageBackend `mapstructure:"storage"`
	Local   LocalConfig    `mapstructure:"local"`
	S3      S3Config       `mapstructure:"s3"`

	// Logging / metrics.
	LogLevel string `mapstructure:"log_level"` // "debug", "info", "warn", "error"
}

// UpscaleDefaults mirrors core.UpscaleConfig in plain config types; the
// facade converts it when building jobs.
type UpscaleDefaults struct {
	ScaleFactor       float64 `mapstructure:"scale_factor"`
	Profile           string  `mapstructure:"profile"`     // "fast", "balanced", "maximum"
	FormatHint        string  `mapstructure:"format_hint"` // "jpeg", "png", "webp", "tiff"
	EnablePostprocess bool    `mapstructure:"enable_postprocess"`
	JPEGQuality       int     `mapstructure:"jpeg_quality"`    // 1-100
	PNGCompression    int     `mapstructure:"png_compression"` // 0-9
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `mapstructure:"root_dir"`
	Permissions uint32 `mapstructure:"permissions"` // default 0644
}

// S3Config configures the AWS S3 storage adapter.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount: 0, // resolved at runtime to NumCPU
		QueueSize:   256,
		JobTimeout:  30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  200 * time.Millisecond,
		Upscale: UpscaleDefaults{
			ScaleFactor:       2,
			Profile:           "balanced",
			FormatHint:        "jpeg",
			EnablePostprocess: true,
			JPEGQuality:       98,
			PNGCompression:    1,
		},
		ChunkSize: 32 * 1024,
		Storage:   StorageLocal,
		LogLevel:  "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.WorkerCount < 0 {
		return errors.New("config: WorkerCount must not be negative")
	}
	if c.QueueSize <= 0 {
		return errors.New("config: QueueSize must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Upscale.ScaleFactor <= 0 {
		return errors.New("config: Upscale.ScaleFactor must be positive")
	}
	switch c.Upscale.Profile {
	case "fast", "balanced", "maximum", "max":
	default:
		return fmt.Errorf("config: unknown Upscale.Profile %q", c.Upscale.Profile)
	}
	if c.Upscale.JPEGQuality < 1 || c.Upscale.JPEGQuality > 100 {
		return errors.New("config: Upscale.JPEGQuality must be between 1 and 100")
	}
	if c.Upscale.PNGCompression < 0 || c.Upscale.PNGCompression > 9 {
		return errors.New("config: Upscale.PNGCompression must be between 0 and 9")
	}
	switch c.Storage {
	case StorageLocal, StorageS3:
	default:
		return fmt.Errorf("config: unknown Storage backend %q", c.Storage)
	}
	return nil
}

// Load reads configuration from an optional YAML file plus IMAGEUPSCALER_*
// environment overrides, on top of Default(). An empty path searches
// ./config.yaml and ./config/config.yaml; a missing file is not an error in
// that case. Explicit paths must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("IMAGEUPSCALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("worker_count", d.WorkerCount)
	v.SetDefault("queue_size", d.QueueSize)
	v.SetDefault("job_timeout", d.JobTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("upscale.scale_factor", d.Upscale.ScaleFactor)
	v.SetDefault("upscale.profile", d.Upscale.Profile)
	v.SetDefault("upscale.format_hint", d.Upscale.FormatHint)
	v.SetDefault("upscale.enable_postprocess", d.Upscale.EnablePostprocess)
	v.SetDefault("upscale.jpeg_quality", d.Upscale.JPEGQuality)
	v.SetDefault("upscale.png_compression", d.Upscale.PNGCompression)
	v.SetDefault("max_image_bytes", d.MaxImageBytes)
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("storage", string(d.Storage))
	v.SetDefault("log_level", d.LogLevel)
}
