// Package config provides configuration management for kupu.
//
// Configuration is loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables (KUPU_* prefix, e.g. KUPU_SERVER_PORT)
//  3. Configuration file (kupu.yaml)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ngupuk/kupu/internal/checkpoint"
	"github.com/ngupuk/kupu/internal/codec"
	"github.com/ngupuk/kupu/internal/model"
)

// Response profiles for POST /inpaint.
const (
	// ProfileDataURL returns the JPEG data URL as a bare JSON string.
	ProfileDataURL = "dataurl"
	// ProfileResult returns {"result": <PNG data URL>, "time_taken": <seconds>}.
	ProfileResult = "result"
)

// Config holds all configuration for kupu
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Production serves the static dashboard from StaticDir at /
	Production bool   `mapstructure:"production"`
	StaticDir  string `mapstructure:"static_dir"`

	CORSOrigins     []string `mapstructure:"cors_origins"`
	ResponseProfile string   `mapstructure:"response_profile"`
	MaxBodyBytes    int64    `mapstructure:"max_body_bytes"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequireModel makes startup fail when the model cannot be loaded.
	// Otherwise the server starts and /inpaint answers 503.
	RequireModel bool `mapstructure:"require_model"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig configures the inference session
type ModelConfig struct {
	Path           string `mapstructure:"path"`
	MetadataPath   string `mapstructure:"metadata_path"`
	LibraryPath    string `mapstructure:"library_path"`
	Device         string `mapstructure:"device"`
	DeviceID       int    `mapstructure:"device_id"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

// PipelineConfig configures pre/post-processing and admission
type PipelineConfig struct {
	PadModulo     int           `mapstructure:"pad_modulo"`
	Square        bool          `mapstructure:"square"`
	MinSize       int           `mapstructure:"min_size"`
	MaxConcurrent int64         `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	MaxImageSize  int           `mapstructure:"max_image_size"`
	JPEGQuality   int           `mapstructure:"jpeg_quality"`
	// MaxInputPixels rejects uploads whose header declares a larger canvas
	MaxInputPixels int64 `mapstructure:"max_input_pixels"`
}

// CheckpointConfig configures where the checkpoint is fetched from
type CheckpointConfig struct {
	Source    string              `mapstructure:"source"`
	HubURL    string              `mapstructure:"hub_url"`
	Token     string              `mapstructure:"token"`
	Timeout   time.Duration       `mapstructure:"timeout"`
	AutoFetch bool                `mapstructure:"auto_fetch"`
	S3        checkpoint.S3Config `mapstructure:"s3"`
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Options are command line overrides
type Options struct {
	Host       string
	Port       int
	Production bool
	Debug      bool
	Device     string
	ModelPath  string
}

// Load loads configuration from file and applies command line options
func Load(configPath string, opts Options) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("kupu")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kupu")
		v.AddConfigPath("$HOME/.kupu")

		// Ignore error if config file not found
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("KUPU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Host != "" {
		v.Set("server.host", opts.Host)
	}
	if opts.Port != 0 {
		v.Set("server.port", opts.Port)
	}
	if opts.Production {
		v.Set("server.production", true)
	}
	if opts.Debug {
		v.Set("log.level", "debug")
	}
	if opts.Device != "" {
		v.Set("model.device", opts.Device)
	}
	if opts.ModelPath != "" {
		v.Set("model.path", opts.ModelPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8003)
	v.SetDefault("server.production", false)
	v.SetDefault("server.static_dir", "./static")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.response_profile", ProfileDataURL)
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.require_model", false)

	// Model
	v.SetDefault("model.path", "./models/big-lama.onnx")
	v.SetDefault("model.metadata_path", "./models/big-lama.json")
	v.SetDefault("model.library_path", "")
	v.SetDefault("model.device", "")
	v.SetDefault("model.device_id", 0)
	v.SetDefault("model.intra_op_threads", 0)

	// Pipeline
	v.SetDefault("pipeline.pad_modulo", 8)
	v.SetDefault("pipeline.square", false)
	v.SetDefault("pipeline.min_size", 0)
	v.SetDefault("pipeline.max_concurrent", 1)
	v.SetDefault("pipeline.queue_timeout", time.Duration(0))
	v.SetDefault("pipeline.max_image_size", 0)
	v.SetDefault("pipeline.jpeg_quality", 95)
	v.SetDefault("pipeline.max_input_pixels", codec.DefaultMaxPixels)

	// Checkpoint
	v.SetDefault("checkpoint.source", checkpoint.DefaultSource)
	v.SetDefault("checkpoint.hub_url", checkpoint.DefaultHubURL)
	v.SetDefault("checkpoint.token", "")
	v.SetDefault("checkpoint.timeout", 30*time.Minute)
	v.SetDefault("checkpoint.auto_fetch", true)
	v.SetDefault("checkpoint.s3.endpoint", "")
	v.SetDefault("checkpoint.s3.access_key", "")
	v.SetDefault("checkpoint.s3.secret_key", "")
	v.SetDefault("checkpoint.s3.region", "")
	v.SetDefault("checkpoint.s3.use_ssl", true)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	switch c.Server.ResponseProfile {
	case ProfileDataURL, ProfileResult:
	default:
		return fmt.Errorf("invalid response profile %q, must be %q or %q",
			c.Server.ResponseProfile, ProfileDataURL, ProfileResult)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	if _, err := model.ParseDevice(c.Model.Device); err != nil {
		return err
	}

	if c.Pipeline.PadModulo < 1 {
		return fmt.Errorf("pipeline.pad_modulo must be at least 1, got %d", c.Pipeline.PadModulo)
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent must be at least 1, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.MaxImageSize < 0 || c.Pipeline.MinSize < 0 || c.Pipeline.MaxInputPixels < 0 {
		return fmt.Errorf("pipeline sizes must not be negative")
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be in [1,100], got %d", c.Pipeline.JPEGQuality)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be console or json", c.Log.Format)
	}

	return nil
}
