// Package config loads the service configuration: a YAML file, an optional
// .env file and COUNTER_* environment overrides, then defaults and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-people-counter/internal/analyzer"
	"github.com/e7canasta/orion-people-counter/internal/db"
	"github.com/e7canasta/orion-people-counter/internal/emitter"
	"github.com/e7canasta/orion-people-counter/internal/observability"
	"github.com/e7canasta/orion-people-counter/internal/resolver"
	"github.com/e7canasta/orion-people-counter/internal/storage"
	"github.com/e7canasta/orion-people-counter/internal/webrtc"
)

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig                `yaml:"server"`
	Capture    CaptureConfig               `yaml:"capture"`
	Processing ProcessingConfig            `yaml:"processing"`
	Analyzer   analyzer.PythonConfig       `yaml:"analyzer"`
	History    HistoryConfig               `yaml:"history"`
	Postgres   db.Config                   `yaml:"postgres"`
	MQTT       emitter.MQTTConfig          `yaml:"mqtt"`
	AMQP       emitter.AMQPConfig          `yaml:"amqp"`
	Redis      emitter.RedisConfig         `yaml:"redis"`
	MinIO      storage.MinIOConfig         `yaml:"minio"`
	WebRTC     webrtc.Config               `yaml:"webrtc"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Resolver   resolver.Config             `yaml:"resolver"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CaptureConfig contains acquisition timeouts
type CaptureConfig struct {
	OpenTimeout time.Duration `yaml:"open_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ProcessingConfig contains job defaults and working directories
type ProcessingConfig struct {
	SampleFPS      float64 `yaml:"sample_fps"`
	MaxSampleFPS   float64 `yaml:"max_sample_fps"`
	Confidence     float64 `yaml:"confidence"`
	JPEGQuality    int     `yaml:"jpeg_quality"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
	TmpDir         string  `yaml:"tmp_dir"`
	OutputDir      string  `yaml:"output_dir"`
	// WriteVideo enables annotated video artifacts for file jobs
	WriteVideo bool `yaml:"write_video"`
}

// HistoryConfig selects the history backend
type HistoryConfig struct {
	// Backend is file or postgres
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	StreamLogPath  string `yaml:"stream_log_path"`
	Limit          int    `yaml:"limit"`
	StreamLogLimit int    `yaml:"stream_log_limit"`
}

// Load reads path (optional), applies environment overrides, defaults and
// validation.
func Load(path string) (*Config, error) {
	cfg := &Config{Processing: ProcessingConfig{WriteVideo: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. A missing
// file is not an error; existing variables are not overwritten.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
