package config

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-people-counter/internal/history"
	"github.com/e7canasta/orion-people-counter/internal/storage"
)

const (
	historyFile     = "file"
	historyPostgres = "postgres"
)

// Validate fills defaults and checks cfg for consistency.
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	p := cfg.Processing
	if p.SampleFPS <= 0 || p.SampleFPS > p.MaxSampleFPS {
		return fmt.Errorf("processing.sample_fps must be in (0, %g], got %g", p.MaxSampleFPS, p.SampleFPS)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("processing.confidence must be in [0, 1], got %g", p.Confidence)
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		return fmt.Errorf("processing.jpeg_quality must be in [1, 100], got %d", p.JPEGQuality)
	}
	if p.MaxUploadBytes <= 0 {
		return fmt.Errorf("processing.max_upload_bytes must be > 0")
	}

	if cfg.Analyzer.Model == "" {
		return fmt.Errorf("analyzer.model is required")
	}

	switch cfg.History.Backend {
	case historyFile:
	case historyPostgres:
		if cfg.Postgres.Host == "" || cfg.Postgres.Database == "" {
			return fmt.Errorf("postgres.host and postgres.database are required for history.backend=postgres")
		}
	default:
		return fmt.Errorf("history.backend must be %q or %q, got %q", historyFile, historyPostgres, cfg.History.Backend)
	}

	switch cfg.Tracing.Exporter {
	case "none", "stdout", "otlphttp":
	default:
		return fmt.Errorf("tracing.exporter must be none, stdout or otlphttp, got %q", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in [0, 1]")
	}

	for typ, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos[%s] must be 0, 1 or 2", typ)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8000"
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = 5 * time.Minute
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = 15 * time.Second
	}
	// WriteTimeout stays 0: MJPEG and websocket responses are long-lived

	c := &cfg.Capture
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}

	p := &cfg.Processing
	if p.SampleFPS == 0 {
		p.SampleFPS = 5
	}
	if p.MaxSampleFPS <= 0 {
		p.MaxSampleFPS = 30
	}
	if p.Confidence == 0 {
		p.Confidence = 0.25
	}
	if p.JPEGQuality == 0 {
		p.JPEGQuality = 80
	}
	if p.MaxUploadBytes == 0 {
		p.MaxUploadBytes = storage.DefaultMaxUploadBytes
	}
	if p.TmpDir == "" {
		p.TmpDir = "data/tmp"
	}
	if p.OutputDir == "" {
		p.OutputDir = "outputs"
	}

	if cfg.Analyzer.Confidence == 0 {
		cfg.Analyzer.Confidence = p.Confidence
	}

	h := &cfg.History
	if h.Backend == "" {
		h.Backend = historyFile
	}
	if h.Path == "" {
		h.Path = "data/history.json"
	}
	if h.StreamLogPath == "" {
		h.StreamLogPath = "data/stream_log.json"
	}
	if h.Limit <= 0 {
		h.Limit = history.DefaultHistoryLimit
	}
	if h.StreamLogLimit <= 0 {
		h.StreamLogLimit = history.DefaultStreamLogLimit
	}

	pg := &cfg.Postgres
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.Schema == "" {
		pg.Schema = "public"
	}
	if pg.SSLMode == "" {
		pg.SSLMode = "disable"
	}

	if cfg.MQTT.Broker != "" && cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"frame":     0,
			"done":      1,
			"error":     1,
			"cancelled": 1,
		}
	}

	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "none"
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}
