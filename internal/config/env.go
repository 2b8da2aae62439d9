package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides file values with COUNTER_* variables.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("COUNTER_ADDR", cfg.Server.Addr)
	cfg.Server.ShutdownTimeout = getEnvAsDuration("COUNTER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.AllowedOrigins = getEnvAsList("COUNTER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)

	cfg.Capture.OpenTimeout = getEnvAsDuration("COUNTER_OPEN_TIMEOUT", cfg.Capture.OpenTimeout)
	cfg.Capture.ReadTimeout = getEnvAsDuration("COUNTER_READ_TIMEOUT", cfg.Capture.ReadTimeout)

	p := &cfg.Processing
	p.SampleFPS = getEnvAsFloat("COUNTER_SAMPLE_FPS", p.SampleFPS)
	p.Confidence = getEnvAsFloat("COUNTER_CONFIDENCE", p.Confidence)
	p.MaxUploadBytes = getEnvAsInt64("COUNTER_MAX_UPLOAD_BYTES", p.MaxUploadBytes)
	p.TmpDir = getEnv("COUNTER_TMP_DIR", p.TmpDir)
	p.OutputDir = getEnv("COUNTER_OUTPUT_DIR", p.OutputDir)
	p.WriteVideo = getEnvAsBool("COUNTER_WRITE_VIDEO", p.WriteVideo)

	cfg.Analyzer.Command = getEnv("COUNTER_ANALYZER_COMMAND", cfg.Analyzer.Command)
	cfg.Analyzer.Model = getEnv("COUNTER_MODEL", cfg.Analyzer.Model)

	cfg.History.Backend = getEnv("COUNTER_HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.Path = getEnv("COUNTER_HISTORY_PATH", cfg.History.Path)
	cfg.History.StreamLogPath = getEnv("COUNTER_STREAM_LOG_PATH", cfg.History.StreamLogPath)

	pg := &cfg.Postgres
	pg.Host = getEnv("COUNTER_POSTGRES_HOST", pg.Host)
	pg.Port = getEnvAsInt("COUNTER_POSTGRES_PORT", pg.Port)
	pg.User = getEnv("COUNTER_POSTGRES_USER", pg.User)
	pg.Password = getEnv("COUNTER_POSTGRES_PASSWORD", pg.Password)
	pg.Database = getEnv("COUNTER_POSTGRES_DB", pg.Database)
	pg.Schema = getEnv("COUNTER_POSTGRES_SCHEMA", pg.Schema)

	cfg.MQTT.Broker = getEnv("COUNTER_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.AMQP.URL = getEnv("COUNTER_AMQP_URL", cfg.AMQP.URL)
	cfg.Redis.Addr = getEnv("COUNTER_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("COUNTER_REDIS_PASSWORD", cfg.Redis.Password)

	cfg.MinIO.Endpoint = getEnv("COUNTER_MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = getEnv("COUNTER_MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = getEnv("COUNTER_MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = getEnv("COUNTER_MINIO_BUCKET", cfg.MinIO.Bucket)

	cfg.Tracing.Exporter = getEnv("COUNTER_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = getEnv("COUNTER_TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.Resolver.Binary = getEnv("COUNTER_YTDLP", cfg.Resolver.Binary)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
