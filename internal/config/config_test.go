package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "analyzer:\n  model: models/yolov8n.pt\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Capture.OpenTimeout)
	assert.Equal(t, 5*time.Second, cfg.Capture.ReadTimeout)
	assert.Equal(t, 5.0, cfg.Processing.SampleFPS)
	assert.Equal(t, 0.25, cfg.Processing.Confidence)
	assert.Equal(t, int64(200<<20), cfg.Processing.MaxUploadBytes)
	assert.True(t, cfg.Processing.WriteVideo)
	assert.Equal(t, "file", cfg.History.Backend)
	assert.Equal(t, 500, cfg.History.Limit)
	assert.Equal(t, 1000, cfg.History.StreamLogLimit)
	assert.Equal(t, "none", cfg.Tracing.Exporter)
	assert.Equal(t, 0.25, cfg.Analyzer.Confidence)
	assert.Nil(t, cfg.MQTT.QoS, "no broker, no qos table")
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 30s
capture:
  open_timeout: 3s
processing:
  sample_fps: 10
  write_video: false
analyzer:
  model: m.pt
  call_timeout: 4s
history:
  backend: postgres
postgres:
  host: db
  database: counter
mqtt:
  broker: broker:1883
webrtc:
  ice_servers: ["stun:stun.l.google.com:19302"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 3*time.Second, cfg.Capture.OpenTimeout)
	assert.Equal(t, 10.0, cfg.Processing.SampleFPS)
	assert.False(t, cfg.Processing.WriteVideo)
	assert.Equal(t, 4*time.Second, cfg.Analyzer.CallTimeout)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, byte(1), cfg.MQTT.QoS["done"])
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COUNTER_ADDR", ":7000")
	t.Setenv("COUNTER_MODEL", "env.pt")
	t.Setenv("COUNTER_SAMPLE_FPS", "2.5")
	t.Setenv("COUNTER_OPEN_TIMEOUT", "1500ms")
	t.Setenv("COUNTER_WRITE_VIDEO", "false")
	t.Setenv("COUNTER_ALLOWED_ORIGINS", "http://a.example, http://b.example,")
	t.Setenv("COUNTER_POSTGRES_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "env.pt", cfg.Analyzer.Model)
	assert.Equal(t, 2.5, cfg.Processing.SampleFPS)
	assert.Equal(t, 1500*time.Millisecond, cfg.Capture.OpenTimeout)
	assert.False(t, cfg.Processing.WriteVideo)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5432, cfg.Postgres.Port, "unparsable values keep the default")
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing model":    "processing:\n  sample_fps: 5\n",
		"fps too high":     "analyzer: {model: m}\nprocessing: {sample_fps: 31}\n",
		"negative fps":     "analyzer: {model: m}\nprocessing: {sample_fps: -1}\n",
		"confidence":       "analyzer: {model: m}\nprocessing: {confidence: 1.5}\n",
		"history backend":  "analyzer: {model: m}\nhistory: {backend: sqlite}\n",
		"postgres missing": "analyzer: {model: m}\nhistory: {backend: postgres}\n",
		"tracing":          "analyzer: {model: m}\ntracing: {exporter: jaeger}\n",
		"qos":              "analyzer: {model: m}\nmqtt: {broker: b, qos: {done: 3}}\n",
		"bad yaml":         "analyzer: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COUNTER_TEST_DOTENV=from-file\n"), 0o644))
	t.Setenv("COUNTER_TEST_DOTENV", "")
	os.Unsetenv("COUNTER_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("COUNTER_TEST_DOTENV"))
}
