package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTConfig configures the MQTT sink. An empty Broker disables it.
type MQTTConfig struct {
	// Broker is host:port
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TopicPrefix roots every topic: {prefix}/jobs/{job_id}/{type}
	TopicPrefix string `yaml:"topic_prefix"`
	// QoS per event type; missing types use 0
	QoS map[string]byte `yaml:"qos"`
}

// MQTTSink publishes job events to an MQTT broker
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per event type
	errors    uint64
	connected bool
}

// NewMQTTSink validates cfg; call Connect before publishing.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("emitter: mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "people-counter"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "people-counter"
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	return &MQTTSink{cfg: cfg, published: make(map[string]uint64)}, nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Connect establishes the connection; later losses reconnect automatically.
func (s *MQTTSink) Connect(ctx context.Context) error {
	broker := s.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		s.setConnected(true)
		slog.Info("emitter: mqtt connection established", "broker", broker, "client_id", s.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	s.client = mqtt.NewClient(opts)
	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(mqttConnectTimeout):
		s.client.Disconnect(0)
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		s.client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	s.setConnected(true)
	return nil
}

// Topic returns the topic of an event type for a job.
func (s *MQTTSink) Topic(jobID string, typ framebus.EventType) string {
	return fmt.Sprintf("%s/jobs/%s/%s", s.cfg.TopicPrefix, jobID, typ)
}

func (s *MQTTSink) qos(typ framebus.EventType) byte {
	if q, ok := s.cfg.QoS[string(typ)]; ok && q <= 2 {
		return q
	}
	return 0
}

// Publish implements Sink.
func (s *MQTTSink) Publish(ctx context.Context, jobID string, ev framebus.Event) error {
	if !s.isConnected() {
		s.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	payload, err := Encode(jobID, ev)
	if err != nil {
		s.countError()
		return fmt.Errorf("emitter: encode event: %w", err)
	}

	topic := s.Topic(jobID, ev.Type)
	qos := s.qos(ev.Type)
	token := s.client.Publish(topic, qos, false, payload)

	select {
	case <-token.Done():
	case <-time.After(mqttPublishTimeout):
		s.countError()
		return fmt.Errorf("emitter: mqtt publish timeout")
	case <-ctx.Done():
		s.countError()
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("emitter: mqtt publish failed: %w", err)
	}

	s.mu.Lock()
	s.published[string(ev.Type)]++
	s.mu.Unlock()

	slog.Debug("emitter: event published", "sink", "mqtt", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// Close disconnects with a 250ms grace period.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	s.setConnected(false)
	return nil
}

// Stats returns sink statistics.
func (s *MQTTSink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{Connected: s.connected, Published: published, Errors: s.errors}
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}
