package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

// AMQPConfig configures the AMQP sink. An empty URL disables it.
type AMQPConfig struct {
	URL string `yaml:"url"`
	// Exchange is a durable topic exchange, declared on connect
	Exchange string `yaml:"exchange"`
}

// AMQPSink publishes job events to a topic exchange with routing key
// job.{job_id}.{type}.
type AMQPSink struct {
	exchange string
	conn     *amqp.Connection

	mu        sync.Mutex
	channel   *amqp.Channel
	published map[string]uint64
	errors    uint64
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("emitter: amqp url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "people-counter.events"
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("emitter: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("emitter: amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("emitter: declare exchange %s: %w", cfg.Exchange, err)
	}

	slog.Info("emitter: amqp connected", "exchange", cfg.Exchange)
	return &AMQPSink{
		exchange:  cfg.Exchange,
		conn:      conn,
		channel:   ch,
		published: make(map[string]uint64),
	}, nil
}

// RoutingKey returns the routing key of an event.
func RoutingKey(jobID string, typ framebus.EventType) string {
	return fmt.Sprintf("job.%s.%s", jobID, typ)
}

// Name implements Sink.
func (s *AMQPSink) Name() string { return "amqp" }

// Publish implements Sink.
func (s *AMQPSink) Publish(ctx context.Context, jobID string, ev framebus.Event) error {
	body, err := Encode(jobID, ev)
	if err != nil {
		return fmt.Errorf("emitter: encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil || s.channel.IsClosed() {
		s.errors++
		return fmt.Errorf("emitter: amqp channel closed")
	}

	err = s.channel.PublishWithContext(ctx,
		s.exchange,
		RoutingKey(jobID, ev.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         string(ev.Type),
			Body:         body,
		})
	if err != nil {
		s.errors++
		return fmt.Errorf("emitter: amqp publish: %w", err)
	}
	s.published[string(ev.Type)]++
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}

// Stats returns sink statistics.
func (s *AMQPSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{
		Connected: s.conn != nil && !s.conn.IsClosed(),
		Published: published,
		Errors:    s.errors,
	}
}
