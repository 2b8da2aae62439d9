package emitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

// RedisConfig configures the Redis sink. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// ChannelPrefix roots every pub/sub channel: {prefix}:{job_id}
	ChannelPrefix string `yaml:"channel_prefix"`
}

// RedisSink publishes job events with PUBLISH.
type RedisSink struct {
	client *redis.Client
	prefix string

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// NewRedisSink creates the client and checks the server with PING.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("emitter: redis addr is required")
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "people-counter:jobs"
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("emitter: redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisSink{client: client, prefix: cfg.ChannelPrefix, published: make(map[string]uint64)}, nil
}

// Channel returns the pub/sub channel of a job.
func (s *RedisSink) Channel(jobID string) string {
	return s.prefix + ":" + jobID
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, jobID string, ev framebus.Event) error {
	payload, err := Encode(jobID, ev)
	if err != nil {
		return fmt.Errorf("emitter: encode event: %w", err)
	}

	err = s.client.Publish(ctx, s.Channel(jobID), payload).Err()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return fmt.Errorf("emitter: redis publish: %w", err)
	}
	s.published[string(ev.Type)]++
	return nil
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Stats returns sink statistics.
func (s *RedisSink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return Stats{Connected: true, Published: published, Errors: s.errors}
}
