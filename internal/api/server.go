// Package api is the HTTP surface of the service: job submission, status,
// pull and push subscriptions, history and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-people-counter/internal/analyzer"
	"github.com/e7canasta/orion-people-counter/internal/emitter"
	"github.com/e7canasta/orion-people-counter/internal/engine"
	"github.com/e7canasta/orion-people-counter/internal/history"
	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/observability"
	"github.com/e7canasta/orion-people-counter/internal/resolver"
	"github.com/e7canasta/orion-people-counter/internal/storage"
)

// Config holds request defaults and limits
type Config struct {
	TmpDir         string
	MaxUploadBytes int64
	SampleFPS      float64
	MaxSampleFPS   float64
	Confidence     float64
	JPEGQuality    int
	// AllowedOrigins for CORS and websocket upgrades; empty allows any
	AllowedOrigins []string
}

// Submitter starts job workers
type Submitter interface {
	Submit(ctx context.Context, req engine.Request)
}

// Attacher subscribes external sinks to a new job
type Attacher interface {
	Attach(j *job.Job)
	Stats() map[string]emitter.Stats
}

// Negotiator answers WebRTC offers for a job
type Negotiator interface {
	Offer(ctx context.Context, jobID, offerSDP string) (string, error)
	Sessions() int
}

// Deps are the collaborators of the handlers. Registry, Engine and Analyzer
// are required.
type Deps struct {
	Registry  *job.Registry
	Engine    Submitter
	Analyzer  analyzer.Analyzer
	History   history.Store
	StreamLog history.StreamLog
	Resolver  resolver.Resolver
	Fanout    Attacher
	WebRTC    Negotiator
	Metrics   *observability.Registry
}

// Server routes requests to handlers
type Server struct {
	cfg     Config
	deps    Deps
	baseCtx context.Context
	started time.Time

	upgrader websocket.Upgrader
}

// NewServer validates deps. baseCtx is the process root context: jobs
// outlive the request that created them and stop only when it is cancelled.
func NewServer(baseCtx context.Context, cfg Config, deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.Engine == nil || deps.Analyzer == nil {
		return nil, fmt.Errorf("api: registry, engine and analyzer are required")
	}
	if cfg.TmpDir == "" {
		return nil, fmt.Errorf("api: tmp dir is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = storage.DefaultMaxUploadBytes
	}
	if cfg.SampleFPS <= 0 {
		cfg.SampleFPS = 5
	}
	if cfg.MaxSampleFPS <= 0 {
		cfg.MaxSampleFPS = 30
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = engine.DefaultConfidence
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = engine.DefaultJPEGQuality
	}

	s := &Server{cfg: cfg, deps: deps, baseCtx: baseCtx, started: time.Now()}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}
	return s, nil
}

// Routes returns the handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/process/image", s.processImage)
	mux.HandleFunc("POST /api/process/video", s.processVideo)
	mux.HandleFunc("POST /api/process/stream", s.processStream)

	mux.HandleFunc("GET /api/job/{id}", s.jobStatus)
	mux.HandleFunc("GET /api/job/{id}/video", s.jobVideo)
	mux.HandleFunc("GET /api/job/{id}/mjpeg", s.jobMJPEG)
	mux.HandleFunc("POST /api/job/{id}/webrtc", s.jobWebRTC)
	mux.HandleFunc("GET /ws/job/{id}", s.jobWebSocket)

	mux.HandleFunc("GET /api/history", s.listHistory)
	mux.HandleFunc("GET /api/history/excel", s.exportHistory)
	mux.HandleFunc("GET /api/stream-log", s.listStreamLog)

	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /api/metrics", s.metrics)

	var h http.Handler = mux
	h = LoggingMiddleware(h)
	h = RecoveryMiddleware(h)
	h = CORSMiddleware(s.cfg.AllowedOrigins)(h)
	return h
}

// NewHTTPServer wraps handler with the configured timeouts.
func NewHTTPServer(addr string, readTimeout, writeTimeout time.Duration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
