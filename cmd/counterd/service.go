package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/e7canasta/orion-people-counter/internal/analyzer"
	"github.com/e7canasta/orion-people-counter/internal/api"
	"github.com/e7canasta/orion-people-counter/internal/config"
	"github.com/e7canasta/orion-people-counter/internal/db"
	"github.com/e7canasta/orion-people-counter/internal/emitter"
	"github.com/e7canasta/orion-people-counter/internal/engine"
	"github.com/e7canasta/orion-people-counter/internal/history"
	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/observability"
	"github.com/e7canasta/orion-people-counter/internal/resolver"
	"github.com/e7canasta/orion-people-counter/internal/storage"
	"github.com/e7canasta/orion-people-counter/internal/webrtc"
	"github.com/e7canasta/orion-people-counter/internal/writer"
	streamcapture "github.com/e7canasta/orion-people-counter/modules/stream-capture"
)

// service owns every long-lived component and their shutdown order
type service struct {
	server   *http.Server
	engine   *engine.Engine
	fanout   *emitter.Fanout
	hub      *webrtc.Hub
	detector *analyzer.PythonDetector
	db       *sql.DB

	shutdownTracing func(context.Context) error
}

func newService(ctx context.Context, cfg *config.Config) (_ *service, err error) {
	svc := &service{}
	defer func() {
		// Release what was already started when a later step fails
		if err != nil {
			svc.Shutdown(context.Background())
		}
	}()

	svc.shutdownTracing, err = observability.InitTracing(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	metrics := observability.NewRegistry()

	local := storage.Local{TmpDir: cfg.Processing.TmpDir, OutputDir: cfg.Processing.OutputDir}
	if err := local.Ensure(); err != nil {
		return nil, err
	}

	store, streamLog, err := svc.historyBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc.detector, err = analyzer.NewPythonDetector(cfg.Analyzer)
	if err != nil {
		return nil, err
	}
	if err := svc.detector.Start(); err != nil {
		return nil, fmt.Errorf("failed to start analyzer: %w", err)
	}

	opener, err := streamcapture.NewGstOpener()
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Opener:    opener,
		Analyzer:  svc.detector,
		History:   store,
		StreamLog: streamLog,
		Metrics:   metrics,
	}
	if cfg.Processing.WriteVideo {
		w, err := writer.NewGstOpener()
		if err != nil {
			slog.Warn("video output disabled", "error", err)
		} else {
			deps.Writers = w
		}
	}
	if cfg.MinIO.Enabled() {
		up, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		deps.Uploader = up
		slog.Info("artifact uploads enabled", "endpoint", cfg.MinIO.Endpoint, "bucket", up.Bucket())
	}

	svc.engine, err = engine.New(engine.Config{
		Capture: streamcapture.Options{
			OpenTimeout: cfg.Capture.OpenTimeout,
			ReadTimeout: cfg.Capture.ReadTimeout,
		},
		OutputDir:   cfg.Processing.OutputDir,
		JPEGQuality: cfg.Processing.JPEGQuality,
	}, deps)
	if err != nil {
		return nil, err
	}

	svc.fanout = emitter.NewFanout(buildSinks(ctx, cfg), emitter.DefaultBuffer, metrics)

	registry := job.NewRegistry()
	svc.hub = webrtc.NewHub(cfg.WebRTC, registry)

	apiServer, err := api.NewServer(ctx, api.Config{
		TmpDir:         cfg.Processing.TmpDir,
		MaxUploadBytes: cfg.Processing.MaxUploadBytes,
		SampleFPS:      cfg.Processing.SampleFPS,
		MaxSampleFPS:   cfg.Processing.MaxSampleFPS,
		Confidence:     cfg.Processing.Confidence,
		JPEGQuality:    cfg.Processing.JPEGQuality,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, api.Deps{
		Registry:  registry,
		Engine:    svc.engine,
		Analyzer:  svc.detector,
		History:   store,
		StreamLog: streamLog,
		Resolver:  resolver.NewYTDLP(cfg.Resolver),
		Fanout:    svc.fanout,
		WebRTC:    svc.hub,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, err
	}

	svc.server = api.NewHTTPServer(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, apiServer.Routes())
	return svc, nil
}

func (svc *service) historyBackend(ctx context.Context, cfg *config.Config) (history.Store, history.StreamLog, error) {
	if cfg.History.Backend != "postgres" {
		return history.NewFileStore(cfg.History.Path, cfg.History.Limit),
			history.NewFileStreamLog(cfg.History.StreamLogPath, cfg.History.StreamLogLimit), nil
	}

	conn, err := db.ConnectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	svc.db = conn
	return history.NewPostgresStore(conn), history.NewPostgresStreamLog(conn), nil
}

// buildSinks connects the configured brokers. An unreachable broker is
// logged and skipped; MQTT keeps reconnecting in the background.
func buildSinks(ctx context.Context, cfg *config.Config) []emitter.Sink {
	var sinks []emitter.Sink

	if cfg.MQTT.Broker != "" {
		s, err := emitter.NewMQTTSink(cfg.MQTT)
		if err != nil {
			slog.Warn("mqtt sink disabled", "error", err)
		} else {
			if err := s.Connect(ctx); err != nil {
				slog.Warn("mqtt broker unreachable, retrying in background", "broker", cfg.MQTT.Broker, "error", err)
			}
			sinks = append(sinks, s)
		}
	}
	if cfg.AMQP.URL != "" {
		s, err := emitter.NewAMQPSink(cfg.AMQP)
		if err != nil {
			slog.Warn("amqp sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.Redis.Addr != "" {
		s, err := emitter.NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis sink disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	slog.Info("event sinks configured", "sinks", names)
	return sinks
}

// Shutdown expects the root context to be cancelled already: running jobs
// end as cancelled, then transports and backends are released in order.
func (svc *service) Shutdown(ctx context.Context) error {
	var errs []error

	if svc.engine != nil {
		done := make(chan struct{})
		go func() {
			svc.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
			slog.Info("all job workers stopped")
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("job workers still running: %w", ctx.Err()))
		}
	}

	if svc.server != nil {
		if err := svc.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if svc.hub != nil {
		svc.hub.Close()
	}
	if svc.fanout != nil {
		if err := svc.fanout.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if svc.detector != nil {
		if err := svc.detector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("analyzer close: %w", err))
		}
	}
	if svc.db != nil {
		if err := svc.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if svc.shutdownTracing != nil {
		if err := svc.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}
