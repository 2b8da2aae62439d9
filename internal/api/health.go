package api

import (
	"net/http"
	"time"

	"github.com/e7canasta/orion-people-counter/internal/analyzer"
	"github.com/e7canasta/orion-people-counter/internal/emitter"
	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/observability"
)

// HealthStatus represents the health state of the service
type HealthStatus struct {
	Status         string                   `json:"status"` // "healthy", "degraded"
	UptimeSeconds  int64                    `json:"uptime_seconds"`
	JobsTotal      int                      `json:"jobs_total"`
	JobsProcessing int                      `json:"jobs_processing"`
	Jobs           map[job.Status]int       `json:"jobs"`
	Sinks          map[string]emitter.Stats `json:"sinks,omitempty"`
	WebRTCSessions int                      `json:"webrtc_sessions"`
	Analyzer       *analyzer.Metrics        `json:"analyzer,omitempty"`
}

type analyzerMetrics interface {
	Metrics() analyzer.Metrics
}

// HealthCheck returns the current health status of the service
func (s *Server) HealthCheck() HealthStatus {
	byStatus := s.deps.Registry.CountByStatus()

	status := HealthStatus{
		Status:         "healthy",
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		JobsTotal:      s.deps.Registry.Len(),
		JobsProcessing: byStatus[job.StatusProcessing],
		Jobs:           byStatus,
	}

	if s.deps.Fanout != nil {
		status.Sinks = s.deps.Fanout.Stats()
		for _, st := range status.Sinks {
			if !st.Connected {
				status.Status = "degraded"
			}
		}
	}
	if s.deps.WebRTC != nil {
		status.WebRTCSessions = s.deps.WebRTC.Sessions()
	}
	if am, ok := s.deps.Analyzer.(analyzerMetrics); ok {
		m := am.Metrics()
		status.Analyzer = &m
	}

	return status
}

// health always answers 200 while the process serves requests; a degraded
// status only reports an unreachable external sink.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.HealthCheck())
}

// metrics renders the registry in Prometheus text format.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	byStatus := s.deps.Registry.CountByStatus()
	for _, st := range []job.Status{job.StatusProcessing, job.StatusDone, job.StatusError, job.StatusCancelled} {
		s.deps.Metrics.SetGauge(observability.Jobs, map[string]string{"status": string(st)}, float64(byStatus[st]))
	}
	if s.deps.WebRTC != nil {
		s.deps.Metrics.SetGauge(observability.WebRTCSessions, nil, float64(s.deps.WebRTC.Sessions()))
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.deps.Metrics.RenderPrometheus()))
}
