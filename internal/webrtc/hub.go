// Package webrtc serves job events to browsers over WebRTC data channels.
//
// The client creates a data channel, sends its offer to Hub.Offer and gets a
// complete (non-trickle) answer back. Once the channel opens it receives a
// status event followed by the job's push events as JSON text messages, and
// the channel is closed after the terminal event.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/modules/framebus"
)

const (
	defaultGatherTimeout = 5 * time.Second
	sessionBuffer        = 32
)

// Config configures the hub
type Config struct {
	// ICEServers are STUN/TURN URLs; empty means host candidates only
	ICEServers []string `yaml:"ice_servers"`
	// GatherTimeout bounds ICE gathering per offer
	GatherTimeout time.Duration `yaml:"gather_timeout"`
	// IncludeLoopback adds loopback candidates (single-host setups)
	IncludeLoopback bool `yaml:"include_loopback"`
}

// JobLookup finds a job by id; it returns job.ErrJobNotFound for unknown ids.
type JobLookup interface {
	Get(id string) (*job.Job, error)
}

// Hub owns the peer connections of all WebRTC subscribers.
type Hub struct {
	api    *webrtc.API
	config webrtc.Configuration
	jobs   JobLookup
	gather time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id  string
	job *job.Job
	pc  *webrtc.PeerConnection

	once sync.Once
}

// NewHub creates a hub serving the jobs found through jobs.
func NewHub(cfg Config, jobs JobLookup) *Hub {
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	gather := cfg.GatherTimeout
	if gather <= 0 {
		gather = defaultGatherTimeout
	}

	return &Hub{
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config:   config,
		jobs:     jobs,
		gather:   gather,
		sessions: make(map[string]*session),
	}
}

// Offer answers a client offer for jobID. The returned SDP already contains
// every gathered candidate.
func (h *Hub) Offer(ctx context.Context, jobID, offerSDP string) (string, error) {
	j, err := h.jobs.Get(jobID)
	if err != nil {
		return "", err
	}

	pc, err := h.api.NewPeerConnection(h.config)
	if err != nil {
		return "", fmt.Errorf("webrtc: create peer connection: %w", err)
	}

	s := &session{id: uuid.NewString(), job: j, pc: pc}
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		slog.Debug("webrtc: connection state changed", "session", s.id, "job_id", j.ID, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			h.closeSession(s)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { h.stream(s, dc) })
	})

	answer, err := h.negotiate(ctx, pc, offerSDP)
	if err != nil {
		h.closeSession(s)
		return "", err
	}

	slog.Info("webrtc: session opened", "session", s.id, "job_id", j.ID)
	return answer, nil
}

func (h *Hub) negotiate(ctx context.Context, pc *webrtc.PeerConnection, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("webrtc: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("webrtc: create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("webrtc: set local description: %w", err)
	}

	timer := time.NewTimer(h.gather)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		return "", fmt.Errorf("webrtc: ice gathering timed out after %s", h.gather)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return pc.LocalDescription().SDP, nil
}

// stream runs on the data channel's open callback: status first, then every
// bus event until the terminal one.
func (h *Hub) stream(s *session, dc *webrtc.DataChannel) {
	j := s.job
	if err := sendEvent(dc, j.StatusEvent()); err != nil {
		h.closeSession(s)
		return
	}

	ch := make(chan framebus.Event, sessionBuffer)
	subID := "webrtc:" + s.id + ":" + dc.Label()
	if err := j.Bus().Subscribe(subID, ch); err != nil {
		// Already terminal: the status event was the whole stream
		dc.Close()
		return
	}

	go func() {
		for ev := range ch {
			if err := sendEvent(dc, ev); err != nil {
				slog.Debug("webrtc: send failed, unsubscribing", "session", s.id, "job_id", j.ID, "error", err)
				j.Bus().Unsubscribe(subID)
				return
			}
		}
		dc.Close()
	}()

	dc.OnClose(func() {
		if err := j.Bus().Unsubscribe(subID); err == nil {
			slog.Debug("webrtc: data channel closed by peer", "session", s.id, "job_id", j.ID)
		}
	})
}

func sendEvent(dc *webrtc.DataChannel, ev framebus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return dc.SendText(string(data))
}

func (h *Hub) closeSession(s *session) {
	s.once.Do(func() {
		h.mu.Lock()
		delete(h.sessions, s.id)
		h.mu.Unlock()

		if err := s.pc.Close(); err != nil {
			slog.Debug("webrtc: close peer connection", "session", s.id, "error", err)
		}
		slog.Info("webrtc: session closed", "session", s.id, "job_id", s.job.ID)
	})
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close closes every session.
func (h *Hub) Close() error {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.closeSession(s)
	}
	return nil
}
