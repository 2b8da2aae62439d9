package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/modules/framebus"
	"github.com/e7canasta/orion-people-counter/modules/framesupplier"
)

const (
	mjpegBoundary = "frame"

	wsBuffer       = 256
	wsWriteTimeout = 10 * time.Second
)

// lookupJob writes a 404 and returns nil when the path id is unknown.
func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) *job.Job {
	j, err := s.deps.Registry.Get(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return nil
	}
	return j
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	j := s.lookupJob(w, r)
	if j == nil {
		return
	}
	respondJSON(w, http.StatusOK, j.Snapshot())
}

// jobVideo serves the output artifact of a done job.
func (s *Server) jobVideo(w http.ResponseWriter, r *http.Request) {
	j := s.lookupJob(w, r)
	if j == nil {
		return
	}
	out, ok := j.Output()
	if !ok {
		respondError(w, http.StatusNotFound, "Processed video not available")
		return
	}

	f, err := os.Open(out.Path)
	if err != nil {
		slog.Warn("api: output artifact missing", "job_id", j.ID, "path", out.Path, "error", err)
		respondError(w, http.StatusNotFound, "Processed video not available")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read processed video")
		return
	}

	w.Header().Set("Content-Type", out.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	http.ServeContent(w, r, out.Filename, info.ModTime(), f)
}

// jobMJPEG streams the job's latest annotated frames as multipart JPEG
// until the job ends or the client goes away.
func (s *Server) jobMJPEG(w http.ResponseWriter, r *http.Request) {
	j := s.lookupJob(w, r)
	if j == nil {
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	rc.Flush()
	// Long-lived response: the server write timeout does not apply
	rc.SetWriteDeadline(time.Time{})

	var parts int
	err := framesupplier.Poll(r.Context(), j.LatestFrame(), framesupplier.DefaultPollInterval, func(f framesupplier.Frame) error {
		if err := writeMJPEGPart(w, f.Data); err != nil {
			return err
		}
		parts++
		return rc.Flush()
	})
	slog.Debug("api: mjpeg stream ended", "job_id", j.ID, "parts", parts, "error", err)
}

func writeMJPEGPart(w io.Writer, jpeg []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// jobWebSocket pushes the job's events to one websocket client: a status
// event first, then every event until the terminal one.
func (s *Server) jobWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("api: websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	j, err := s.deps.Registry.Get(id)
	if err != nil {
		writeWSEvent(conn, framebus.Event{Type: framebus.EventError, Message: "Job not found"})
		closeWS(conn)
		return
	}

	// Subscribe before the status event so nothing published in between is lost
	ch := make(chan framebus.Event, wsBuffer)
	subID := "ws:" + uuid.NewString()
	subErr := j.Bus().Subscribe(subID, ch)

	if err := writeWSEvent(conn, j.StatusEvent()); err != nil {
		if subErr == nil {
			j.Bus().Unsubscribe(subID)
		}
		return
	}
	if subErr != nil {
		// Already terminal: the status event was the whole stream
		closeWS(conn)
		return
	}

	// Reader: detects client disconnects
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if j.Bus().Unsubscribe(subID) == nil {
					slog.Debug("api: websocket client left", "job_id", j.ID, "subscriber", subID)
				}
				return
			}
		}
	}()

	for ev := range ch {
		if err := writeWSEvent(conn, ev); err != nil {
			j.Bus().Unsubscribe(subID)
			return
		}
	}
	closeWS(conn)
}

func writeWSEvent(conn *websocket.Conn, ev framebus.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}

func closeWS(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// jobWebRTC answers an SDP offer; the client then receives the job's events
// on any data channel it opens.
func (s *Server) jobWebRTC(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		respondError(w, http.StatusNotImplemented, "WebRTC is disabled")
		return
	}

	var offer SessionDescription
	if err := json.NewDecoder(io.LimitReader(r.Body, 256<<10)).Decode(&offer); err != nil || offer.SDP == "" {
		respondError(w, http.StatusUnprocessableEntity, "sdp offer is required")
		return
	}
	if offer.Type != "" && offer.Type != "offer" {
		respondError(w, http.StatusUnprocessableEntity, "type must be offer")
		return
	}

	answer, err := s.deps.WebRTC.Offer(r.Context(), r.PathValue("id"), offer.SDP)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Job not found")
	case err != nil:
		slog.Warn("api: webrtc negotiation failed", "job_id", r.PathValue("id"), "error", err)
		respondError(w, http.StatusBadRequest, "WebRTC negotiation failed")
	default:
		respondJSON(w, http.StatusOK, SessionDescription{SDP: answer, Type: "answer"})
	}
}
