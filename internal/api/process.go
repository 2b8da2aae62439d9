package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/e7canasta/orion-people-counter/internal/analyzer"
	"github.com/e7canasta/orion-people-counter/internal/engine"
	"github.com/e7canasta/orion-people-counter/internal/history"
	"github.com/e7canasta/orion-people-counter/internal/job"
	"github.com/e7canasta/orion-people-counter/internal/storage"
	streamcapture "github.com/e7canasta/orion-people-counter/modules/stream-capture"
)

const (
	// multipart framing on top of the file itself
	formOverhead = 1 << 20
	maxFieldSize = 1 << 10

	resolveFailedMessage = "Failed to resolve YouTube stream URL. Provide a direct stream URL (RTSP/MJPEG/HLS) instead."
)

var errValidation = errors.New("validation failed")

// JobAccepted is the reply of an asynchronous submission
type JobAccepted struct {
	JobID    string `json:"job_id"`
	MJPEGURL string `json:"mjpeg_url,omitempty"`
}

// StreamRequest is the body of POST /api/process/stream
type StreamRequest struct {
	URL        string   `json:"url"`
	FPS        *float64 `json:"fps"`
	MaxSeconds *int     `json:"max_seconds"`
	Confidence *float64 `json:"conf"`
}

// jobParams are the tunables shared by file and stream jobs
type jobParams struct {
	fps        float64
	maxSeconds int
	conf       float64
}

func (s *Server) defaultParams() jobParams {
	return jobParams{fps: s.cfg.SampleFPS, conf: s.cfg.Confidence}
}

func (s *Server) validateParams(p jobParams) error {
	if p.fps <= 0 || p.fps > s.cfg.MaxSampleFPS {
		return fmt.Errorf("%w: fps must be in (0, %g]", errValidation, s.cfg.MaxSampleFPS)
	}
	if p.maxSeconds < 0 {
		return fmt.Errorf("%w: max_seconds must be >= 0", errValidation)
	}
	if p.conf < 0 || p.conf > 1 {
		return fmt.Errorf("%w: conf must be in [0, 1]", errValidation)
	}
	return nil
}

// lookupParam returns the query value of name, falling back to a form field.
func lookupParam(r *http.Request, form url.Values, name string) (string, bool) {
	if v := r.URL.Query().Get(name); v != "" {
		return v, true
	}
	if v := form.Get(name); v != "" {
		return v, true
	}
	return "", false
}

func parseParams(r *http.Request, form url.Values, p jobParams) (jobParams, error) {
	if v, ok := lookupParam(r, form, "fps"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("%w: fps: %v", errValidation, err)
		}
		p.fps = f
	}
	if v, ok := lookupParam(r, form, "max_seconds"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("%w: max_seconds: %v", errValidation, err)
		}
		p.maxSeconds = n
	}
	if v, ok := lookupParam(r, form, "conf"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("%w: conf: %v", errValidation, err)
		}
		p.conf = f
	}
	return p, nil
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.Is(err, storage.ErrUploadTooLarge) || errors.As(err, &mbe)
}

// processImage counts people in a single uploaded image synchronously.
func (s *Server) processImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if isTooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := formFile(r, "image", "file")
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "image file is required")
		return
	}
	defer file.Close()
	if header.Size > s.cfg.MaxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "Image too large")
		return
	}

	params, err := parseParams(r, r.MultipartForm.Value, s.defaultParams())
	if err == nil {
		err = s.validateParams(params)
	}
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	res, err := analyzer.AnalyzeImage(r.Context(), s.deps.Analyzer, file, params.conf, s.cfg.JPEGQuality)
	if err != nil {
		if errors.Is(err, analyzer.ErrInvalidImage) {
			respondError(w, http.StatusBadRequest, "Invalid image")
			return
		}
		slog.Error("api: image analysis failed", "filename", header.Filename, "error", err)
		respondError(w, http.StatusInternalServerError, "Image analysis failed")
		return
	}

	if s.deps.History != nil {
		name := header.Filename
		if name == "" {
			name = "image"
		}
		entry := history.Entry{Type: string(job.KindImage), Filename: name, PeopleCount: res.Count}
		if err := s.deps.History.Record(r.Context(), entry); err != nil {
			slog.Warn("api: history record failed", "filename", name, "error", err)
		}
	}

	respondJSON(w, http.StatusOK, res)
}

func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, name := range names {
		f, h, err := r.FormFile(name)
		if err == nil {
			return f, h, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// processVideo streams the upload to a temp file and starts a file job.
// No job exists until the upload is fully stored.
func (s *Server) processVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+formOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	var (
		tmpPath  string
		filename string
		form     = url.Values{}
	)
	discard := func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			discard()
			if isTooLarge(err) {
				respondError(w, http.StatusRequestEntityTooLarge, storage.ErrUploadTooLarge.Error())
				return
			}
			respondError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}

		name := part.FormName()
		switch {
		case (name == "video" || name == "file") && part.FileName() != "" && tmpPath == "":
			filename = part.FileName()
			tmpPath, err = storage.SaveUpload(s.cfg.TmpDir, filename, part, s.cfg.MaxUploadBytes)
			if err != nil {
				part.Close()
				if isTooLarge(err) {
					respondError(w, http.StatusRequestEntityTooLarge, storage.ErrUploadTooLarge.Error())
					return
				}
				slog.Error("api: save upload failed", "filename", filename, "error", err)
				respondError(w, http.StatusInternalServerError, "Failed to store upload")
				return
			}
		case part.FileName() == "":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
			if err == nil {
				form.Set(name, string(value))
			}
		}
		part.Close()
	}

	if tmpPath == "" {
		respondError(w, http.StatusUnprocessableEntity, "video file is required")
		return
	}

	params, err := parseParams(r, form, s.defaultParams())
	if err == nil {
		err = s.validateParams(params)
	}
	if err != nil {
		discard()
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	j := s.deps.Registry.Create(job.Source{Kind: job.KindVideo, Name: filename})
	s.start(engine.Request{
		Job:         j,
		Source:      streamcapture.Source{URI: tmpPath},
		TempInput:   tmpPath,
		SampleFPS:   params.fps,
		MaxDuration: time.Duration(params.maxSeconds) * time.Second,
		Confidence:  params.conf,
	})

	slog.Info("api: video job accepted", "job_id", j.ID, "filename", filename, "fps", params.fps, "max_seconds", params.maxSeconds)
	respondJSON(w, http.StatusOK, JobAccepted{JobID: j.ID})
}

// processStream starts a live job for a network source, resolving
// video-page URLs to a direct media URL first.
func (s *Server) processStream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		respondError(w, http.StatusUnprocessableEntity, "url must be an absolute URL")
		return
	}

	params := s.defaultParams()
	if req.FPS != nil {
		params.fps = *req.FPS
	}
	if req.MaxSeconds != nil {
		params.maxSeconds = *req.MaxSeconds
	}
	if req.Confidence != nil {
		params.conf = *req.Confidence
	}
	if err := s.validateParams(params); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	streamURL := req.URL
	if s.deps.Resolver != nil {
		resolved, err := s.deps.Resolver.Resolve(r.Context(), req.URL)
		if err != nil || resolved == "" {
			slog.Warn("api: stream url resolution failed", "url", req.URL, "error", err)
			respondError(w, http.StatusBadRequest, resolveFailedMessage)
			return
		}
		streamURL = resolved
	}

	j := s.deps.Registry.Create(job.Source{Kind: job.KindStream, Name: req.URL})
	s.start(engine.Request{
		Job:         j,
		Source:      streamcapture.Source{URI: streamURL, Live: true},
		OriginalURL: req.URL,
		SampleFPS:   params.fps,
		MaxDuration: time.Duration(params.maxSeconds) * time.Second,
		Confidence:  params.conf,
	})

	slog.Info("api: stream job accepted", "job_id", j.ID, "url", req.URL, "resolved", streamURL != req.URL)
	respondJSON(w, http.StatusOK, JobAccepted{JobID: j.ID, MJPEGURL: job.MJPEGURL(j.ID)})
}

// start attaches the external sinks before the worker can publish anything.
func (s *Server) start(req engine.Request) {
	if s.deps.Fanout != nil {
		s.deps.Fanout.Attach(req.Job)
	}
	s.deps.Engine.Submit(s.baseCtx, req)
}
