package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/e7canasta/orion-people-counter/internal/history"
)

const (
	defaultStreamLogLimit = 200
	maxStreamLogLimit     = 1000

	xlsxMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	entries, err := s.deps.History.List(r.Context(), 0)
	if err != nil {
		slog.Error("api: list history failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// exportHistory renders the whole history as an xlsx workbook.
func (s *Server) exportHistory(w http.ResponseWriter, r *http.Request) {
	var entries []history.Entry
	if s.deps.History != nil {
		var err error
		if entries, err = s.deps.History.List(r.Context(), 0); err != nil {
			slog.Error("api: list history failed", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to read history")
			return
		}
	}

	// Buffer first so a failed export still gets a proper error response
	var buf bytes.Buffer
	if err := history.ExportXLSX(&buf, entries); err != nil {
		slog.Error("api: history export failed", "entries", len(entries), "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to export history")
		return
	}

	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", `attachment; filename="history.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) listStreamLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultStreamLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStreamLogLimit {
			respondError(w, http.StatusUnprocessableEntity, "limit must be an integer in [1, 1000]")
			return
		}
		limit = n
	}

	if s.deps.StreamLog == nil {
		respondJSON(w, http.StatusOK, []history.StreamEntry{})
		return
	}
	entries, err := s.deps.StreamLog.List(r.Context(), limit)
	if err != nil {
		slog.Error("api: list stream log failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to read stream log")
		return
	}
	if entries == nil {
		entries = []history.StreamEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}
