package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// jsonLog is a bounded, append-only JSON array file.
//
// Reads of a missing or corrupt file yield an empty log; writes replace the
// file atomically through a temp file + rename.
type jsonLog[T any] struct {
	mu    sync.Mutex
	path  string
	limit int
}

func (l *jsonLog[T]) read() []T {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("history: read failed, starting empty", "path", l.path, "error", err)
		}
		return nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("history: corrupt log, starting empty", "path", l.path, "error", err)
		return nil
	}
	return items
}

func (l *jsonLog[T]) write(items []T) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("history: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("history: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("history: replace log: %w", err)
	}
	return nil
}

func (l *jsonLog[T]) append(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := append(l.read(), item)
	return l.write(tail(items, l.limit))
}

func (l *jsonLog[T]) list(limit int) []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := tail(l.read(), limit)
	if items == nil {
		items = []T{}
	}
	return items
}

// FileStore keeps history entries in a JSON file
type FileStore struct {
	log jsonLog[Entry]
}

// NewFileStore creates a store at path keeping at most limit entries.
func NewFileStore(path string, limit int) *FileStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &FileStore{log: jsonLog[Entry]{path: path, limit: limit}}
}

// Record appends e, stamping it with the current time when unset.
func (s *FileStore) Record(_ context.Context, e Entry) error {
	if e.Timestamp == "" {
		e.Timestamp = now()
	}
	return s.log.append(e)
}

func (s *FileStore) List(_ context.Context, limit int) ([]Entry, error) {
	return s.log.list(limit), nil
}

// FileStreamLog keeps stream entries in a JSON file
type FileStreamLog struct {
	log jsonLog[StreamEntry]
}

// NewFileStreamLog creates a stream log at path keeping at most limit entries.
func NewFileStreamLog(path string, limit int) *FileStreamLog {
	if limit <= 0 {
		limit = DefaultStreamLogLimit
	}
	return &FileStreamLog{log: jsonLog[StreamEntry]{path: path, limit: limit}}
}

func (s *FileStreamLog) Append(_ context.Context, e StreamEntry) error {
	if e.Timestamp == "" {
		e.Timestamp = now()
	}
	return s.log.append(e)
}

func (s *FileStreamLog) List(_ context.Context, limit int) ([]StreamEntry, error) {
	return s.log.list(limit), nil
}
