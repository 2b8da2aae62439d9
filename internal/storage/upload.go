// Package storage handles uploaded inputs, local artifact directories and
// object-storage copies of finished artifacts.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultMaxUploadBytes is the upload size limit (200 MiB).
	DefaultMaxUploadBytes int64 = 200 << 20
	chunkSize                   = 1 << 20
)

// ErrUploadTooLarge is returned when an upload exceeds its limit.
var ErrUploadTooLarge = errors.New("storage: file size exceeds limit")

// SaveUpload copies r into a new temp file under dir, keeping the extension
// of name, and returns its path. Past limit bytes (0: DefaultMaxUploadBytes)
// the partial file is removed and ErrUploadTooLarge returned.
func SaveUpload(dir, name string, r io.Reader, limit int64) (string, error) {
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create upload dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "upload-*"+safeExt(name))
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (string, error) {
		f.Close()
		os.Remove(path)
		return "", err
	}

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return fail(ErrUploadTooLarge)
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("storage: write upload: %w", err))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("storage: read upload: %w", rerr))
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("storage: close upload: %w", err)
	}
	return path, nil
}

// safeExt returns the lower-case extension of name when it is a plain
// alphanumeric suffix, else "".
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// Local holds the working directories of the service
type Local struct {
	// TmpDir receives uploads until their job ends
	TmpDir string
	// OutputDir receives annotated video artifacts
	OutputDir string
}

// Ensure creates both directories.
func (l Local) Ensure() error {
	for _, dir := range []string{l.TmpDir, l.OutputDir} {
		if dir == "" {
			return fmt.Errorf("storage: directory not configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: create %s: %w", dir, err)
		}
	}
	return nil
}
