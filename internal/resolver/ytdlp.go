// Package resolver turns video-page URLs into direct media URLs the capture
// backends can open.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// ErrNoURL is returned when a page URL could not be resolved.
var ErrNoURL = errors.New("resolver: no direct stream URL")

// DefaultHosts are the hosts resolved through yt-dlp.
var DefaultHosts = []string{"youtube.com", "youtu.be"}

// Config configures YTDLP
type Config struct {
	// Binary is the yt-dlp executable (default "yt-dlp")
	Binary string `yaml:"binary"`
	// Timeout bounds each yt-dlp run (default 30s)
	Timeout time.Duration `yaml:"timeout"`
	// Hosts whose URLs are resolved; any other URL is used as given
	Hosts []string `yaml:"hosts"`
}

// Resolver maps a submitted URL to the URL to open.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// YTDLP resolves video-page URLs with the yt-dlp CLI.
type YTDLP struct {
	binary  string
	timeout time.Duration
	hosts   []string
}

// NewYTDLP applies defaults to cfg.
func NewYTDLP(cfg Config) *YTDLP {
	r := &YTDLP{binary: cfg.Binary, timeout: cfg.Timeout, hosts: cfg.Hosts}
	if r.binary == "" {
		r.binary = "yt-dlp"
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.hosts == nil {
		r.hosts = DefaultHosts
	}
	return r
}

// Matches reports whether rawURL belongs to a configured host (or a subdomain).
func (r *YTDLP) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range r.hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Resolve returns rawURL unchanged for other hosts. For configured hosts it
// prefers an HTTP-delivered format, falling back to yt-dlp's default
// selection, and returns ErrNoURL when neither yields a URL.
func (r *YTDLP) Resolve(ctx context.Context, rawURL string) (string, error) {
	if !r.Matches(rawURL) {
		return rawURL, nil
	}

	var errs []error
	for _, format := range [][]string{{"-f", "best[protocol^=http]"}, nil} {
		resolved, err := r.run(ctx, rawURL, format)
		if err == nil {
			slog.Info("resolver: url resolved", "url", rawURL, "format", strings.Join(format, " "))
			return resolved, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
		slog.Debug("resolver: attempt failed", "url", rawURL, "format", strings.Join(format, " "), "error", err)
	}
	return "", errors.Join(append([]error{ErrNoURL}, errs...)...)
}

func (r *YTDLP) run(ctx context.Context, rawURL string, format []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, format...), "-g", "--no-warnings", rawURL)
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	// Split formats print one URL per stream; the first is the video
	for _, line := range strings.Split(out.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned empty output")
}
