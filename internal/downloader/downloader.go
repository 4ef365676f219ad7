package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// ProgressFunc receives byte counts while a download is running.
// total is 0 when the backend cannot determine the final size.
type ProgressFunc func(downloaded, total int64)

// Backend performs the actual transfer for one class of source URL.
// Download blocks until the transfer reaches a terminal outcome. A
// cancelled context must stop the transfer, remove partial output and
// return ctx.Err() rather than a backend error.
type Backend interface {
	Name() string
	Patterns() []string
	Matches(rawURL string) bool
	Available() bool
	Download(ctx context.Context, source, dest string, report ProgressFunc) error
}

var (
	// ErrInvalidSource means the submitted URL could not be parsed or classified.
	ErrInvalidSource = errors.New("invalid source URL")

	// ErrHelperUnavailable means the external helper binary was not found.
	ErrHelperUnavailable = errors.New("megadl helper not available")

	// ErrInvalidLink means the helper reported the share link as malformed or inaccessible.
	ErrInvalidLink = errors.New("invalid or inaccessible link")
)

// HTTPError is returned by the direct backend on a non-success status code.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bad status code: %d", e.StatusCode)
}

// HelperError is returned by the mega backend when the helper process
// exits non-zero for a reason other than cancellation or a bad link.
type HelperError struct {
	ExitCode int
	Output   string
}

func (e *HelperError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("helper exited with code %d: %s", e.ExitCode, e.Output)
	}
	return fmt.Sprintf("helper exited with code %d", e.ExitCode)
}

var megaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)mega\.nz/file/`),
	regexp.MustCompile(`(?i)mega\.nz/folder/`),
	regexp.MustCompile(`(?i)mega\.nz/#`),
	regexp.MustCompile(`(?i)mega\.co\.nz/`),
}

// ValidateSource rejects anything that is not an absolute http(s) URL.
// Classification happens before any task is created.
func ValidateSource(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	return nil
}

// Select returns the first backend whose patterns match the URL,
// falling back to the last entry (the direct backend).
func Select(backends []Backend, rawURL string) Backend {
	for _, b := range backends {
		if b.Matches(rawURL) {
			return b
		}
	}
	return backends[len(backends)-1]
}
