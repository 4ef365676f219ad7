package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// reportInterval throttles progress callbacks so a client polling at
// ~1 Hz always sees fresh numbers without hammering the registry.
const reportInterval = 100 * time.Millisecond

// Direct streams a plain HTTP/HTTPS response to disk. It is the
// fallback backend for any URL no other backend claims.
type Direct struct {
	client  *http.Client
	headers map[string]string
}

func NewDirect(headers map[string]string) *Direct {
	return &Direct{
		// No client timeout: downloads may legitimately run for hours.
		client:  &http.Client{},
		headers: headers,
	}
}

func (d *Direct) Name() string { return "Direct Link" }

func (d *Direct) Patterns() []string { return []string{`^https?://`} }

func (d *Direct) Matches(rawURL string) bool { return ValidateSource(rawURL) == nil }

func (d *Direct) Available() bool { return true }

func (d *Direct) Download(ctx context.Context, source, dest string, report ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}

	// ContentLength is -1 when the server did not send a length.
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if report != nil {
		report(0, total)
	}

	var downloaded int64
	lastReport := time.Now()
	buf := make([]byte, 32*1024)
	for {
		if cerr := ctx.Err(); cerr != nil {
			f.Close()
			os.Remove(dest)
			return cerr
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return fmt.Errorf("write file: %w", werr)
			}
			downloaded += int64(n)
			if report != nil && time.Since(lastReport) >= reportInterval {
				report(downloaded, total)
				lastReport = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			// A cancelled request surfaces as a body read error.
			if ctx.Err() != nil {
				os.Remove(dest)
				return ctx.Err()
			}
			return fmt.Errorf("read response: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if report != nil {
		report(downloaded, total)
	}
	return nil
}
