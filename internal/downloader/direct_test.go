package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type progressSink struct {
	mu         sync.Mutex
	downloaded int64
	total      int64
	calls      int
}

func (p *progressSink) report(downloaded, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloaded = downloaded
	p.total = total
	p.calls++
}

func (p *progressSink) snapshot() (int64, int64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.downloaded, p.total, p.calls
}

func TestDirect_Download(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Length", "1000")
		w.Write(payload)
	}))
	defer srv.Close()

	d := NewDirect(map[string]string{"User-Agent": "test-agent"})
	dest := filepath.Join(t.TempDir(), "file.bin")
	sink := &progressSink{}

	err := d.Download(context.Background(), srv.URL+"/file.bin", dest, sink.report)
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	downloaded, total, calls := sink.snapshot()
	require.Equal(t, int64(1000), downloaded)
	require.Equal(t, int64(1000), total)
	require.GreaterOrEqual(t, calls, 2, "expected at least the initial and final report")
}

func TestDirect_DownloadUnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response, no Content-Length.
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	d := NewDirect(nil)
	dest := filepath.Join(t.TempDir(), "out")
	sink := &progressSink{}

	require.NoError(t, d.Download(context.Background(), srv.URL, dest, sink.report))
	downloaded, total, _ := sink.snapshot()
	require.Equal(t, int64(len("hello world")), downloaded)
	require.Equal(t, int64(0), total)
}

func TestDirect_DownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDirect(nil)
	dest := filepath.Join(t.TempDir(), "out")

	err := d.Download(context.Background(), srv.URL, dest, nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.NoFileExists(t, dest)
}

func TestDirect_DownloadConnectionError(t *testing.T) {
	d := NewDirect(nil)
	dest := filepath.Join(t.TempDir(), "out")

	// Reserved port that nothing listens on.
	err := d.Download(context.Background(), "http://127.0.0.1:1/file", dest, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.Canceled)
}

func TestDirect_DownloadCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.Write(bytes.Repeat([]byte("x"), 1024))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDirect(nil)
	dest := filepath.Join(t.TempDir(), "partial.bin")

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Download(ctx, srv.URL, dest, nil)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not stop after cancellation")
	}

	// Partial output is discarded on cancel.
	require.NoFileExists(t, dest)
}
