package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidrelay/vidrelay/internal/transfer/progress"
)

func newTestEngine() *Engine {
	return NewEngine(Options{
		ConnectTimeout:   5 * time.Second,
		IdleReadTimeout:  5 * time.Second,
		ProgressInterval: time.Nanosecond,
	})
}

func TestDownload_Success(t *testing.T) {
	payload := make([]byte, 3*1024*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.bin")

	written, err := newTestEngine().Download(context.Background(), server.URL, dest, int64(len(payload)), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), written)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownload_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.bin")

	_, err := newTestEngine().Download(context.Background(), server.URL, dest, 0, 0, nil)
	require.Error(t, err)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)

	assert.NoFileExists(t, dest)
}

func TestDownload_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	dest := filepath.Join(t.TempDir(), "asset.bin")

	_, err := newTestEngine().Download(context.Background(), server.URL, dest, 0, 0, nil)
	require.Error(t, err)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.NoFileExists(t, dest)
}

func TestDownload_CeilingAbortMidStream(t *testing.T) {
	// Remote declares nothing and keeps sending past the ceiling.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := make([]byte, 1024*1024)
		for i := 0; i < 10; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.bin")

	const ceiling = 2 * 1024 * 1024

	_, err := newTestEngine().Download(context.Background(), server.URL, dest, 0, ceiling, nil)
	require.Error(t, err)

	var sizeErr *SizeLimitError
	require.True(t, errors.As(err, &sizeErr))
	assert.Equal(t, int64(ceiling), sizeErr.Ceiling)
	assert.Greater(t, sizeErr.BytesRead, int64(ceiling))

	assert.NoFileExists(t, dest, "partial file must be deleted on a size abort")
}

func TestDownload_ConnectionDropMidStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10485760")
		_, _ = w.Write(make([]byte, 4*1024*1024)) // 40% of the declared size
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.bin")

	_, err := newTestEngine().Download(context.Background(), server.URL, dest, 0, 0, nil)
	require.Error(t, err)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.NoFileExists(t, dest, "partial file must be deleted after a dropped connection")
}

func TestDownload_EmitsProgressEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2*1024*1024))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "asset.bin")
	events := make(chan progress.Event, 64)

	_, err := newTestEngine().Download(context.Background(), server.URL, dest, 0, 0, events)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	event := <-events
	assert.Positive(t, event.BytesDone)
	assert.Equal(t, int64(2*1024*1024), event.TotalBytes)
}

func TestDownload_IdleReadTimeout(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10485760")
		_, _ = w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		<-release // stall without closing
	}))
	defer server.Close()
	defer close(release)

	engine := NewEngine(Options{
		ConnectTimeout:  5 * time.Second,
		IdleReadTimeout: 200 * time.Millisecond,
	})

	dest := filepath.Join(t.TempDir(), "asset.bin")

	start := time.Now()
	_, err := engine.Download(context.Background(), server.URL, dest, 0, 0, nil)
	require.Error(t, err)

	assert.Less(t, time.Since(start), 5*time.Second, "stalled transfer must be aborted by the idle watchdog")
	assert.NoFileExists(t, dest)
}
