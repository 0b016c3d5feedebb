// Package transfer streams a resolved URL to local storage in bounded chunks.
// It never buffers a whole asset in memory and never leaves a partial file
// behind on failure.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/transfer/progress"
)

const (
	// chunkSize is the read granularity of the download loop.
	chunkSize = 1024 * 1024

	filePerm = 0644
)

// Options bound the engine's network behavior.
type Options struct {
	// ConnectTimeout bounds dialing and TLS handshake.
	ConnectTimeout time.Duration
	// IdleReadTimeout aborts a transfer whose remote host stops sending, so a
	// stalled download cannot hold its admission slot indefinitely.
	IdleReadTimeout time.Duration
	// ProgressInterval is the minimum spacing between progress events.
	ProgressInterval time.Duration
}

// Engine downloads streams to scratch files.
type Engine struct {
	client *http.Client
	opts   Options
}

func NewEngine(opts Options) *Engine {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}

	if opts.IdleReadTimeout <= 0 {
		opts.IdleReadTimeout = 120 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	return &Engine{
		opts: opts,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   opts.ConnectTimeout,
				ResponseHeaderTimeout: opts.ConnectTimeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Download streams url to destPath in fixed-size chunks, emitting rate-limited
// progress events and enforcing the byte ceiling against actual bytes read.
// On any failure the partial file is deleted before the error is returned.
// A nil events channel disables progress reporting. A ceiling of zero means
// unbounded (admin requests).
func (e *Engine) Download(ctx context.Context, url, destPath string, declaredSize, ceiling int64, events chan<- progress.Event) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("downloading stream", "dest", destPath, "declared_size", humanize.Bytes(uint64(declaredSize)))

	// The idle watchdog cancels the request context when no chunk arrives
	// within the window; resets happen after every successful read.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &NetworkError{URL: url, Reason: "invalid stream URL", Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, &NetworkError{URL: url, Reason: "connection failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &NetworkError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Reason:     "remote host refused the download",
		}
	}

	total := declaredSize
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create scratch file: %w", err)
	}

	written, copyErr := e.copyChunks(ctx, cancel, out, resp.Body, total, ceiling, events)

	closeErr := out.Close()

	if copyErr != nil {
		removePartial(logger, destPath)

		return 0, copyErr
	}

	if closeErr != nil {
		removePartial(logger, destPath)

		return 0, fmt.Errorf("failed to close scratch file: %w", closeErr)
	}

	logger.Info("download complete", "dest", destPath, "size", humanize.Bytes(uint64(written)))

	return written, nil
}

func (e *Engine) copyChunks(ctx context.Context, cancel context.CancelFunc, out *os.File, body io.Reader, total, ceiling int64, events chan<- progress.Event) (int64, error) {
	watchdog := time.AfterFunc(e.opts.IdleReadTimeout, cancel)
	defer watchdog.Stop()

	pr := progress.NewReader(body, total, e.opts.ProgressInterval, events)
	buf := make([]byte, chunkSize)

	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			watchdog.Reset(e.opts.IdleReadTimeout)

			if _, err := out.Write(buf[:n]); err != nil {
				return pr.BytesRead(), fmt.Errorf("failed to write chunk: %w", err)
			}

			if ceiling > 0 && pr.BytesRead() > ceiling {
				return pr.BytesRead(), &SizeLimitError{BytesRead: pr.BytesRead(), Ceiling: ceiling}
			}
		}

		if readErr == io.EOF {
			return pr.BytesRead(), nil
		}

		if readErr != nil {
			reason := "connection dropped mid-transfer"
			if errors.Is(readErr, context.Canceled) && ctx.Err() != nil {
				reason = "transfer stalled or cancelled"
			}

			return pr.BytesRead(), &NetworkError{Reason: reason, Err: readErr}
		}
	}
}

func removePartial(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove partial file", "path", path, "err", err)
	}
}
