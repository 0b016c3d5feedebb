// Package progress decouples transfer progress reporting from the chunk-read
// loop: the reader emits events on a channel and a separate consumer decides
// how to surface them.
package progress

import (
	"io"
	"time"
)

// DefaultInterval is the minimum spacing between two progress events. The
// status channel behind the consumer is rate-limited by the messaging
// platform, so per-chunk reporting is never acceptable.
const DefaultInterval = 2 * time.Second

// Event is one progress observation.
type Event struct {
	BytesDone  int64
	TotalBytes int64 // zero when the remote host declared no size
	Elapsed    time.Duration
}

// Speed returns the average transfer rate in bytes per second.
func (e Event) Speed() float64 {
	if e.Elapsed <= 0 {
		return 0
	}

	return float64(e.BytesDone) / e.Elapsed.Seconds()
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (e Event) Percent() float64 {
	if e.TotalBytes <= 0 {
		return -1
	}

	return float64(e.BytesDone) * 100 / float64(e.TotalBytes)
}

// ETA estimates the remaining transfer time, or zero when unknowable.
func (e Event) ETA() time.Duration {
	speed := e.Speed()
	if speed <= 0 || e.TotalBytes <= 0 || e.BytesDone >= e.TotalBytes {
		return 0
	}

	remaining := float64(e.TotalBytes-e.BytesDone) / speed

	return time.Duration(remaining * float64(time.Second))
}

// Reader wraps an io.Reader and emits rate-limited progress events. Sends
// never block: if the consumer lags, the observation is dropped rather than
// stalling the transfer.
type Reader struct {
	reader   io.Reader
	total    int64
	interval time.Duration
	events   chan<- Event

	started  time.Time
	read     int64
	lastEmit time.Time
}

func NewReader(r io.Reader, total int64, interval time.Duration, events chan<- Event) *Reader {
	if interval <= 0 {
		interval = DefaultInterval
	}

	now := time.Now()

	return &Reader{
		reader:   r,
		total:    total,
		interval: interval,
		events:   events,
		started:  now,
		lastEmit: now,
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.read += int64(n)
		r.maybeEmit()
	}

	return n, err
}

// BytesRead returns the cumulative byte count.
func (r *Reader) BytesRead() int64 {
	return r.read
}

func (r *Reader) maybeEmit() {
	now := time.Now()
	if now.Sub(r.lastEmit) < r.interval {
		return
	}

	r.lastEmit = now

	if r.events == nil {
		return
	}

	select {
	case r.events <- Event{BytesDone: r.read, TotalBytes: r.total, Elapsed: now.Sub(r.started)}:
	default:
	}
}
