package progress

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_CountsBytes(t *testing.T) {
	source := bytes.NewReader(make([]byte, 4096))
	r := NewReader(source, 4096, time.Hour, nil)

	n, err := io.Copy(io.Discard, r)
	require.NoError(t, err)

	assert.Equal(t, int64(4096), n)
	assert.Equal(t, int64(4096), r.BytesRead())
}

func TestReader_RateLimitsEvents(t *testing.T) {
	events := make(chan Event, 64)
	source := bytes.NewReader(make([]byte, 64*1024))
	// Interval far in the future: no read can be 1h after the previous emit.
	r := NewReader(source, 64*1024, time.Hour, events)

	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)

	assert.Empty(t, events, "no event should fire inside the interval")
}

func TestReader_EmitsAfterInterval(t *testing.T) {
	events := make(chan Event, 64)
	source := bytes.NewReader(make([]byte, 8*1024))
	r := NewReader(source, 8*1024, time.Nanosecond, events)

	time.Sleep(5 * time.Millisecond)

	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	event := <-events
	assert.Positive(t, event.BytesDone)
	assert.Equal(t, int64(8*1024), event.TotalBytes)
}

func TestReader_DropsEventsWhenConsumerLags(t *testing.T) {
	events := make(chan Event) // unbuffered, nobody reading
	source := bytes.NewReader(make([]byte, 8*1024))
	r := NewReader(source, 8*1024, time.Nanosecond, events)

	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(io.Discard, r)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("transfer blocked on a lagging progress consumer")
	}
}

func TestEvent_Speed(t *testing.T) {
	event := Event{BytesDone: 10 * 1024 * 1024, Elapsed: 2 * time.Second}
	assert.InDelta(t, 5*1024*1024, event.Speed(), 1)

	assert.Zero(t, Event{BytesDone: 100}.Speed())
}

func TestEvent_Percent(t *testing.T) {
	assert.InDelta(t, 40.0, Event{BytesDone: 40, TotalBytes: 100}.Percent(), 0.001)
	assert.Equal(t, -1.0, Event{BytesDone: 40}.Percent())
}

func TestEvent_ETA(t *testing.T) {
	event := Event{BytesDone: 50, TotalBytes: 100, Elapsed: 10 * time.Second}
	assert.InDelta(t, float64(10*time.Second), float64(event.ETA()), float64(100*time.Millisecond))

	assert.Zero(t, Event{BytesDone: 100, TotalBytes: 100, Elapsed: time.Second}.ETA())
	assert.Zero(t, Event{BytesDone: 50, Elapsed: time.Second}.ETA())
}

func TestReader_DefaultsInterval(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), 0, 0, nil)

	assert.Equal(t, DefaultInterval, r.interval, "zero interval must fall back to the default spacing")
}
