// Package guard owns the process-wide set of in-flight fingerprints and the
// size-ceiling admission policy. Admission and insertion are one atomic step:
// two requests for the same fingerprint can never both be admitted.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vidrelay/vidrelay/internal/asset"
)

// ErrBusy means a transfer for the same fingerprint is already in flight.
// There is no queue: the requester is told to retry later.
var ErrBusy = errors.New("a transfer for this asset is already in progress")

// TooLargeError means the declared size exceeds the ceiling for the
// requester's role and destination kind.
type TooLargeError struct {
	DeclaredSize int64
	Ceiling      int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("declared size %s exceeds the %s ceiling",
		humanize.Bytes(uint64(e.DeclaredSize)), humanize.Bytes(uint64(e.Ceiling)))
}

// ActiveTransfer is a snapshot row for the ops API.
type ActiveTransfer struct {
	Fingerprint string
	StartedAt   time.Time
}

// Guard enforces dedup and size admission for the whole process.
type Guard struct {
	maxFileSize      int64
	groupMaxFileSize int64

	mu     sync.Mutex
	active map[string]time.Time
}

func New(maxFileSize, groupMaxFileSize int64) *Guard {
	return &Guard{
		maxFileSize:      maxFileSize,
		groupMaxFileSize: groupMaxFileSize,
		active:           make(map[string]time.Time),
	}
}

// Admit checks the fingerprint against the active set and the declared size
// against the role's ceiling, and reserves the fingerprint when both pass.
// The caller owns the reservation and must Release it on every terminal path.
func (g *Guard) Admit(fingerprint string, role asset.Role, chatKind asset.ChatKind, declaredSize int64) error {
	if err := g.checkSize(role, chatKind, declaredSize); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[fingerprint]; busy {
		return ErrBusy
	}

	g.active[fingerprint] = time.Now()

	return nil
}

// CheckSize re-validates a size against the ceiling without touching the
// active set. The transfer engine uses it once actual bytes are known.
func (g *Guard) CheckSize(role asset.Role, chatKind asset.ChatKind, size int64) error {
	return g.checkSize(role, chatKind, size)
}

func (g *Guard) checkSize(role asset.Role, chatKind asset.ChatKind, size int64) error {
	if size <= 0 {
		return nil
	}

	ceiling := g.Ceiling(role, chatKind)
	if ceiling > 0 && size > ceiling {
		return &TooLargeError{DeclaredSize: size, Ceiling: ceiling}
	}

	return nil
}

// Ceiling returns the byte ceiling for a role in a chat kind. Zero means
// unbounded.
func (g *Guard) Ceiling(role asset.Role, chatKind asset.ChatKind) int64 {
	if role == asset.RoleAdmin {
		return 0
	}

	ceiling := g.maxFileSize
	if chatKind == asset.ChatGroup && g.groupMaxFileSize < ceiling {
		ceiling = g.groupMaxFileSize
	}

	return ceiling
}

// Release removes the fingerprint from the active set. Releasing a
// fingerprint that is not held is a no-op.
func (g *Guard) Release(fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.active, fingerprint)
}

// IsActive reports whether a transfer for the fingerprint is in flight.
func (g *Guard) IsActive(fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, busy := g.active[fingerprint]

	return busy
}

// Active returns a snapshot of the in-flight transfers.
func (g *Guard) Active() []ActiveTransfer {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := make([]ActiveTransfer, 0, len(g.active))
	for fingerprint, startedAt := range g.active {
		snapshot = append(snapshot, ActiveTransfer{Fingerprint: fingerprint, StartedAt: startedAt})
	}

	return snapshot
}
