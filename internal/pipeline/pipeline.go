package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vidrelay/vidrelay/internal/asset"
	"github.com/vidrelay/vidrelay/internal/cache"
	"github.com/vidrelay/vidrelay/internal/guard"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/publish"
	"github.com/vidrelay/vidrelay/internal/resolve"
	"github.com/vidrelay/vidrelay/internal/resolve/direct"
	"github.com/vidrelay/vidrelay/internal/storage"
	"github.com/vidrelay/vidrelay/internal/telemetry"
	"github.com/vidrelay/vidrelay/internal/transfer"
	"github.com/vidrelay/vidrelay/internal/transfer/progress"
)

// Relay outcomes as reported to telemetry.
const (
	StatusDelivered       = "delivered"
	StatusCacheHit        = "cache_hit"
	StatusBusy            = "busy"
	StatusTooLarge        = "too_large"
	StatusResolutionError = "resolution_error"
	StatusTransferError   = "transfer_error"
	StatusPublishError    = "publish_error"
)

// Downloader fetches a stream URL into a local file.
type Downloader interface {
	Download(ctx context.Context, url, destPath string, declaredSize, ceiling int64, events chan<- progress.Event) (int64, error)
}

// Publisher delivers finished files and mirrors cached artifacts.
type Publisher interface {
	Publish(ctx context.Context, req asset.Request, up publish.Upload) (publish.Artifact, error)
	CopyCached(ctx context.Context, artifact publish.Artifact, destChat int64) error
}

// CacheStore is the slice of the cache service the pipeline needs.
type CacheStore interface {
	Lookup(ctx context.Context, fingerprint string) (*storage.CacheRecord, error)
	Store(ctx context.Context, record storage.CacheRecord) error
	Evict(ctx context.Context, fingerprint, reason string) error
}

// Messenger sends and edits chat messages for status reporting.
type Messenger interface {
	SendText(chatID int64, text string) (int, error)
	EditText(chatID int64, messageID int, text string) error
	DeleteMessage(chatID int64, messageID int) error
}

// Config collects the pipeline collaborators.
type Config struct {
	VideoResolver  resolve.Resolver
	DirectResolver resolve.Resolver
	Engine         Downloader
	Guard          *guard.Guard
	Cache          CacheStore
	Publisher      Publisher
	Messenger      Messenger
	Telemetry      *telemetry.Telemetry
	ScratchDir     string
}

// Pipeline runs a relay request end to end: cache lookup, admission,
// resolution, transfer, delivery, cache store. Progress event spacing is
// owned by the transfer engine's reader, not configured here.
type Pipeline struct {
	video      resolve.Resolver
	direct     resolve.Resolver
	engine     Downloader
	guard      *guard.Guard
	cache      CacheStore
	publisher  Publisher
	messenger  Messenger
	telemetry  *telemetry.Telemetry
	scratchDir string
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		video:      cfg.VideoResolver,
		direct:     cfg.DirectResolver,
		engine:     cfg.Engine,
		guard:      cfg.Guard,
		cache:      cfg.Cache,
		publisher:  cfg.Publisher,
		messenger:  cfg.Messenger,
		telemetry:  cfg.Telemetry,
		scratchDir: cfg.ScratchDir,
	}
}

// Run executes one relay request and reports the outcome to the
// requester. Failures are translated into a plain-language chat message
// rather than returned, so callers can fire and forget.
func (p *Pipeline) Run(ctx context.Context, req asset.Request) {
	start := time.Now()
	fingerprint := req.Fingerprint()

	logger := logctx.LoggerFromContext(ctx).With(
		"source_url", req.SourceURL,
		"rendition", req.RenditionID,
	)
	ctx = logctx.WithLogger(ctx, logger)
	ctx = logctx.WithFingerprint(ctx, fingerprint)

	statusChat, statusMsg := p.ensureStatus(req)

	status, err := p.run(ctx, req, fingerprint, statusChat, statusMsg)
	p.telemetry.RecordRelay(status, time.Since(start))

	if err != nil {
		logger.Error("relay failed", "status", status, "error", err)
		p.editStatus(statusChat, statusMsg, userMessage(err))
		return
	}

	if statusMsg != 0 {
		if err := p.messenger.DeleteMessage(statusChat, statusMsg); err != nil {
			logger.Debug("failed to delete status message", "error", err)
		}
	}

	logger.Info("relay complete", "status", status, "duration", time.Since(start))
}

func (p *Pipeline) run(ctx context.Context, req asset.Request, fingerprint string, statusChat int64, statusMsg int) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	record, err := p.cache.Lookup(ctx, fingerprint)
	switch {
	case err == nil:
		artifact := publish.Artifact{ChatID: record.ChatID, MessageID: record.MessageID, FileID: record.FileID}
		if copyErr := p.publisher.CopyCached(ctx, artifact, req.DestinationChat); copyErr == nil {
			return StatusCacheHit, nil
		}

		// The cached message no longer exists; evict and fall through
		// to a fresh transfer.
		logger.Warn("cached artifact is gone, evicting", "message_id", record.MessageID)
		if evictErr := p.cache.Evict(ctx, fingerprint, cache.ReasonStale); evictErr != nil {
			logger.Warn("failed to evict stale cache entry", "error", evictErr)
		}
	case !errors.Is(err, storage.ErrCacheMiss):
		logger.Warn("cache lookup failed, treating as miss", "error", err)
	}

	if err := p.guard.Admit(fingerprint, req.Role, req.ChatKind, 0); err != nil {
		return statusFor(err), err
	}
	defer p.guard.Release(fingerprint)

	resolver, backend := p.resolverFor(req.RenditionID)

	var stream *resolve.Stream
	err = p.telemetry.InstrumentResolution(ctx, backend, func(ctx context.Context) error {
		var resolveErr error
		stream, resolveErr = resolver.ResolveRendition(ctx, req.SourceURL, req.RenditionID)
		return resolveErr
	})
	if err != nil {
		return StatusResolutionError, err
	}

	if err := p.guard.CheckSize(req.Role, req.ChatKind, stream.SizeBytes); err != nil {
		return StatusTooLarge, err
	}

	destPath := asset.ScratchPath(p.scratchDir, fingerprint, stream.Container)
	ceiling := p.guard.Ceiling(req.Role, req.ChatKind)

	events := make(chan progress.Event, 1)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		p.reportProgress(statusChat, statusMsg, stream.Title, events)
	}()

	var written int64
	err = p.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) error {
		var downloadErr error
		written, downloadErr = p.engine.Download(ctx, stream.URL, destPath, stream.SizeBytes, ceiling, events)
		return downloadErr
	})
	close(events)
	<-reporterDone
	if err != nil {
		return statusFor(err), err
	}
	p.telemetry.AddBytesTransferred(written)

	// The declared size can lie; re-check what actually arrived.
	if err := p.guard.CheckSize(req.Role, req.ChatKind, written); err != nil {
		if removeErr := os.Remove(destPath); removeErr != nil {
			logger.Warn("failed to remove oversized file", "path", destPath, "error", removeErr)
		}
		return StatusTooLarge, err
	}

	p.editStatus(statusChat, statusMsg, "📤 Uploading to Telegram…")

	artifact, err := p.publisher.Publish(ctx, req, publish.Upload{
		LocalPath:    destPath,
		Caption:      stream.Title,
		Container:    stream.Container,
		ThumbnailURL: stream.ThumbnailURL,
	})
	if artifact.MessageID != 0 {
		// The upload landed even if the mirror copy did not; caching the
		// artifact lets the next request serve a copy instead of
		// re-transferring the bytes.
		if storeErr := p.cache.Store(ctx, storage.CacheRecord{
			Fingerprint: fingerprint,
			ChatID:      artifact.ChatID,
			MessageID:   artifact.MessageID,
			FileID:      artifact.FileID,
			Caption:     stream.Title,
		}); storeErr != nil {
			logger.Warn("failed to store cache entry", "error", storeErr)
		}
	}
	if err != nil {
		return StatusPublishError, err
	}

	return StatusDelivered, nil
}

func (p *Pipeline) resolverFor(renditionID string) (resolve.Resolver, string) {
	if renditionID == direct.RenditionID {
		return p.direct, "direct"
	}

	return p.video, "ytdlp"
}

func (p *Pipeline) ensureStatus(req asset.Request) (int64, int) {
	chatID := req.StatusChat
	if chatID == 0 {
		chatID = req.DestinationChat
	}

	if req.StatusMessage != 0 {
		return chatID, req.StatusMessage
	}

	messageID, err := p.messenger.SendText(chatID, "⏳ Preparing your download…")
	if err != nil {
		return chatID, 0
	}

	return chatID, messageID
}

func (p *Pipeline) editStatus(chatID int64, messageID int, text string) {
	if messageID == 0 {
		if _, err := p.messenger.SendText(chatID, text); err == nil {
			return
		}
		return
	}

	// Edit failures are expected under Telegram rate limits.
	_ = p.messenger.EditText(chatID, messageID, text)
}

func (p *Pipeline) reportProgress(chatID int64, messageID int, title string, events <-chan progress.Event) {
	for event := range events {
		p.editStatus(chatID, messageID, formatProgress(title, event))
	}
}

func formatProgress(title string, event progress.Event) string {
	done := humanize.IBytes(uint64(event.BytesDone))
	speed := humanize.IBytes(uint64(event.Speed())) + "/s"

	if event.TotalBytes > 0 {
		return fmt.Sprintf("⬇️ %s\n%s of %s (%.0f%%) at %s, about %s left",
			title,
			done,
			humanize.IBytes(uint64(event.TotalBytes)),
			event.Percent(),
			speed,
			event.ETA().Round(time.Second),
		)
	}

	return fmt.Sprintf("⬇️ %s\n%s at %s", title, done, speed)
}

func statusFor(err error) string {
	var tooLarge *guard.TooLargeError
	var sizeLimit *transfer.SizeLimitError
	var resolution *resolve.ResolutionError
	var publishErr *publish.PublishError

	switch {
	case errors.Is(err, guard.ErrBusy):
		return StatusBusy
	case errors.As(err, &tooLarge), errors.As(err, &sizeLimit):
		return StatusTooLarge
	case errors.As(err, &resolution):
		return StatusResolutionError
	case errors.As(err, &publishErr):
		return StatusPublishError
	default:
		return StatusTransferError
	}
}

func userMessage(err error) string {
	var tooLarge *guard.TooLargeError
	var sizeLimit *transfer.SizeLimitError
	var resolution *resolve.ResolutionError
	var network *transfer.NetworkError
	var publishErr *publish.PublishError

	switch {
	case errors.Is(err, guard.ErrBusy):
		return "⏳ This file is already being fetched for someone. Try again in a moment."
	case errors.As(err, &tooLarge):
		return fmt.Sprintf("⚠️ This file is too large: %s (the limit is %s).",
			humanize.IBytes(uint64(tooLarge.DeclaredSize)),
			humanize.IBytes(uint64(tooLarge.Ceiling)))
	case errors.As(err, &sizeLimit):
		return fmt.Sprintf("⚠️ The download passed the size limit of %s and was stopped.",
			humanize.IBytes(uint64(sizeLimit.Ceiling)))
	case errors.As(err, &resolution):
		return "❌ I could not read that link. Check the URL and try again."
	case errors.As(err, &network):
		return "❌ The download failed: the source did not respond correctly."
	case errors.As(err, &publishErr):
		return "❌ The file was downloaded but could not be delivered to Telegram."
	default:
		return "❌ Something went wrong. Please try again."
	}
}
