package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vidrelay/vidrelay/internal/asset"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/resolve"
	"github.com/vidrelay/vidrelay/internal/telemetry"
)

// Delivery kinds as reported to telemetry and used to pick the Telegram
// send method.
const (
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
)

// streamableContainers are the containers Telegram can play inline.
var streamableContainers = map[string]struct{}{
	"mp4":  {},
	"mov":  {},
	"webm": {},
}

// Artifact identifies a message holding a delivered file. When a cache
// chat is configured the artifact points at the cache copy, so later
// requests can be served with a copy instead of a re-upload.
type Artifact struct {
	ChatID    int64
	MessageID int
	FileID    string
}

// Upload describes a downloaded file ready for delivery.
type Upload struct {
	LocalPath    string
	Caption      string
	Container    string
	ThumbnailURL string
}

// BotAPI is the slice of the Telegram client the publisher needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	CopyMessage(cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
}

// Publisher uploads finished files to Telegram. With a cache chat
// configured it uploads there once and mirrors a copy to the requester,
// keeping the upload reusable.
type Publisher struct {
	bot         BotAPI
	cacheChatID int64
	telemetry   *telemetry.Telemetry
}

func NewPublisher(bot BotAPI, cacheChatID int64, tel *telemetry.Telemetry) *Publisher {
	return &Publisher{
		bot:         bot,
		cacheChatID: cacheChatID,
		telemetry:   tel,
	}
}

// Publish delivers the uploaded file for the given request and returns
// the artifact to cache. The local file is deleted before returning,
// whether delivery succeeded or not. When the cache-chat upload lands
// but the mirror copy to the requester fails, the artifact is returned
// together with the error.
func (p *Publisher) Publish(ctx context.Context, req asset.Request, up Upload) (Artifact, error) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if err := os.Remove(up.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove local file after publish", "path", up.LocalPath, "error", err)
		}
	}()

	kind := classify(req.RenditionID, up.LocalPath, up.Container)

	targetChat := req.DestinationChat
	if p.cacheChatID != 0 {
		targetChat = p.cacheChatID
	}

	sent, err := p.bot.Send(buildUpload(targetChat, kind, up))
	if err != nil {
		p.telemetry.RecordPublish(kind, "error")
		return Artifact{}, &PublishError{Op: "upload " + kind, ChatID: targetChat, Err: err}
	}

	artifact := Artifact{
		ChatID:    targetChat,
		MessageID: sent.MessageID,
		FileID:    sentFileID(sent),
	}

	if p.cacheChatID != 0 {
		if err := p.CopyCached(ctx, artifact, req.DestinationChat); err != nil {
			p.telemetry.RecordPublish(kind, "error")

			// The cache-chat upload succeeded, so the artifact is
			// returned with the error; callers can cache it and serve
			// the next request without re-transferring the bytes.
			return artifact, err
		}
	}

	logger.Info("file published",
		"kind", kind,
		"chat_id", artifact.ChatID,
		"message_id", artifact.MessageID,
	)
	p.telemetry.RecordPublish(kind, "success")

	return artifact, nil
}

// CopyCached mirrors a previously published artifact into the
// destination chat without re-uploading the file.
func (p *Publisher) CopyCached(ctx context.Context, artifact Artifact, destChat int64) error {
	if _, err := p.bot.CopyMessage(tgbotapi.NewCopyMessage(destChat, artifact.ChatID, artifact.MessageID)); err != nil {
		return &PublishError{Op: "copy message", ChatID: destChat, Err: err}
	}

	logctx.LoggerFromContext(ctx).Info("cached file copied",
		"from_chat_id", artifact.ChatID,
		"message_id", artifact.MessageID,
		"chat_id", destChat,
	)

	return nil
}

func buildUpload(chatID int64, kind string, up Upload) tgbotapi.Chattable {
	file := tgbotapi.FilePath(up.LocalPath)

	switch kind {
	case KindVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = up.Caption
		video.SupportsStreaming = true
		if up.ThumbnailURL != "" {
			video.Thumb = tgbotapi.FileURL(up.ThumbnailURL)
		}
		return video
	case KindAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = up.Caption
		if up.ThumbnailURL != "" {
			audio.Thumb = tgbotapi.FileURL(up.ThumbnailURL)
		}
		return audio
	default:
		document := tgbotapi.NewDocument(chatID, file)
		document.Caption = up.Caption
		return document
	}
}

// classify picks the delivery kind from the rendition, the file content
// and the container. Anything not recognisably a streamable video goes
// out as a document so Telegram never rejects the media type.
func classify(renditionID, localPath, container string) string {
	if renditionID == resolve.AudioRenditionID {
		return KindAudio
	}

	if container == "" {
		container = strings.TrimPrefix(filepath.Ext(localPath), ".")
	}
	container = strings.ToLower(container)

	if _, ok := streamableContainers[container]; !ok {
		return KindDocument
	}

	if mtype, err := mimetype.DetectFile(localPath); err == nil {
		if !strings.HasPrefix(mtype.String(), "video/") {
			return KindDocument
		}
	}

	return KindVideo
}

func sentFileID(msg tgbotapi.Message) string {
	switch {
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	}

	return ""
}
