package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidrelay/vidrelay/internal/asset"
	"github.com/vidrelay/vidrelay/internal/resolve"
)

type fakeBot struct {
	sent    []tgbotapi.Chattable
	copied  []tgbotapi.CopyMessageConfig
	sendMsg tgbotapi.Message
	sendErr error
	copyErr error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	return f.sendMsg, nil
}

func (f *fakeBot) CopyMessage(cfg tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error) {
	f.copied = append(f.copied, cfg)
	if f.copyErr != nil {
		return tgbotapi.MessageID{}, f.copyErr
	}
	return tgbotapi.MessageID{MessageID: 900}, nil
}

// mp4Header is enough for content sniffing to see an MP4 container.
var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
	0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
}

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	return path
}

func TestPublishVideoDirect(t *testing.T) {
	bot := &fakeBot{sendMsg: tgbotapi.Message{
		MessageID: 42,
		Video:     &tgbotapi.Video{FileID: "file-42"},
	}}
	publisher := NewPublisher(bot, 0, nil)

	path := writeTempFile(t, "clip.mp4", mp4Header)
	req := asset.Request{SourceURL: "https://example.com/watch", RenditionID: "137", DestinationChat: 100}

	artifact, err := publisher.Publish(context.Background(), req, Upload{
		LocalPath: path,
		Caption:   "A clip",
		Container: "mp4",
	})
	require.NoError(t, err)

	assert.Equal(t, Artifact{ChatID: 100, MessageID: 42, FileID: "file-42"}, artifact)
	assert.Empty(t, bot.copied)

	require.Len(t, bot.sent, 1)
	video, ok := bot.sent[0].(tgbotapi.VideoConfig)
	require.True(t, ok, "expected a video upload, got %T", bot.sent[0])
	assert.Equal(t, int64(100), video.ChatID)
	assert.Equal(t, "A clip", video.Caption)
	assert.True(t, video.SupportsStreaming)

	assert.NoFileExists(t, path, "local file should be removed after publish")
}

func TestPublishMirrorsThroughCacheChat(t *testing.T) {
	bot := &fakeBot{sendMsg: tgbotapi.Message{
		MessageID: 7,
		Video:     &tgbotapi.Video{FileID: "file-7"},
	}}
	publisher := NewPublisher(bot, -100200, nil)

	path := writeTempFile(t, "clip.mp4", mp4Header)
	req := asset.Request{SourceURL: "https://example.com/watch", RenditionID: "22", DestinationChat: 555}

	artifact, err := publisher.Publish(context.Background(), req, Upload{LocalPath: path, Container: "mp4"})
	require.NoError(t, err)

	assert.Equal(t, int64(-100200), artifact.ChatID, "artifact should point at the cache chat")
	assert.Equal(t, 7, artifact.MessageID)

	require.Len(t, bot.sent, 1)
	video, ok := bot.sent[0].(tgbotapi.VideoConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100200), video.ChatID)

	require.Len(t, bot.copied, 1)
	assert.Equal(t, int64(555), bot.copied[0].ChatID)
	assert.Equal(t, int64(-100200), bot.copied[0].FromChatID)
	assert.Equal(t, 7, bot.copied[0].MessageID)
}

func TestPublishAudio(t *testing.T) {
	bot := &fakeBot{sendMsg: tgbotapi.Message{
		MessageID: 3,
		Audio:     &tgbotapi.Audio{FileID: "aud-3"},
	}}
	publisher := NewPublisher(bot, 0, nil)

	path := writeTempFile(t, "track.m4a", []byte("audio bytes"))
	req := asset.Request{SourceURL: "https://example.com/watch", RenditionID: resolve.AudioRenditionID, DestinationChat: 9}

	artifact, err := publisher.Publish(context.Background(), req, Upload{LocalPath: path, Container: "m4a"})
	require.NoError(t, err)

	assert.Equal(t, "aud-3", artifact.FileID)
	require.Len(t, bot.sent, 1)
	_, ok := bot.sent[0].(tgbotapi.AudioConfig)
	assert.True(t, ok, "expected an audio upload, got %T", bot.sent[0])
}

func TestPublishFallsBackToDocument(t *testing.T) {
	bot := &fakeBot{sendMsg: tgbotapi.Message{
		MessageID: 5,
		Document:  &tgbotapi.Document{FileID: "doc-5"},
	}}
	publisher := NewPublisher(bot, 0, nil)

	path := writeTempFile(t, "archive.bin", []byte("not a video"))
	req := asset.Request{SourceURL: "https://example.com/file", RenditionID: "file", DestinationChat: 12}

	artifact, err := publisher.Publish(context.Background(), req, Upload{LocalPath: path})
	require.NoError(t, err)

	assert.Equal(t, "doc-5", artifact.FileID)
	require.Len(t, bot.sent, 1)
	_, ok := bot.sent[0].(tgbotapi.DocumentConfig)
	assert.True(t, ok, "expected a document upload, got %T", bot.sent[0])
}

func TestPublishRemovesFileOnUploadError(t *testing.T) {
	bot := &fakeBot{sendErr: errors.New("telegram is down")}
	publisher := NewPublisher(bot, 0, nil)

	path := writeTempFile(t, "clip.mp4", mp4Header)
	req := asset.Request{SourceURL: "https://example.com/watch", RenditionID: "137", DestinationChat: 100}

	_, err := publisher.Publish(context.Background(), req, Upload{LocalPath: path, Container: "mp4"})
	require.Error(t, err)

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, int64(100), publishErr.ChatID)

	assert.NoFileExists(t, path, "local file should be removed even when upload fails")
}

func TestPublishCopyFailure(t *testing.T) {
	bot := &fakeBot{
		sendMsg: tgbotapi.Message{MessageID: 7, Video: &tgbotapi.Video{FileID: "file-7"}},
		copyErr: errors.New("chat not found"),
	}
	publisher := NewPublisher(bot, -100200, nil)

	path := writeTempFile(t, "clip.mp4", mp4Header)
	req := asset.Request{SourceURL: "https://example.com/watch", RenditionID: "22", DestinationChat: 555}

	artifact, err := publisher.Publish(context.Background(), req, Upload{LocalPath: path, Container: "mp4"})

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
	assert.Equal(t, int64(555), publishErr.ChatID)

	// The cache-chat upload succeeded and must not be lost.
	assert.Equal(t, Artifact{ChatID: -100200, MessageID: 7, FileID: "file-7"}, artifact)
}

func TestCopyCached(t *testing.T) {
	bot := &fakeBot{}
	publisher := NewPublisher(bot, -100200, nil)

	artifact := Artifact{ChatID: -100200, MessageID: 31}
	require.NoError(t, publisher.CopyCached(context.Background(), artifact, 17))

	require.Len(t, bot.copied, 1)
	assert.Equal(t, int64(17), bot.copied[0].ChatID)
	assert.Equal(t, int64(-100200), bot.copied[0].FromChatID)
	assert.Equal(t, 31, bot.copied[0].MessageID)

	bot.copyErr = errors.New("message to copy not found")
	err := publisher.CopyCached(context.Background(), artifact, 17)

	var publishErr *PublishError
	require.ErrorAs(t, err, &publishErr)
}

func TestClassify(t *testing.T) {
	mp4Path := writeTempFile(t, "clip.mp4", mp4Header)
	textPath := writeTempFile(t, "notes.mp4", []byte("plain text pretending to be video"))

	tests := map[string]struct {
		renditionID string
		path        string
		container   string
		want        string
	}{
		"audio rendition": {
			renditionID: resolve.AudioRenditionID,
			path:        mp4Path,
			want:        KindAudio,
		},
		"streamable mp4": {
			renditionID: "137",
			path:        mp4Path,
			container:   "mp4",
			want:        KindVideo,
		},
		"container from extension": {
			renditionID: "137",
			path:        mp4Path,
			want:        KindVideo,
		},
		"non streamable container": {
			renditionID: "file",
			path:        mp4Path,
			container:   "mkv",
			want:        KindDocument,
		},
		"content does not match container": {
			renditionID: "137",
			path:        textPath,
			container:   "mp4",
			want:        KindDocument,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.renditionID, tc.path, tc.container))
		})
	}
}
