package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/vidrelay/vidrelay/internal/asset"
	"github.com/vidrelay/vidrelay/internal/logctx"
	"github.com/vidrelay/vidrelay/internal/resolve"
	"github.com/vidrelay/vidrelay/internal/resolve/direct"
)

const (
	updateTimeoutSeconds = 30

	// maxConcurrentRelays bounds how many downloads run at once.
	maxConcurrentRelays = 3
)

// Callback data prefixes. The source URL never travels in callback data;
// it is recovered from the replied-to message, keeping the payload well
// under Telegram's 64 byte limit.
const (
	callbackVideo     = "video"
	callbackAudio     = "audio"
	callbackRendition = "fmt"
)

// Runner starts a relay request. Satisfied by pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req asset.Request)
}

// CacheAdmin exposes the cache operations behind admin commands.
type CacheAdmin interface {
	Clear(ctx context.Context) (int64, error)
}

type apiClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot is the Telegram front end: it turns messages and keyboard taps
// into relay requests.
type Bot struct {
	client   *tgbotapi.BotAPI
	api      apiClient
	runner   Runner
	resolver resolve.Resolver
	cache    CacheAdmin
	isAdmin  func(userID int64) bool
	sem      *semaphore.Weighted
}

func New(token string, runner Runner, resolver resolve.Resolver, cacheAdmin CacheAdmin, isAdmin func(int64) bool) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}

	return &Bot{
		client:   client,
		api:      client,
		runner:   runner,
		resolver: resolver,
		cache:    cacheAdmin,
		isAdmin:  isAdmin,
		sem:      semaphore.NewWeighted(maxConcurrentRelays),
	}, nil
}

// Client exposes the underlying Telegram client so other components,
// like the publisher, can share the session.
func (b *Bot) Client() *tgbotapi.BotAPI {
	return b.client
}

// SetRunner attaches the relay pipeline. The pipeline needs the bot's
// client to send messages, so the bot is built first and wired after.
func (b *Bot) SetRunner(runner Runner) {
	b.runner = runner
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)
	logger.Info("telegram bot started", "username", b.client.Self.UserName)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = updateTimeoutSeconds
	updates := b.client.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			b.client.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	sourceURL := extractURL(msg.Text)
	if sourceURL == "" {
		if msg.Chat.IsPrivate() {
			b.reply(ctx, msg, "Send me a video link and I will fetch it for you. 🎬")
		}
		return
	}

	b.sendTypeKeyboard(ctx, msg, sourceURL)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.reply(ctx, msg,
			"Send me a video link and pick a quality, I will download it and send it back.\n"+
				"Direct file links work too.")
	case "clearcache":
		if !b.isAdmin(msg.From.ID) {
			b.reply(ctx, msg, "This command is for admins only.")
			return
		}

		count, err := b.cache.Clear(ctx)
		if err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to clear cache", "error", err)
			b.reply(ctx, msg, "Failed to clear the cache.")
			return
		}

		b.reply(ctx, msg, fmt.Sprintf("Cache cleared: %d entries removed.", count))
	}
}

// sendTypeKeyboard asks whether the link should come back as video or
// audio. The keyboard replies to the link message so callbacks can
// recover the URL later.
func (b *Bot) sendTypeKeyboard(ctx context.Context, msg *tgbotapi.Message, sourceURL string) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎬 Video", callbackVideo),
			tgbotapi.NewInlineKeyboardButtonData("🎵 Audio", callbackAudio),
		),
	)

	reply := tgbotapi.NewMessage(msg.Chat.ID, "How do you want this link?")
	reply.ReplyToMessageID = msg.MessageID
	reply.ReplyMarkup = keyboard

	if _, err := b.api.Send(reply); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send type keyboard", "error", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	logger := logctx.LoggerFromContext(ctx)

	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		logger.Debug("failed to answer callback", "error", err)
	}

	if cq.Message == nil {
		return
	}

	sourceURL := ""
	if cq.Message.ReplyToMessage != nil {
		sourceURL = extractURL(cq.Message.ReplyToMessage.Text)
	}
	if sourceURL == "" {
		b.editMessage(ctx, cq.Message.Chat.ID, cq.Message.MessageID,
			"I lost track of the original link. Send it again, please.")
		return
	}

	action, renditionID, _ := strings.Cut(cq.Data, "|")

	switch action {
	case callbackVideo:
		go b.showQualityKeyboard(ctx, cq, sourceURL)
	case callbackAudio:
		b.launchRelay(ctx, cq, sourceURL, resolve.AudioRenditionID)
	case callbackRendition:
		if renditionID == "" {
			return
		}
		b.launchRelay(ctx, cq, sourceURL, renditionID)
	}
}

// showQualityKeyboard resolves the link and swaps the type keyboard for
// the available renditions. Links no resolver backend understands fall
// back to a direct file relay.
func (b *Bot) showQualityKeyboard(ctx context.Context, cq *tgbotapi.CallbackQuery, sourceURL string) {
	logger := logctx.LoggerFromContext(ctx)

	resolution, err := b.resolver.Resolve(ctx, sourceURL)
	if err != nil {
		var resolutionErr *resolve.ResolutionError
		if errors.As(err, &resolutionErr) {
			logger.Info("link not resolvable, relaying as direct file", "source_url", sourceURL)
			b.launchRelay(ctx, cq, sourceURL, direct.RenditionID)
			return
		}

		logger.Error("resolution failed", "source_url", sourceURL, "error", err)
		b.editMessage(ctx, cq.Message.Chat.ID, cq.Message.MessageID,
			"❌ I could not read that link. Check the URL and try again.")
		return
	}

	if len(resolution.Renditions) == 0 {
		b.launchRelay(ctx, cq, sourceURL, direct.RenditionID)
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(
		cq.Message.Chat.ID,
		cq.Message.MessageID,
		"Pick a quality for:\n"+resolution.Title,
		qualityKeyboard(resolution.Renditions),
	)
	if _, err := b.api.Send(edit); err != nil {
		logger.Error("failed to send quality keyboard", "error", err)
	}
}

// launchRelay builds the request and hands it to the pipeline on a
// bounded worker slot. The keyboard message becomes the status message.
func (b *Bot) launchRelay(ctx context.Context, cq *tgbotapi.CallbackQuery, sourceURL, renditionID string) {
	req := asset.Request{
		SourceURL:       sourceURL,
		RenditionID:     renditionID,
		Role:            b.roleOf(cq.From.ID),
		ChatKind:        chatKindOf(cq.Message.Chat),
		DestinationChat: cq.Message.Chat.ID,
		StatusChat:      cq.Message.Chat.ID,
		StatusMessage:   cq.Message.MessageID,
	}

	go func() {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer b.sem.Release(1)

		b.runner.Run(ctx, req)
	}()
}

func (b *Bot) roleOf(userID int64) asset.Role {
	if b.isAdmin(userID) {
		return asset.RoleAdmin
	}

	return asset.RoleAnonymous
}

func chatKindOf(chat *tgbotapi.Chat) asset.ChatKind {
	if chat != nil && chat.IsPrivate() {
		return asset.ChatPrivate
	}

	return asset.ChatGroup
}

func (b *Bot) reply(ctx context.Context, msg *tgbotapi.Message, text string) {
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID

	if _, err := b.api.Send(reply); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send reply", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		logctx.LoggerFromContext(ctx).Debug("failed to edit message", "error", err)
	}
}

// extractURL returns the first http(s) URL in the text, or empty.
func extractURL(text string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}

	return ""
}
