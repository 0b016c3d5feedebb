package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger adapts the Telegram client to the plain text operations the
// pipeline uses for status reporting.
type Messenger struct {
	api apiClient
}

func NewMessenger(bot *Bot) *Messenger {
	return &Messenger{api: bot.api}
}

func (m *Messenger) SendText(chatID int64, text string) (int, error) {
	sent, err := m.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}

	return sent.MessageID, nil
}

func (m *Messenger) EditText(chatID int64, messageID int, text string) error {
	_, err := m.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}

func (m *Messenger) DeleteMessage(chatID int64, messageID int) error {
	_, err := m.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}
