package bot

import (
	"fmt"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vidrelay/vidrelay/internal/asset"
)

const buttonsPerRow = 2

// qualityKeyboard lays out one button per rendition, sizes included
// when known.
func qualityKeyboard(renditions []asset.Rendition) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for _, rendition := range renditions {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			buttonLabel(rendition),
			callbackRendition+"|"+rendition.ID,
		))

		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func buttonLabel(rendition asset.Rendition) string {
	if rendition.SizeBytes > 0 {
		return fmt.Sprintf("%s · %s", rendition.Label, humanize.IBytes(uint64(rendition.SizeBytes)))
	}

	return rendition.Label
}
