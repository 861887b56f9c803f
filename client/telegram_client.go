package client

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"releasewatcher/config"
)

// TelegramClient is the messaging transport for scheduled deliveries. There
// is no delivery receipt beyond the send error.
type TelegramClient struct {
	bot *tgbotapi.BotAPI
}

func InitializeTelegramClient(conf *config.Config) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(conf.TelegramToken)
	if err != nil {
		return nil, errors.Wrap(err, "starting telegram bot api failed")
	}
	bot.Debug = false
	return &TelegramClient{bot: bot}, nil
}

func (client *TelegramClient) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := client.bot.Send(msg)
	return errors.Wrapf(err, "issue sending message to chat [%d]", chatID)
}
