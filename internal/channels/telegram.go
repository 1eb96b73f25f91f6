package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bend-n/panel/internal/bus"
	"github.com/bend-n/panel/internal/config/channel"
	"github.com/bend-n/panel/internal/relay"
)

const telegramMaxMsgLen = 4000

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel implements the Telegram bot via long polling.
type TelegramChannel struct {
	Base
	cfg    *channel.TelegramConfig
	bot    *tgbotapi.BotAPI
	sender telegramSender
}

// NewTelegramChannel creates a TelegramChannel.
func NewTelegramChannel(cfg *channel.TelegramConfig, b *bus.ChatBus) *TelegramChannel {
	return &TelegramChannel{
		Base: NewBase(bus.ChannelTelegram, b, cfg.AllowFrom),
		cfg:  cfg,
	}
}

func (t *TelegramChannel) Name() string { return string(bus.ChannelTelegram) }

func (t *TelegramChannel) Start(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPI(t.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	t.bot = bot
	t.sender = bot
	slog.Info("telegram: connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	if t.cfg.ChatID != 0 && msg.Chat.ID != t.cfg.ChatID {
		return
	}
	if msg.IsCommand() {
		return
	}

	senderID := fmt.Sprintf("%d", msg.From.ID)
	if msg.From.UserName != "" {
		senderID = senderID + "|" + msg.From.UserName
	}
	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	t.HandleMessage(ctx, senderID, fmt.Sprintf("%d", msg.Chat.ID), telegramAuthor(msg.From), content)
}

func telegramAuthor(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// Deliver sends msg to the configured chat as HTML with the speaker in bold.
func (t *TelegramChannel) Deliver(_ context.Context, msg relay.Message) error {
	if t.sender == nil {
		return fmt.Errorf("telegram: bot not running")
	}
	if t.cfg.ChatID == 0 {
		return fmt.Errorf("telegram: chatId not configured")
	}
	for _, chunk := range splitMessage(msg.Content, telegramMaxMsgLen) {
		m := tgbotapi.NewMessage(t.cfg.ChatID, "<b>"+htmlEscape(msg.Speaker)+"</b>\n"+htmlEscape(chunk))
		m.ParseMode = tgbotapi.ModeHTML
		m.DisableWebPagePreview = true
		if _, err := t.sender.Send(m); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}
