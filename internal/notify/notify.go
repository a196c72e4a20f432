package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Notifier delivers an operator-facing message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Telegram sends HTML messages to one admin chat through a bot.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	log    *zap.Logger
}

type TelegramOptions struct {
	Token  string
	ChatID int64
	// ServerURL overrides the Bot API endpoint.
	ServerURL string
	Logger    *zap.Logger
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" {
		return nil, errors.New("notify: bot token is required")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("notify: admin chat id is required")
	}
	botOpts := []bot.Option{bot.WithSkipGetMe()}
	if opts.ServerURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(opts.ServerURL))
	}
	b, err := bot.New(opts.Token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{bot: b, chatID: opts.ChatID, log: log}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             t.chatID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		t.log.Error("failed to send notification", zap.Error(err))
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// New picks the Telegram notifier when enabled and fully configured, and
// Nop otherwise.
func New(enabled bool, token string, chatID int64, log *zap.Logger) (Notifier, error) {
	if !enabled || token == "" || chatID == 0 {
		return Nop{}, nil
	}
	return NewTelegram(TelegramOptions{Token: token, ChatID: chatID, Logger: log})
}

// FreeSpinMessage is sent when the wheel awards free spins in the companion
// channel.
func FreeSpinMessage(identity string) string {
	return fmt.Sprintf("<b>👤 %s</b>\n<i>🎁 Won free spins at @whale. Open the companion channel for this session to collect them.</i>",
		html.EscapeString(identity))
}
