package forward

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	APIURL   string // override for self-hosted Bot API servers; empty uses the public API

	// Offline skips the getMe handshake at construction.
	Offline bool
}

// TelegramSender posts plain-text messages to one chat.
type TelegramSender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

// SendText sends text. telebot has no per-call context; the HTTP client timeout
// bounds the call and ctx is checked before sending.
func (s *TelegramSender) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              s.threadID,
	})
	return err
}
