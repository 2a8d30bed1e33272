package alert

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v3"
)

// TelegramSink pushes alerts to a single authorized chat. It never
// polls for updates: this is a send-only sink, so no handler
// registration or long-poller is started.
type TelegramSink struct {
	bot          *tele.Bot
	authorizedID int64
}

// NewTelegramSink builds a push-only Telegram sink.
func NewTelegramSink(token string, authorizedID int64) (*TelegramSink, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: nil,
		Client: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("alert: telegram bot init: %w", err)
	}
	return &TelegramSink{bot: bot, authorizedID: authorizedID}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, a Alert) error {
	done := make(chan error, 1)
	go func() {
		icon := "ℹ️"
		switch a.Severity {
		case SeverityWarning:
			icon = "⚠️"
		case SeverityCritical:
			icon = "\U0001F6A8"
		}
		msg := fmt.Sprintf("%s *%s*\n%s\n\n%s", icon, a.Strategy, a.Message, a.CreatedAt.Format(time.RFC3339))
		_, err := s.bot.Send(&tele.User{ID: s.authorizedID}, msg, tele.ModeMarkdown)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
