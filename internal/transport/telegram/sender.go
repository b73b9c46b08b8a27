// Package telegram delivers outbound text to Telegram chats. It never polls
// for updates; the service only pushes progress and log lines.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "autoreg/internal/transport"
	logx "autoreg/pkg/logx"
)

var ErrNoToken = errors.New("telegram token is empty")

type Config struct {
	Token string
	// Timeout bounds the bot API client; 0 means 10s.
	Timeout time.Duration
}

// Sender implements transport.Sender on top of telebot.
type Sender struct {
	log logx.Logger
	bot *tele.Bot
}

var _ kit.Sender = (*Sender)(nil)

// New builds the bot without starting its poller (offline skips the getMe call).
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{log: log, bot: b}, nil
}

// SendText sends text, split into chunks that fit Telegram's message limit.
func (s *Sender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			s.log.Debug("telegram send failed", logx.Int64("chat_id", to.ChatID), logx.Int("chunk", i), logx.Err(err))
			return err
		}
	}
	return nil
}
