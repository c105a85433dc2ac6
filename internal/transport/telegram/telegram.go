// Package telegram posts stream announcements to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token  string
	ChatID int64
	// ThreadID targets a forum topic; 0 posts to the main thread.
	ThreadID int
	// URL overrides the Bot API endpoint.
	URL     string
	Timeout time.Duration
}

// Announcer sends announcements through the Bot API. It never polls for
// updates.
type Announcer struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

var _ transport.Announcer = (*Announcer)(nil)

func New(cfg Config, log logx.Logger) (*Announcer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Announcer{cfg: cfg, bot: b, log: log.Component("telegram")}, nil
}

func (a *Announcer) Name() string { return "telegram" }

// Announce sends text, split into chunks Telegram accepts.
func (a *Announcer) Announce(ctx context.Context, text string) error {
	chat := &tele.Chat{ID: a.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: a.cfg.ThreadID}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	a.log.Debug("announcement sent", logx.Int64("chat_id", a.cfg.ChatID))
	return nil
}

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries near the end of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
