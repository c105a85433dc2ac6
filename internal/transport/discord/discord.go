// Package discord posts stream announcements to a Discord channel.
package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

// Discord rejects message content above this many characters.
const contentLimit = 2000

type Config struct {
	Token     string
	ChannelID string
	// Client overrides the HTTP client used for REST calls.
	Client *http.Client
}

// Announcer sends plain messages over the REST API; it does not open a
// gateway session.
type Announcer struct {
	session   *discordgo.Session
	channelID string
	log       logx.Logger
}

var _ transport.Announcer = (*Announcer)(nil)

func New(cfg Config, log logx.Logger) (*Announcer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, errors.New("discord channel_id is empty")
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.Client != nil {
		s.Client = cfg.Client
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Announcer{session: s, channelID: cfg.ChannelID, log: log.Component("discord")}, nil
}

func (a *Announcer) Name() string { return "discord" }

// Announce posts text with mentions disabled.
func (a *Announcer) Announce(ctx context.Context, text string) error {
	if r := []rune(text); len(r) > contentLimit {
		text = string(r[:contentLimit-1]) + "…"
	}
	_, err := a.session.ChannelMessageSendComplex(a.channelID, &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	a.log.Debug("announcement sent", logx.String("channel_id", a.channelID))
	return nil
}

// Close releases the session.
func (a *Announcer) Close() error {
	return a.session.Close()
}
