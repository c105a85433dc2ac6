// Package twitch connects to Twitch chat over IRC. It feeds chat messages and
// USERNOTICE events into the pipeline and renders outbound lines.
package twitch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"streamhub/internal/identity"
	"streamhub/internal/sources"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

var ErrNoCredentials = errors.New("twitch username and token are required")

type Config struct {
	Username string
	// Token is the OAuth token, with or without the "oauth:" prefix.
	Token   string
	Channel string

	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
}

type (
	MessageHandler func(ctx context.Context, msg *transport.Message)
	NoticeHandler  func(ctx context.Context, n sources.Notification)
)

// ircClient is the subset of the IRC client used here.
type ircClient interface {
	Say(channel, text string)
	Reply(channel, parentMsgID, text string)
}

// Client is the chat connection. It implements transport.ChatSender.
type Client struct {
	cfg Config
	log logx.Logger
	rc  *transport.Reconnector

	mu        sync.Mutex
	irc       *irc.Client
	out       ircClient
	onMessage MessageHandler
	onNotice  NoticeHandler
}

var _ transport.ChatSender = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	cfg.Username = strings.ToLower(strings.TrimSpace(cfg.Username))
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Username == "" || cfg.Token == "" {
		return nil, ErrNoCredentials
	}
	if !strings.HasPrefix(cfg.Token, "oauth:") {
		cfg.Token = "oauth:" + cfg.Token
	}
	cfg.Channel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.Channel)), "#")
	if cfg.Channel == "" {
		cfg.Channel = cfg.Username
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.Component("twitch", logx.String("channel", cfg.Channel))
	return &Client{
		cfg: cfg,
		log: log,
		rc:  transport.NewReconnector(cfg.ReconnectDelay, cfg.ReconnectMaxDelay, log),
	}, nil
}

func (c *Client) OnMessage(fn MessageHandler) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *Client) OnNotification(fn NoticeHandler) {
	c.mu.Lock()
	c.onNotice = fn
	c.mu.Unlock()
}

// Run keeps the connection up until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.rc.Schedule(ctx, c.connect)
	<-ctx.Done()
	c.rc.Cancel()
	c.mu.Lock()
	cl := c.irc
	c.mu.Unlock()
	if cl != nil {
		_ = cl.Disconnect()
	}
	return nil
}

// connect runs one IRC session and blocks until it ends.
func (c *Client) connect(ctx context.Context) error {
	cl := irc.NewClient(c.cfg.Username, c.cfg.Token)
	cl.OnConnect(func() {
		c.rc.Reset()
		c.log.Info("chat connected")
	})
	cl.OnPrivateMessage(func(m irc.PrivateMessage) {
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, FromPrivateMessage(m))
		}
	})
	cl.OnUserNoticeMessage(func(m irc.UserNoticeMessage) {
		n, ok := FromUserNotice(m)
		if !ok {
			return
		}
		c.mu.Lock()
		fn := c.onNotice
		c.mu.Unlock()
		if fn != nil {
			fn(ctx, n)
		}
	})
	cl.Join(c.cfg.Channel)

	c.mu.Lock()
	c.irc = cl
	c.out = cl
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = cl.Disconnect() })
	defer stop()

	err := cl.Connect()
	if ctx.Err() != nil || errors.Is(err, irc.ErrClientDisconnected) {
		return nil
	}
	if err == nil {
		err = errors.New("chat connection closed")
	}
	c.log.Warn("chat disconnected", logx.Err(err), logx.Duration("retry_in", c.rc.NextDelay()))
	return err
}

func (c *Client) sender() (ircClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return nil, errors.New("chat not connected")
	}
	return c.out, nil
}

// SendAction renders text as a /me line.
func (c *Client) SendAction(_ context.Context, text string) error {
	out, err := c.sender()
	if err != nil {
		return err
	}
	out.Say(c.cfg.Channel, "\x01ACTION "+text+"\x01")
	return nil
}

// SendAnnouncement posts text as a plain line; announcements are not
// available over IRC.
func (c *Client) SendAnnouncement(_ context.Context, text string) error {
	out, err := c.sender()
	if err != nil {
		return err
	}
	out.Say(c.cfg.Channel, text)
	return nil
}

func (c *Client) SendReply(_ context.Context, to *transport.Message, text string) error {
	out, err := c.sender()
	if err != nil {
		return err
	}
	if to == nil || to.ID == "" {
		out.Say(c.cfg.Channel, text)
		return nil
	}
	out.Reply(c.cfg.Channel, to.ID, text)
	return nil
}

func chatIdentity(u irc.User) identity.ChatIdentity {
	return identity.ChatIdentity{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		Color:       u.Color,
		Badges:      u.Badges,
	}
}

// FromPrivateMessage converts an IRC chat message.
func FromPrivateMessage(m irc.PrivateMessage) *transport.Message {
	return &transport.Message{
		ID:           m.ID,
		Channel:      m.Channel,
		Text:         m.Message,
		User:         chatIdentity(m.User),
		Time:         m.Time,
		Bits:         m.Bits,
		FirstMessage: m.Tags["first-msg"] == "1",
		Tags:         m.Tags,
	}
}
