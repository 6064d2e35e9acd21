package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"gopkg.in/irc.v4"

	"github.com/loqalabs/chatsay/internal/config"
)

// IRCSource reads PRIVMSG lines from an IRC server such as Twitch chat.
// Registration and PING/PONG are handled by the irc client.
type IRCSource struct {
	cfg    config.IRCConfig
	log    *slog.Logger
	dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewIRCSource(cfg config.IRCConfig, log *slog.Logger) *IRCSource {
	s := &IRCSource{cfg: cfg, log: log.With(slog.String("component", "irc-source"))}
	if cfg.UseTLS {
		host, _, err := net.SplitHostPort(cfg.Server)
		if err != nil {
			host = cfg.Server
		}
		d := &tls.Dialer{Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		s.dialer = d.DialContext
	} else {
		d := &net.Dialer{Timeout: 10 * time.Second}
		s.dialer = d.DialContext
	}
	return s
}

func (s *IRCSource) Name() string { return "irc" }

func (s *IRCSource) Run(ctx context.Context, emit func(Event) error) error {
	conn, err := s.dialer(ctx, "tcp", s.cfg.Server)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Server, err)
	}
	s.log.Info("connected to irc server", slog.String("server", s.cfg.Server))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	client := irc.NewClient(conn, irc.ClientConfig{
		Nick: s.cfg.Nickname,
		Pass: s.cfg.Password,
		User: s.cfg.Nickname,
		Name: s.cfg.Nickname,
		Handler: irc.HandlerFunc(func(c *irc.Client, m *irc.Message) {
			switch m.Command {
			case "001":
				for _, channel := range s.cfg.Channels {
					if err := c.Writef("JOIN %s", channel); err != nil {
						cancel(fmt.Errorf("join %s: %w", channel, err))
						return
					}
					s.log.Info("joined channel", slog.String("channel", channel))
				}
			case "PRIVMSG":
				evt, ok := eventFromPrivmsg(m)
				if !ok {
					return
				}
				if err := emit(evt); err != nil {
					cancel(err)
				}
			}
		}),
	})

	runErr := client.RunContext(runCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cause := context.Cause(runCtx); cause != nil {
		return cause
	}
	if runErr == nil {
		runErr = errors.New("irc connection closed")
	}
	return runErr
}

// eventFromPrivmsg keeps only messages sent by a user; server-originated
// notices carry a server name prefix instead of a nickname.
func eventFromPrivmsg(m *irc.Message) (Event, bool) {
	if m.Prefix == nil || !isNickname(m.Prefix) || len(m.Params) < 2 {
		return Event{}, false
	}
	return Event{Sender: m.Prefix.Name, Text: m.Trailing()}, true
}

func isNickname(p *irc.Prefix) bool {
	if p.Name == "" {
		return false
	}
	if p.User != "" || p.Host != "" {
		return true
	}
	return !strings.Contains(p.Name, ".")
}
