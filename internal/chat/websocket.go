package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	ws "github.com/gorilla/websocket"
	"gopkg.in/irc.v4"

	"github.com/loqalabs/chatsay/internal/config"
	"github.com/loqalabs/chatsay/internal/protocol"
)

// WebSocketSource reads chat lines from a websocket feed. With format "json"
// every text frame is a protocol.ChatMessage; with format "irc" frames carry
// raw IRC lines (Twitch's IRC-over-WebSocket endpoint) and the source
// registers with the IRC settings.
type WebSocketSource struct {
	cfg    config.WebSocketConfig
	irc    config.IRCConfig
	log    *slog.Logger
	dialer *ws.Dialer
}

func NewWebSocketSource(cfg config.WebSocketConfig, ircCfg config.IRCConfig, log *slog.Logger) *WebSocketSource {
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	return &WebSocketSource{
		cfg:    cfg,
		irc:    ircCfg,
		log:    log.With(slog.String("component", "websocket-source")),
		dialer: ws.DefaultDialer,
	}
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Run(ctx context.Context, emit func(Event) error) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()
	s.log.Info("connected to websocket feed", slog.String("url", s.cfg.URL), slog.String("format", s.cfg.Format))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.cfg.Format == "irc" {
		if err := s.register(conn); err != nil {
			return err
		}
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				return nil
			}
			return err
		}
		if s.cfg.Format == "irc" {
			err = s.handleIRCFrame(conn, frame, emit)
		} else {
			err = handleJSONFrame(frame, emit)
		}
		if err != nil {
			return err
		}
	}
}

func (s *WebSocketSource) register(conn *ws.Conn) error {
	var lines []string
	if s.irc.Password != "" {
		lines = append(lines, "PASS "+s.irc.Password)
	}
	lines = append(lines, "NICK "+s.irc.Nickname)
	for _, channel := range s.irc.Channels {
		lines = append(lines, "JOIN "+channel)
	}
	for _, line := range lines {
		if err := conn.WriteMessage(ws.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("irc registration: %w", err)
		}
	}
	return nil
}

func (s *WebSocketSource) handleIRCFrame(conn *ws.Conn, frame []byte, emit func(Event) error) error {
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		m, err := irc.ParseMessage(line)
		if err != nil {
			return fmt.Errorf("malformed irc line %q: %w", line, err)
		}
		switch m.Command {
		case "PING":
			if err := conn.WriteMessage(ws.TextMessage, []byte("PONG :"+m.Trailing())); err != nil {
				return err
			}
		case "PRIVMSG":
			if evt, ok := eventFromPrivmsg(m); ok {
				if err := emit(evt); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func handleJSONFrame(frame []byte, emit func(Event) error) error {
	evt, err := decodeChatMessage(frame)
	if err != nil {
		return err
	}
	return emit(evt)
}

var errMissingSender = errors.New("chat message has no sender")

func decodeChatMessage(data []byte) (Event, error) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("malformed chat message: %w", err)
	}
	if msg.Sender == "" {
		return Event{}, errMissingSender
	}
	return Event{Sender: msg.Sender, Text: msg.Text}, nil
}
