package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/chatsay/internal/bus"
)

// NATSSource consumes protocol.ChatMessage payloads published on a subject,
// for chat bridges that already live on the bus.
type NATSSource struct {
	bus     *bus.Client
	subject string
	log     *slog.Logger
}

func NewNATSSource(busClient *bus.Client, subject string, log *slog.Logger) *NATSSource {
	return &NATSSource{
		bus:     busClient,
		subject: subject,
		log:     log.With(slog.String("component", "nats-source")),
	}
}

func (s *NATSSource) Name() string { return "nats" }

func (s *NATSSource) Run(ctx context.Context, emit func(Event) error) error {
	sub, err := s.bus.Conn().SubscribeSync(s.subject)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	s.log.Info("subscribed to chat subject", slog.String("subject", s.subject))

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			return err
		}
		evt, err := decodeChatMessage(msg.Data)
		if err != nil {
			return err
		}
		if err := emit(evt); err != nil {
			return err
		}
	}
}
