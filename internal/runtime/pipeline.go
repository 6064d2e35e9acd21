package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/loqalabs/chatsay/internal/bus"
	"github.com/loqalabs/chatsay/internal/chat"
	"github.com/loqalabs/chatsay/internal/config"
	"github.com/loqalabs/chatsay/internal/dispatch"
	"github.com/loqalabs/chatsay/internal/journal"
	"github.com/loqalabs/chatsay/internal/relay"
	"github.com/loqalabs/chatsay/internal/tts"
	"github.com/loqalabs/chatsay/internal/voice"
)

const instrumentationName = "github.com/loqalabs/chatsay/runtime"

// pipeline owns the relay between the two supervised tasks and everything
// the dispatch task needs before it can start draining it.
type pipeline struct {
	cfg   config.Config
	log   *slog.Logger
	runID string

	relay    *relay.Channel
	enqueued metric.Int64Counter

	speaker       tts.Speaker
	journal       *journal.Store
	publisher     dispatch.Publisher
	onDispatching func()
}

func newPipeline(cfg config.Config, log *slog.Logger) (*pipeline, error) {
	overflow, err := relay.ParseOverflow(cfg.Relay.Overflow)
	if err != nil {
		return nil, err
	}
	relayLog := log.With(slog.String("component", "relay"))
	meter := otel.Meter(instrumentationName)

	enqueued, err := meter.Int64Counter("chatsay.relay.enqueued",
		metric.WithDescription("Chat events accepted by the relay"))
	if err != nil {
		relayLog.Warn("failed to create enqueue counter", slog.String("error", err.Error()))
		enqueued = noop.Int64Counter{}
	}
	dropped, err := meter.Int64Counter("chatsay.relay.dropped",
		metric.WithDescription("Chat events evicted by the drop_oldest policy"))
	if err != nil {
		relayLog.Warn("failed to create drop counter", slog.String("error", err.Error()))
		dropped = noop.Int64Counter{}
	}

	ch := relay.New(cfg.Relay.Capacity, overflow, relay.WithDropHook(func(evt chat.Event) {
		dropped.Add(context.Background(), 1)
		relayLog.Warn("relay full, dropped oldest event", slog.String("sender", evt.Sender))
	}))

	_, err = meter.Int64ObservableGauge("chatsay.relay.depth",
		metric.WithDescription("Chat events waiting to be spoken"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(ch.Len()))
			return nil
		}))
	if err != nil {
		relayLog.Warn("failed to create relay depth gauge", slog.String("error", err.Error()))
	}

	relayLog.Info("relay ready", slog.Int("capacity", ch.Cap()), slog.String("overflow", string(ch.Overflow())))
	return &pipeline{cfg: cfg, log: log, relay: ch, enqueued: enqueued}, nil
}

func (p *pipeline) sink() chat.Sink {
	return countingSink{ch: p.relay, enqueued: p.enqueued}
}

type countingSink struct {
	ch       *relay.Channel
	enqueued metric.Int64Counter
}

func (s countingSink) Offer(ctx context.Context, evt chat.Event) error {
	if err := s.ch.Offer(ctx, evt); err != nil {
		return err
	}
	s.enqueued.Add(ctx, 1)
	return nil
}

// dispatch resolves the speaker, loads the voice catalog and only then drains
// the relay. Catalog failures end the run before anything is spoken.
func (p *pipeline) dispatch(ctx context.Context) error {
	speaker, target := p.speaker, "injected"
	if speaker == nil {
		var err error
		if speaker, target, err = buildSpeaker(p.cfg.Seika, p.log); err != nil {
			return err
		}
	}

	catalog, err := voice.Load(ctx, speaker)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	p.log.Info("voice catalog loaded", slog.Any("cids", catalog.IDs()))

	selector, err := voice.NewSelector(voice.Strategy(p.cfg.Voice.Strategy), p.cfg.Voice.Name, catalog)
	if err != nil {
		return err
	}
	p.log.Info("voice selected", slog.String("strategy", string(selector.Strategy())))

	d := p.cfg.Dispatch
	policy, err := dispatch.NewPolicy(d.OnFailure, d.RetryMaxAttempts, time.Duration(d.RetryInitialMS)*time.Millisecond, p.log)
	if err != nil {
		return err
	}

	opts := []dispatch.Option{dispatch.WithRunID(p.runID)}
	if p.journal != nil {
		if err := p.journal.BeginRun(ctx, p.runID, target, string(selector.Strategy())); err != nil {
			p.log.Warn("failed to journal run", slog.String("error", err.Error()))
		}
		opts = append(opts, dispatch.WithRecorder(p.journal))
	}
	if p.publisher != nil {
		opts = append(opts, dispatch.WithPublisher(p.publisher))
	}

	loop := dispatch.New(speaker, selector, policy, p.log, opts...)
	if p.onDispatching != nil {
		p.onDispatching()
	}
	return loop.Run(ctx, p.relay)
}

func buildSpeaker(cfg config.SeikaConfig, log *slog.Logger) (tts.Speaker, string, error) {
	if cfg.Mode == "mock" {
		log.Warn("seika mode is mock, nothing will be spoken")
		return tts.NewMockSpeaker(), "mock", nil
	}
	endpoint, err := tts.ResolveEndpoint(cfg)
	if err != nil {
		return nil, "", err
	}
	log.Info("seika endpoint resolved", slog.String("url", endpoint.String()))
	return tts.NewSeikaClient(endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond), endpoint.String(), nil
}

// describeTarget names the endpoint a run speaks through, for presence
// announcements. Resolution errors surface later from the dispatch task.
func describeTarget(cfg config.SeikaConfig) string {
	if cfg.Mode == "mock" {
		return "mock"
	}
	endpoint, err := tts.ResolveEndpoint(cfg)
	if err != nil {
		return ""
	}
	return endpoint.String()
}

func buildSource(cfg config.ChatConfig, busClient *bus.Client, log *slog.Logger) (chat.Source, error) {
	switch cfg.Source {
	case "irc":
		return chat.NewIRCSource(cfg.IRC, log), nil
	case "websocket":
		return chat.NewWebSocketSource(cfg.WebSocket, cfg.IRC, log), nil
	case "nats":
		if busClient == nil {
			return nil, errors.New("chat source nats requires the bus")
		}
		return chat.NewNATSSource(busClient, cfg.NATS.Subject, log), nil
	case "exec":
		return chat.NewExecSource(cfg.Exec.Command, log)
	default:
		return nil, fmt.Errorf("unknown chat source %q", cfg.Source)
	}
}
