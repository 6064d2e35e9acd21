package dispatch

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/chatsay/internal/chat"
	"github.com/loqalabs/chatsay/internal/journal"
	"github.com/loqalabs/chatsay/internal/protocol"
	"github.com/loqalabs/chatsay/internal/tts"
	"github.com/loqalabs/chatsay/internal/voice"
)

const instrumentationName = "github.com/loqalabs/chatsay/dispatch"

// Arrow leads every spoken line.
const Arrow = "＞"

// FormatText renders the line read aloud for evt. Content is passed through
// untouched.
func FormatText(evt chat.Event) string {
	return Arrow + " " + evt.Sender + ": " + evt.Text
}

// BuildRequest turns evt into a PLAYASYNC2 body using the voice's own
// effect and emotion settings.
func BuildRequest(evt chat.Event) tts.SpeechRequest {
	return tts.SpeechRequest{Text: FormatText(evt)}
}

// Receiver is the consuming end of the relay.
type Receiver interface {
	Receive(ctx context.Context) (chat.Event, bool, error)
}

// Recorder persists settled dispatches.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Publisher announces settled dispatches on the bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Loop speaks relay events one at a time, in the order received.
type Loop struct {
	speaker   tts.Speaker
	voices    voice.Selector
	policy    Policy
	recorder  Recorder
	publisher Publisher
	runID     string
	log       *slog.Logger
	tracer    trace.Tracer

	dispatched metric.Int64Counter
	latency    metric.Float64Histogram
}

type Option func(*Loop)

func WithRecorder(r Recorder) Option { return func(l *Loop) { l.recorder = r } }

func WithPublisher(p Publisher) Option { return func(l *Loop) { l.publisher = p } }

func WithRunID(id string) Option { return func(l *Loop) { l.runID = id } }

func New(speaker tts.Speaker, voices voice.Selector, policy Policy, log *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		speaker: speaker,
		voices:  voices,
		policy:  policy,
		log:     log.With(slog.String("component", "dispatch")),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.initMetrics()
	return l
}

func (l *Loop) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if l.dispatched, err = meter.Int64Counter("chatsay.speech.dispatched",
		metric.WithDescription("Speech requests settled, by outcome")); err != nil {
		l.log.Warn("failed to create dispatch counter", slog.String("error", err.Error()))
	}
	if l.latency, err = meter.Float64Histogram("chatsay.speech.duration",
		metric.WithDescription("Time spent settling one speech request"),
		metric.WithUnit("s")); err != nil {
		l.log.Warn("failed to create dispatch histogram", slog.String("error", err.Error()))
	}
}

// Run drains in until it is closed and empty or ctx is cancelled. Failed
// speech requests never stop the loop.
func (l *Loop) Run(ctx context.Context, in Receiver) error {
	l.log.Info("dispatch loop started", slog.String("policy", l.policy.Name()), slog.String("voice_strategy", string(l.voices.Strategy())))
	for {
		evt, ok, err := in.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("dispatch loop stopped")
				return nil
			}
			return err
		}
		if !ok {
			l.log.Info("relay closed, dispatch loop finished")
			return nil
		}
		l.Dispatch(ctx, evt)
	}
}

// Dispatch speaks a single event and reports the settled result.
func (l *Loop) Dispatch(ctx context.Context, evt chat.Event) Result {
	v := l.voices.Next()
	req := BuildRequest(evt)

	ctx, span := l.tracer.Start(ctx, "chatsay.dispatch", trace.WithAttributes(
		attribute.Int("seika.voice_id", v.ID),
		attribute.String("chat.sender", evt.Sender),
	))
	defer span.End()

	start := time.Now()
	res := l.policy.Apply(ctx, func(ctx context.Context) Result {
		status, err := l.speaker.PlayAsync(ctx, v.ID, req)
		return Result{Event: evt, VoiceID: v.ID, Request: req, Status: status, Err: err}
	})
	res.Elapsed = time.Since(start)

	outcome := "ok"
	if res.OK() {
		span.SetStatus(codes.Ok, "")
		l.log.Debug("speech request sent", slog.Int("voice_id", v.ID), slog.Int("status", res.Status))
	} else {
		outcome = "failed"
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if l.dispatched != nil {
		l.dispatched.Add(ctx, 1, attrs)
	}
	if l.latency != nil {
		l.latency.Record(ctx, res.Elapsed.Seconds(), attrs)
	}

	l.report(ctx, res)
	return res
}

func (l *Loop) report(ctx context.Context, res Result) {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	if l.recorder != nil {
		err := l.recorder.Record(ctx, journal.Entry{
			RunID:    l.runID,
			Sender:   res.Event.Sender,
			Text:     res.Request.Text,
			VoiceID:  res.VoiceID,
			Status:   res.Status,
			Attempts: res.Attempts,
			Error:    errText,
		})
		if err != nil {
			l.log.Warn("failed to journal dispatch", slog.String("error", err.Error()))
		}
	}
	if l.publisher != nil {
		err := l.publisher.PublishJSON(protocol.SubjectSpeechDispatched, protocol.SpeechDispatched{
			RunID:     l.runID,
			Sender:    res.Event.Sender,
			Text:      res.Event.Text,
			TalkText:  res.Request.Text,
			VoiceID:   res.VoiceID,
			Status:    res.Status,
			Attempts:  res.Attempts,
			Error:     errText,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			l.log.Warn("failed to publish dispatch result", slog.String("error", err.Error()))
		}
	}
}
