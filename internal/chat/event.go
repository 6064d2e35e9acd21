package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Event is one user-authored chat line.
type Event struct {
	Sender string
	Text   string
}

// Source produces chat events from a live session. Run calls emit for every
// event in arrival order and stops with emit's error if it returns one. A nil
// return means the stream ended.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(Event) error) error
}

// Sink receives events from Ingest.
type Sink interface {
	Offer(ctx context.Context, evt Event) error
}

// IngestionError stops the ingestion task. Op is "enqueue" when the sink
// refused an event and "receive" when the source itself failed.
type IngestionError struct {
	Source string
	Op     string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("%s source %s failed: %v", e.Source, e.Op, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Ingest pumps src into sink until the stream ends, ctx is cancelled, or an
// event cannot be enqueued.
func Ingest(ctx context.Context, src Source, sink Sink, log *slog.Logger) error {
	log = log.With(slog.String("component", "ingest"), slog.String("source", src.Name()))
	log.Info("chat source starting")

	err := src.Run(ctx, func(evt Event) error {
		log.Info("chat message", slog.String("sender", evt.Sender), slog.String("text", evt.Text))
		if err := sink.Offer(ctx, evt); err != nil {
			return &IngestionError{Source: src.Name(), Op: "enqueue", Err: err}
		}
		return nil
	})

	switch {
	case err == nil:
		log.Info("chat source ended")
		return nil
	case ctx.Err() != nil:
		log.Info("chat source stopped", slog.String("reason", context.Cause(ctx).Error()))
		return nil
	}
	var ingestErr *IngestionError
	if errors.As(err, &ingestErr) {
		return err
	}
	return &IngestionError{Source: src.Name(), Op: "receive", Err: err}
}
