package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/loqalabs/chatsay/internal/chat"
	"github.com/loqalabs/chatsay/internal/tts"
)

// Result is the settled outcome of speaking one chat event.
type Result struct {
	Event    chat.Event
	VoiceID  int
	Request  tts.SpeechRequest
	Status   int
	Err      error
	Attempts int
	Elapsed  time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Attempt performs one PlayAsync call.
type Attempt func(ctx context.Context) Result

// Policy decides what to do about a failed dispatch. Whatever it decides, the
// loop moves on to the next event once Apply returns.
type Policy interface {
	Name() string
	Apply(ctx context.Context, attempt Attempt) Result
}

// NewPolicy maps a dispatch.on_failure value to a Policy.
func NewPolicy(name string, maxAttempts int, initial time.Duration, log *slog.Logger) (Policy, error) {
	switch name {
	case "log", "":
		return LogPolicy{log: log}, nil
	case "ignore":
		return IgnorePolicy{}, nil
	case "retry":
		return RetryPolicy{MaxAttempts: maxAttempts, InitialInterval: initial, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown dispatch failure policy %q", name)
	}
}

// IgnorePolicy makes a single attempt and keeps quiet about failures.
type IgnorePolicy struct{}

func (IgnorePolicy) Name() string { return "ignore" }

func (IgnorePolicy) Apply(ctx context.Context, attempt Attempt) Result {
	r := attempt(ctx)
	r.Attempts = 1
	return r
}

// LogPolicy makes a single attempt and logs a failure.
type LogPolicy struct {
	log *slog.Logger
}

func (LogPolicy) Name() string { return "log" }

func (p LogPolicy) Apply(ctx context.Context, attempt Attempt) Result {
	r := attempt(ctx)
	r.Attempts = 1
	if !r.OK() {
		p.log.Warn("speech request failed",
			slog.String("sender", r.Event.Sender),
			slog.Int("voice_id", r.VoiceID),
			slog.String("error", r.Err.Error()))
	}
	return r
}

// RetryPolicy retries transport failures and 5xx/429 answers with
// exponential backoff, up to MaxAttempts calls in total.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	log             *slog.Logger
}

func (RetryPolicy) Name() string { return "retry" }

func (p RetryPolicy) Apply(ctx context.Context, attempt Attempt) Result {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	maxTries := p.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	var (
		last     Result
		attempts int
	)
	_, err := backoff.Retry(ctx, func() (Result, error) {
		attempts++
		last = attempt(ctx)
		if last.OK() {
			return last, nil
		}
		if !retryable(last) {
			return last, backoff.Permanent(last.Err)
		}
		p.log.Debug("speech request failed, retrying",
			slog.Int("attempt", attempts),
			slog.String("error", last.Err.Error()))
		return last, last.Err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxTries)))

	last.Attempts = attempts
	if err != nil && last.Err == nil {
		last.Err = err
	}
	if !last.OK() {
		p.log.Warn("speech request failed",
			slog.String("sender", last.Event.Sender),
			slog.Int("voice_id", last.VoiceID),
			slog.Int("attempts", attempts),
			slog.String("error", last.Err.Error()))
	}
	return last
}

func retryable(r Result) bool {
	if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *tts.StatusError
	if errors.As(r.Err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	return true
}
