package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/chatsay/internal/chat"
	"github.com/loqalabs/chatsay/internal/config"
	"github.com/loqalabs/chatsay/internal/journal"
	"github.com/loqalabs/chatsay/internal/relay"
	"github.com/loqalabs/chatsay/internal/tts"
	"github.com/loqalabs/chatsay/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP.Enabled = false
	return cfg
}

// lines emits its events, then either ends the stream or waits for
// cancellation.
type lines struct {
	events []chat.Event
	hold   bool
}

func (l lines) Name() string { return "lines" }

func (l lines) Run(ctx context.Context, emit func(chat.Event) error) error {
	for _, evt := range l.events {
		if err := emit(evt); err != nil {
			return err
		}
	}
	if l.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type seikaServer struct {
	mu     sync.Mutex
	voices string
	posts  []string
	bodies []string
}

func (s *seikaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/AVATOR2" {
		_, _ = io.WriteString(w, s.voices)
		return
	}
	var body struct {
		TalkText string `json:"talktext"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.posts = append(s.posts, r.URL.Path)
	s.bodies = append(s.bodies, body.TalkText)
	s.mu.Unlock()
}

func (s *seikaServer) calls() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.posts...), append([]string(nil), s.bodies...)
}

func startSeika(t *testing.T, voices string) (*seikaServer, string) {
	t.Helper()
	s := &seikaServer{voices: voices}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func TestStartRelaysChatToFirstVoice(t *testing.T) {
	req := require.New(t)
	seika, url := startSeika(t, `[{"cid":3001,"name":"akari"},{"cid":3002,"name":"yukari"}]`)

	cfg := testConfig()
	cfg.Seika.URL = &url
	src := lines{events: []chat.Event{{Sender: "bob", Text: "hi"}, {Sender: "bob", Text: "bye"}}}

	rt := New(cfg, newLogger(), WithSource(src))
	req.NotEmpty(rt.RunID())
	req.NoError(rt.Start(context.Background()))

	posts, bodies := seika.calls()
	req.Equal([]string{"/PLAYASYNC2/3001", "/PLAYASYNC2/3001"}, posts)
	req.Equal([]string{"＞ bob: hi", "＞ bob: bye"}, bodies)
}

func TestStartFailsOnEmptyCatalogBeforeDispatch(t *testing.T) {
	req := require.New(t)
	seika, url := startSeika(t, `[]`)

	cfg := testConfig()
	cfg.Seika.URL = &url
	src := lines{events: []chat.Event{{Sender: "bob", Text: "hi"}}, hold: true}

	err := New(cfg, newLogger(), WithSource(src)).Start(context.Background())
	var catalogErr *voice.CatalogError
	req.ErrorAs(err, &catalogErr)
	req.ErrorIs(err, voice.ErrEmptyCatalog)

	posts, _ := seika.calls()
	req.Empty(posts)
}

func TestStartFailsOnUnusableEndpoint(t *testing.T) {
	cfg := testConfig()
	bad := "mailto:seika@example.com"
	cfg.Seika.URL = &bad

	err := New(cfg, newLogger(), WithSource(lines{hold: true})).Start(context.Background())
	var configErr *tts.ConfigError
	require.ErrorAs(t, err, &configErr)
}

// stalledSpeaker never finishes listing voices, so nothing drains the relay.
type stalledSpeaker struct{}

func (stalledSpeaker) Voices(ctx context.Context) ([]tts.Voice, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledSpeaker) PlayAsync(context.Context, int, tts.SpeechRequest) (int, error) {
	return 0, nil
}

func TestStartFailsWhenRelayOverflows(t *testing.T) {
	req := require.New(t)
	events := make([]chat.Event, relay.DefaultCapacity+1)
	for i := range events {
		events[i] = chat.Event{Sender: "spam", Text: "x"}
	}

	rt := New(testConfig(), newLogger(), WithSource(lines{events: events, hold: true}), WithSpeaker(stalledSpeaker{}))
	err := rt.Start(context.Background())

	var ingestErr *chat.IngestionError
	req.ErrorAs(err, &ingestErr)
	req.Equal("enqueue", ingestErr.Op)
	req.ErrorIs(err, relay.ErrFull)
}

func TestStartStopsCleanlyOnCancel(t *testing.T) {
	speaker := tts.NewMockSpeaker()
	ctx, cancel := context.WithCancel(context.Background())
	rt := New(testConfig(), newLogger(), WithSource(lines{events: []chat.Event{{Sender: "a", Text: "b"}}, hold: true}), WithSpeaker(speaker))

	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	require.Eventually(t, func() bool { return len(speaker.Spoken()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestStartMockMode(t *testing.T) {
	cfg := testConfig()
	cfg.Seika.Mode = "mock"
	src := lines{events: []chat.Event{{Sender: "bob", Text: "hi"}}}
	require.NoError(t, New(cfg, newLogger(), WithSource(src)).Start(context.Background()))
}

func TestStartWithBusAndJournal(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	cfg := testConfig()
	cfg.Seika.Mode = "mock"
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	cfg.Bus.HeartbeatInterval = 20
	cfg.Bus.HeartbeatTimeout = 100
	cfg.Dispatch.PublishResults = true
	cfg.EventStore.RetentionMode = "session"
	cfg.EventStore.Path = filepath.Join(dir, "chatsay.db")

	src := lines{events: []chat.Event{{Sender: "bob", Text: "hi"}, {Sender: "bob", Text: "bye"}}}
	rt := New(cfg, newLogger(), WithSource(src))
	req.NoError(rt.Start(context.Background()))

	store, err := journal.Open(context.Background(), cfg.EventStore, newLogger())
	req.NoError(err)
	t.Cleanup(func() { _ = store.Close() })
	entries, err := store.List(context.Background(), rt.RunID(), 10)
	req.NoError(err)
	req.Len(entries, 2)
	req.Equal("＞ bob: hi", entries[0].Text)
	req.Equal("＞ bob: bye", entries[1].Text)
	req.Equal(2000, entries[0].VoiceID)
	req.Equal(http.StatusOK, entries[0].Status)
}

func TestReadiness(t *testing.T) {
	req := require.New(t)
	rt := New(testConfig(), newLogger())

	rec := httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	req.Equal(http.StatusServiceUnavailable, rec.Code)

	rt.ready.Store(true)
	rec = httptest.NewRecorder()
	rt.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	req.Equal(http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	rt.handleHealth(nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	req.Equal(http.StatusOK, rec.Code)
	req.Equal("ok", rec.Body.String())
}

func TestNewLogger(t *testing.T) {
	req := require.New(t)

	var buf bytes.Buffer
	NewLogger(config.TelemetryConfig{LogLevel: "warn", LogFormat: "json"}, &buf).Info("hidden")
	req.Empty(buf.String())

	NewLogger(config.TelemetryConfig{LogLevel: "debug", LogFormat: "json"}, &buf).Debug("shown")
	var line map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &line))
	req.Equal("shown", line["msg"])

	buf.Reset()
	NewLogger(config.TelemetryConfig{LogLevel: "info", LogFormat: "text"}, &buf).Info("console line")
	req.Contains(buf.String(), "console line")
}
