package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/chatsay/internal/bus"
	"github.com/loqalabs/chatsay/internal/chat"
	"github.com/loqalabs/chatsay/internal/config"
	"github.com/loqalabs/chatsay/internal/journal"
	"github.com/loqalabs/chatsay/internal/natsserver"
	"github.com/loqalabs/chatsay/internal/presence"
	"github.com/loqalabs/chatsay/internal/tts"
)

// Runtime supervises one chat source feeding one speech dispatcher. Either
// task failing stops the other; there is no restart.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	source  chat.Source
	speaker tts.Speaker

	httpServer    *http.Server
	metricsServer *http.Server
	ready         atomic.Bool
	wg            sync.WaitGroup
}

type Option func(*Runtime)

// WithSource replaces the configured chat source.
func WithSource(src chat.Source) Option { return func(r *Runtime) { r.source = src } }

// WithSpeaker replaces the SeikaSay2 client built from the seika section.
func WithSpeaker(sp tts.Speaker) Option { return func(r *Runtime) { r.speaker = sp } }

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID identifies this process run in logs, the journal and bus events.
func (r *Runtime) RunID() string { return r.runID }

// Start runs until ctx is cancelled, the chat stream ends and is spoken, or
// either task fails. Cancellation is a clean stop and returns nil.
func (r *Runtime) Start(ctx context.Context) error {
	logger := r.logger.With(slog.String("run_id", r.runID))

	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	var busClient *bus.Client
	if busCfg.Enabled {
		busClient, err = bus.Connect(busCfg, r.cfg.RuntimeName, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	store, err := journal.Open(ctx, r.cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	src := r.source
	if src == nil {
		if src, err = buildSource(r.cfg.Chat, busClient, logger); err != nil {
			return err
		}
	}

	p, err := newPipeline(r.cfg, logger)
	if err != nil {
		return err
	}

	if busClient != nil {
		peers, err := presence.New(ctx, presence.Options{
			Self: presence.Instance{
				RunID:  r.runID,
				Name:   r.cfg.RuntimeName,
				Source: src.Name(),
				Target: describeTarget(r.cfg.Seika),
			},
			Interval:   time.Duration(busCfg.HeartbeatInterval) * time.Millisecond,
			Timeout:    time.Duration(busCfg.HeartbeatTimeout) * time.Millisecond,
			QueueDepth: p.relay.Len,
		}, busClient, logger)
		if err != nil {
			return fmt.Errorf("failed to start presence: %w", err)
		}
		defer peers.Close()
	}

	r.startHTTP(logger, busClient, metricsHandler)
	defer r.stopHTTP(logger)
	p.runID = r.runID
	p.speaker = r.speaker
	p.journal = store
	if busClient != nil && r.cfg.Dispatch.PublishResults {
		p.publisher = busClient
	}
	p.onDispatching = func() { r.ready.Store(true) }

	logger.Info("runtime started", slog.String("source", src.Name()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.relay.Close()
		return chat.Ingest(gctx, src, p.sink(), logger)
	})
	g.Go(func() error {
		return p.dispatch(gctx)
	})
	err = g.Wait()
	r.ready.Store(false)
	logger.Info("runtime stopping")
	return err
}

func (r *Runtime) startHTTP(logger *slog.Logger, busClient *bus.Client, metrics http.Handler) {
	if r.cfg.HTTP.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", r.handleHealth(busClient))
		mux.HandleFunc("/readyz", r.handleReady)
		if metrics != nil {
			mux.Handle("/metrics", metrics)
		}
		addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
		r.httpServer = r.serve(logger, addr, mux)
	}

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		r.metricsServer = r.serve(logger, bind, mux)
	}
}

func (r *Runtime) serve(logger *slog.Logger, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	logger.Info("http server listening", slog.String("addr", addr))
	return srv
}

func (r *Runtime) stopHTTP(logger *slog.Logger) {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
}

func (r *Runtime) handleHealth(busClient *bus.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if busClient != nil && !busClient.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("bus disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
