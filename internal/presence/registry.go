package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/chatsay/internal/bus"
	"github.com/loqalabs/chatsay/internal/protocol"
)

// Instance is a relay process seen on the bus.
type Instance struct {
	RunID      string
	Name       string
	Source     string
	Target     string
	QueueDepth int
	LastSeen   time.Time
	Healthy    bool
}

// Options describe the local instance and its heartbeat cadence.
type Options struct {
	Self       Instance
	Interval   time.Duration
	Timeout    time.Duration
	QueueDepth func() int
}

// Registry announces this relay on the bus and tracks the others. A peer that
// targets the same SeikaSay2 endpoint is logged as a warning.
type Registry struct {
	opts  Options
	log   *slog.Logger
	bus   *bus.Client
	clock func() time.Time

	mu        sync.RWMutex
	instances map[string]*Instance

	cancel  context.CancelFunc
	done    sync.WaitGroup
	subs    []*nats.Subscription
	metrics metric.Registration
}

func New(ctx context.Context, opts Options, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	if opts.QueueDepth == nil {
		opts.QueueDepth = func() int { return 0 }
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= opts.Interval {
		opts.Timeout = 3 * opts.Interval
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		opts:      opts,
		log:       log.With(slog.String("component", "presence")),
		bus:       busClient,
		clock:     time.Now,
		instances: make(map[string]*Instance),
		cancel:    cancel,
	}
	self := opts.Self
	self.Healthy = true
	self.LastSeen = r.clock()
	r.instances[self.RunID] = &self

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	r.done.Add(2)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce instance", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.done.Wait()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	if r.metrics != nil {
		_ = r.metrics.Unregister()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectInstanceAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectInstanceHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	defer r.done.Done()
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.done.Done()
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	s := r.opts.Self
	return r.bus.PublishJSON(protocol.SubjectInstanceAnnounce, protocol.InstanceAnnounce{
		RunID:     s.RunID,
		Name:      s.Name,
		Source:    s.Source,
		Target:    s.Target,
		Timestamp: r.clock().UTC(),
	})
}

func (r *Registry) publishHeartbeat() error {
	return r.bus.PublishJSON(protocol.SubjectInstanceHeartbeat+"."+r.opts.Self.RunID, protocol.InstanceHeartbeat{
		RunID:      r.opts.Self.RunID,
		QueueDepth: r.opts.QueueDepth(),
		Timestamp:  r.clock().UTC(),
	})
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.InstanceAnnounce
	if err := json.Unmarshal(msg.Data, &a); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if a.RunID == "" || a.RunID == r.opts.Self.RunID {
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.clock().UTC()
	}

	r.mu.Lock()
	inst, known := r.instances[a.RunID]
	if !known {
		inst = &Instance{RunID: a.RunID}
		r.instances[a.RunID] = inst
	}
	inst.Name, inst.Source, inst.Target = a.Name, a.Source, a.Target
	inst.LastSeen, inst.Healthy = a.Timestamp, true
	r.mu.Unlock()

	if a.Target != "" && a.Target == r.opts.Self.Target {
		r.log.Warn("another relay speaks through the same endpoint",
			slog.String("peer_run_id", a.RunID),
			slog.String("peer_source", a.Source),
			slog.String("target", a.Target))
	}
	// Newcomers have not heard our own announcement yet.
	if !known {
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce instance", slog.String("error", err.Error()))
		}
	}
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.InstanceHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.RunID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[hb.RunID]
	if !ok {
		inst = &Instance{RunID: hb.RunID}
		r.instances[hb.RunID] = inst
	}
	inst.QueueDepth = hb.QueueDepth
	inst.LastSeen = hb.Timestamp
	inst.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	for id, inst := range r.instances {
		if id == r.opts.Self.RunID {
			inst.LastSeen = now
			continue
		}
		if now.Sub(inst.LastSeen) > r.opts.Timeout {
			inst.Healthy = false
		}
	}
}

// Peers lists the other relays seen so far, ordered by run id.
func (r *Registry) Peers() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := lo.FilterMap(lo.Values(r.instances), func(inst *Instance, _ int) (Instance, bool) {
		return *inst, inst.RunID != r.opts.Self.RunID
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].RunID < peers[j].RunID })
	return peers
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/chatsay/presence")
	gauge, err := meter.Int64ObservableGauge("chatsay.instances.healthy",
		metric.WithDescription("Relays with a recent heartbeat, including this one"))
	if err != nil {
		return err
	}
	r.metrics, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		defer r.mu.RUnlock()
		healthy := lo.CountBy(lo.Values(r.instances), func(inst *Instance) bool { return inst.Healthy })
		obs.ObserveInt64(gauge, int64(healthy))
		return nil
	}, gauge)
	return err
}
