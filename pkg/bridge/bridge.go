package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// agentUnit bundles the per-agent components: a stream, a router and an
// outbound relay bound to that agent's hub credential.
type agentUnit struct {
	cfg    AgentConfig
	hub    *HubClient
	relay  *Relay
	router *Router
	sse    *SSEClient
}

// Bridge wires the per-agent units, the shared state store and the
// health/metrics endpoint into one process and owns their lifecycle.
type Bridge struct {
	cfg     *Config
	state   *StateStore
	units   []*agentUnit
	metrics *Metrics
	logger  *slog.Logger

	startedAt time.Time
	health    *http.Server
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New assembles a bridge from config. runtime receives inbound traffic
// for every configured agent.
func New(cfg *Config, runtime Deliverer, logger *slog.Logger) (*Bridge, error) {
	state, err := OpenStateStore(cfg.State.Path)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:       cfg,
		state:     state,
		logger:    logger,
		startedAt: time.Now(),
	}

	reg := prometheus.NewRegistry()
	b.metrics = NewMetrics(reg,
		func() float64 { return time.Since(b.startedAt).Seconds() },
		func() float64 {
			n := 0
			for _, u := range b.units {
				if u.sse.State() == StateStreaming {
					n++
				}
			}
			return float64(n)
		})

	for _, agent := range cfg.Agents {
		agent := agent
		unitLogger := logger.With("agent", agent.Name)

		hub := NewHubClient(cfg.Hub.BaseURL, agent)
		relay := NewRelay(hub, cfg.OutboundQueueCap, b.metrics, unitLogger)
		router := NewRouter(agent, state, hub, relay, runtime, b.metrics, unitLogger)

		unit := &agentUnit{cfg: agent, hub: hub, relay: relay, router: router}
		unit.sse = NewSSEClient(cfg.Hub.BaseURL, agent, cfg.HeartbeatTimeout,
			func() string { return b.lastEventID(agent) },
			router.HandleEvent,
			unitLogger)
		b.units = append(b.units, unit)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", b.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	b.health = &http.Server{
		Addr:              cfg.Health.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return b, nil
}

// Run starts all components and blocks until ctx is cancelled, then shuts
// down within the configured timeout.
func (b *Bridge) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	for _, unit := range b.units {
		unit := unit
		unit.relay.Start(runCtx)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			unit.sse.Run(runCtx)
		}()
	}

	go func() {
		b.logger.Info("Bridge health endpoint listening", "addr", b.cfg.Health.Addr)
		if err := b.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.logger.Error("Health server error", "error", err)
		}
	}()

	b.logger.Info("Bridge started",
		"hub", b.cfg.Hub.BaseURL, "agents", len(b.units))

	<-ctx.Done()
	return b.shutdown()
}

func (b *Bridge) shutdown() error {
	b.logger.Info("Bridge shutting down", "timeout", b.cfg.ShutdownTimeout)
	deadline := time.Now().Add(b.cfg.ShutdownTimeout)

	// Flush the outbound queues first so agent messages are not lost.
	for _, unit := range b.units {
		unit.relay.Stop(time.Until(deadline))
	}

	b.cancel()
	streamsDone := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(streamsDone)
	}()
	select {
	case <-streamsDone:
	case <-time.After(time.Until(deadline)):
		b.logger.Warn("Streams did not stop before the shutdown deadline")
	}

	healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.health.Shutdown(healthCtx); err != nil {
		b.logger.Warn("Health server shutdown error", "error", err)
	}

	if err := b.state.Close(); err != nil {
		b.logger.Warn("State store close error", "error", err)
	}

	b.logger.Info("Bridge shutdown complete")
	return nil
}

// lastEventID reads the persisted cursor for one agent's stream resume.
func (b *Bridge) lastEventID(agent AgentConfig) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seq, err := b.state.Cursor(ctx, agent.SenderID.String())
	if err != nil || seq <= 0 {
		return ""
	}
	return strconv.FormatInt(seq, 10)
}

func (b *Bridge) healthHandler(w http.ResponseWriter, _ *http.Request) {
	streams := map[string]string{}
	queued := 0
	degraded := false
	for _, unit := range b.units {
		state := unit.sse.State()
		streams[unit.cfg.Name] = state
		queued += unit.relay.QueueLen()
		if state == StateDisconnected {
			degraded = true
		}
	}

	status := map[string]any{
		"status":         "ok",
		"streams":        streams,
		"outbound_queue": queued,
		"uptime_seconds": int(time.Since(b.startedAt).Seconds()),
	}
	if degraded {
		status["status"] = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
