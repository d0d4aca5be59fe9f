// Package cleanup enforces event log retention.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// EventPruner deletes events older than a cutoff.
type EventPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds retention settings.
type Config struct {
	// EventRetention is how long events stay in the durable log.
	EventRetention time.Duration
	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration
}

// LoadConfigFromEnv loads retention configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		EventRetention: 30 * 24 * time.Hour,
		SweepInterval:  time.Hour,
	}
	if raw := os.Getenv("EVENT_RETENTION_DAYS"); raw != "" {
		if days, err := strconv.Atoi(raw); err == nil && days > 0 {
			cfg.EventRetention = time.Duration(days) * 24 * time.Hour
		}
	}
	if raw := os.Getenv("RETENTION_SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	return cfg
}

// Service periodically prunes events past the retention window. Deletion
// is idempotent and safe to run from multiple instances; replay cursors
// older than the window resolve to a reset frame on the next reconnect.
type Service struct {
	config Config
	events EventPruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper.
func NewService(cfg Config, events EventPruner) *Service {
	return &Service{config: cfg, events: events}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"event_retention", s.config.EventRetention,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.EventRetention)
	count, err := s.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event prune failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old events", "count", count, "cutoff", cutoff)
	}
}
