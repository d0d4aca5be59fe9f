package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestService_SweepsOnStartAndInterval(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewService(Config{
		EventRetention: 24 * time.Hour,
		SweepInterval:  20 * time.Millisecond,
	}, pruner)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return pruner.calls() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), pruner.cutoffs[0], time.Minute)
}

func TestService_StopWaitsForLoop(t *testing.T) {
	pruner := &fakePruner{}
	svc := NewService(Config{
		EventRetention: 24 * time.Hour,
		SweepInterval:  time.Hour,
	}, pruner)

	svc.Start(context.Background())
	svc.Stop()

	// Stop is idempotent against a second call only after Start.
	assert.Equal(t, 1, pruner.calls())
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	assert.Equal(t, 30*24*time.Hour, cfg.EventRetention)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("EVENT_RETENTION_DAYS", "7")
	t.Setenv("RETENTION_SWEEP_INTERVAL", "10m")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, 7*24*time.Hour, cfg.EventRetention)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
}
