package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mc-bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	senderID := uuid.New()
	t.Setenv("MC_BRIDGE_TOKEN", "secret-key")

	path := writeConfig(t, `
hub:
  base_url: http://hub.internal:8080/
runtime:
  base_url: http://localhost:7000/
agents:
  - org_slug: acme
    sender_id: `+senderID.String()+`
state:
  path: /tmp/bridge-test.db
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Trailing slashes are trimmed so URL joins stay clean.
	assert.Equal(t, "http://hub.internal:8080", cfg.Hub.BaseURL)
	assert.Equal(t, "http://localhost:7000", cfg.Runtime.BaseURL)

	require.Len(t, cfg.Agents, 1)
	agent := cfg.Agents[0]
	assert.Equal(t, "acme", agent.OrgSlug)
	assert.Equal(t, senderID, agent.SenderID)
	assert.Equal(t, "secret-key", agent.Token)
	// Name falls back to the org slug.
	assert.Equal(t, "acme", agent.Name)

	// Defaults.
	assert.Equal(t, DefaultHeartbeatTimeout, cfg.HeartbeatTimeout)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultOutboundQueueCap, cfg.OutboundQueueCap)
	assert.Equal(t, DefaultHealthAddr, cfg.Health.Addr)
}

func TestLoadConfig_MultipleAgents(t *testing.T) {
	t.Setenv("ACME_TOKEN", "acme-secret")
	t.Setenv("GLOBEX_TOKEN", "globex-secret")

	path := writeConfig(t, `
hub:
  base_url: http://localhost:8080
agents:
  - name: acme-bot
    org_slug: acme
    sender_id: `+uuid.NewString()+`
    token_env: ACME_TOKEN
  - name: globex-bot
    org_slug: globex
    sender_id: `+uuid.NewString()+`
    token_env: GLOBEX_TOKEN
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "acme-secret", cfg.Agents[0].Token)
	assert.Equal(t, "globex-secret", cfg.Agents[1].Token)
	assert.Equal(t, "globex-bot", cfg.Agents[1].Name)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("MC_BRIDGE_TOKEN", "secret")

	path := writeConfig(t, `
hub:
  base_url: http://localhost:8080
agents:
  - org_slug: acme
    sender_id: `+uuid.NewString()+`
heartbeat_timeout: 2m
shutdown_timeout: 30s
outbound_queue_cap: 50
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.OutboundQueueCap)
}

func TestLoadConfig_MissingToken(t *testing.T) {
	t.Setenv("MC_BRIDGE_TOKEN", "")

	path := writeConfig(t, `
hub:
  base_url: http://localhost:8080
agents:
  - org_slug: acme
    sender_id: `+uuid.NewString()+`
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MC_BRIDGE_TOKEN")
}

func TestLoadConfig_MissingRequiredFields(t *testing.T) {
	t.Setenv("MC_BRIDGE_TOKEN", "secret")

	tests := []struct {
		name string
		yaml string
	}{
		{"no base url", "agents:\n  - org_slug: acme\n    sender_id: " + uuid.NewString()},
		{"no agents", "hub:\n  base_url: http://x"},
		{"no org slug", "hub:\n  base_url: http://x\nagents:\n  - sender_id: " + uuid.NewString()},
		{"no sender id", "hub:\n  base_url: http://x\nagents:\n  - org_slug: acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
