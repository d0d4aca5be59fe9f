// Package bridge implements the Comms Bridge: a sidecar process that
// streams hub events to a local agent runtime and relays the agents'
// outbound messages back through the hub's REST API.
package bridge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Default tunables, overridable in the config file.
const (
	DefaultHeartbeatTimeout = 90 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultOutboundQueueCap = 1000
	DefaultHealthAddr       = ":9090"
)

// AgentConfig is one bridged agent identity. Tokens are resolved from
// the environment so the file can be committed.
type AgentConfig struct {
	Name    string `yaml:"name"`
	OrgSlug string `yaml:"org_slug"`

	// SenderID is the agent's hub user id. Events carrying it as sender
	// are dropped to prevent relay loops.
	SenderID uuid.UUID `yaml:"sender_id"`

	TokenEnv string `yaml:"token_env"`
	// Token is resolved from TokenEnv at load time, never set in YAML.
	Token string `yaml:"-"`

	// DefaultChannelID receives outbound messages with no session
	// mapping.
	DefaultChannelID uuid.UUID `yaml:"default_channel_id"`
}

// Config is the bridge configuration, loaded from a YAML file.
type Config struct {
	Hub struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"hub"`

	Runtime struct {
		// BaseURL of the agent runtime gateway. Empty means inbound
		// traffic is logged instead of forwarded.
		BaseURL string `yaml:"base_url"`
	} `yaml:"runtime"`

	Agents []AgentConfig `yaml:"agents"`

	State struct {
		// Path is the sqlite file holding session mappings and cursors.
		Path string `yaml:"path"`
	} `yaml:"state"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	OutboundQueueCap int           `yaml:"outbound_queue_cap"`
}

// LoadConfig reads and validates the bridge configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.OutboundQueueCap <= 0 {
		cfg.OutboundQueueCap = DefaultOutboundQueueCap
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = DefaultHealthAddr
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "mc-bridge.db"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Hub.BaseURL == "" {
		return fmt.Errorf("hub.base_url is required")
	}
	c.Hub.BaseURL = strings.TrimRight(c.Hub.BaseURL, "/")
	c.Runtime.BaseURL = strings.TrimRight(c.Runtime.BaseURL, "/")

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.OrgSlug == "" {
			return fmt.Errorf("agents[%d].org_slug is required", i)
		}
		if a.SenderID == uuid.Nil {
			return fmt.Errorf("agents[%d].sender_id is required", i)
		}
		if a.Name == "" {
			a.Name = a.OrgSlug
		}
		if a.TokenEnv == "" {
			a.TokenEnv = "MC_BRIDGE_TOKEN"
		}
		a.Token = os.Getenv(a.TokenEnv)
		if a.Token == "" {
			return fmt.Errorf("token for agent %q is not set, export %s", a.Name, a.TokenEnv)
		}
	}
	return nil
}
