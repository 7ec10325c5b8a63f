// Package config loads server.yaml.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"fioworld.ai/internal/identity"
	"fioworld.ai/internal/sim/policy"
)

type Config struct {
	Addr           string `yaml:"addr"`
	DataDir        string `yaml:"data_dir"`
	DefaultWorldID string `yaml:"default_world_id"`
	GroundRadius   int    `yaml:"ground_radius"`

	RateLimits RateLimits `yaml:"rate_limits"`

	SnapshotEverySeconds int `yaml:"snapshot_every_seconds"`
	MemoSweepSeconds     int `yaml:"memo_sweep_seconds"`

	Worlds    []WorldSpec    `yaml:"worlds,omitempty"`
	AgentKeys []AgentKeySpec `yaml:"agent_keys,omitempty"`
}

// RateLimits are requests per minute per actor class. The IP limit applies
// per inbound frame at the transport, scaled by 10 to stay out of the way of
// chatty-but-honest clients.
type RateLimits struct {
	AgentPerMinute int `yaml:"agent_per_minute"`
	UserPerMinute  int `yaml:"user_per_minute"`
	IPPerMinute    int `yaml:"ip_per_minute"`
}

type WorldSpec struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	GroundRadius int    `yaml:"ground_radius"`
	ProposalMode bool   `yaml:"proposal_mode"`
}

type AgentKeySpec struct {
	Key         string          `yaml:"key"`
	Name        string          `yaml:"name"`
	WorldID     string          `yaml:"world_id"`
	Role        string          `yaml:"role"`
	Permissions []string        `yaml:"permissions,omitempty"`
	Quotas      identity.Quotas `yaml:"quotas,omitempty"`
}

// Load reads path if non-empty, otherwise returns defaults. The result is
// normalized and validated.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("server.yaml: %w", err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Addr:           ":8080",
		DataDir:        "./data",
		DefaultWorldID: "default",
		GroundRadius:   3,
		RateLimits: RateLimits{
			AgentPerMinute: 120,
			UserPerMinute:  60,
			IPPerMinute:    30,
		},
		SnapshotEverySeconds: 600,
		MemoSweepSeconds:     300,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	d := defaults()
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = d.Addr
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = d.DataDir
	}
	if strings.TrimSpace(c.DefaultWorldID) == "" {
		c.DefaultWorldID = d.DefaultWorldID
	}
	if c.GroundRadius <= 0 {
		c.GroundRadius = d.GroundRadius
	}
	if c.RateLimits.AgentPerMinute <= 0 {
		c.RateLimits.AgentPerMinute = d.RateLimits.AgentPerMinute
	}
	if c.RateLimits.UserPerMinute <= 0 {
		c.RateLimits.UserPerMinute = d.RateLimits.UserPerMinute
	}
	if c.RateLimits.IPPerMinute <= 0 {
		c.RateLimits.IPPerMinute = d.RateLimits.IPPerMinute
	}
	if c.SnapshotEverySeconds <= 0 {
		c.SnapshotEverySeconds = d.SnapshotEverySeconds
	}
	if c.MemoSweepSeconds <= 0 {
		c.MemoSweepSeconds = d.MemoSweepSeconds
	}
	for i := range c.Worlds {
		if c.Worlds[i].GroundRadius <= 0 {
			c.Worlds[i].GroundRadius = c.GroundRadius
		}
		if strings.TrimSpace(c.Worlds[i].Name) == "" {
			c.Worlds[i].Name = c.Worlds[i].ID
		}
	}
	for i := range c.AgentKeys {
		if strings.TrimSpace(c.AgentKeys[i].Role) == "" {
			c.AgentKeys[i].Role = policy.RoleAgent
		}
		if len(c.AgentKeys[i].Permissions) == 0 {
			c.AgentKeys[i].Permissions = []string{policy.CapRead, policy.CapWrite}
		}
		if strings.TrimSpace(c.AgentKeys[i].WorldID) == "" {
			c.AgentKeys[i].WorldID = c.DefaultWorldID
		}
	}
}

func (c Config) Validate() error {
	seen := map[string]bool{}
	for _, w := range c.Worlds {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("worlds: id must not be empty")
		}
		if seen[w.ID] {
			return fmt.Errorf("worlds: duplicate id %q", w.ID)
		}
		seen[w.ID] = true
	}
	keys := map[string]bool{}
	for i, k := range c.AgentKeys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("agent_keys[%d]: key must not be empty", i)
		}
		if keys[k.Key] {
			return fmt.Errorf("agent_keys[%d]: duplicate key", i)
		}
		keys[k.Key] = true
		if strings.TrimSpace(k.Name) == "" {
			return fmt.Errorf("agent_keys[%d]: name must not be empty", i)
		}
		if !policy.Known(k.Role) {
			return fmt.Errorf("agent_keys[%d]: unknown role %q", i, k.Role)
		}
	}
	return nil
}

// IdentityStore builds the static credential store from the configured agent
// keys.
func (c Config) IdentityStore() *identity.StaticStore {
	s := identity.NewStaticStore()
	for i, k := range c.AgentKeys {
		s.Add(k.Key, identity.Identity{
			ActorID:     fmt.Sprintf("agent-%d", i+1),
			Name:        k.Name,
			WorldID:     k.WorldID,
			Role:        k.Role,
			Permissions: k.Permissions,
			Quotas:      k.Quotas,
		})
	}
	return s
}
