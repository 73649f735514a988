// Package config loads the runtime's YAML configuration: inference engine
// hints, agent parameters, tool capability mask, memory store path, and
// the MCP servers to federate. Grounded on the teacher's
// internal/config/config.go struct-per-concern layout, standardized on
// yaml.v3 (the teacher's own top-level go.mod already requires v3; some
// teacher files stray to v2, which this module does not reproduce).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EngineConfig configures the inference Engine (spec.md §4.1).
type EngineConfig struct {
	Threads         int  `yaml:"threads"`
	AcceleratorTier int  `yaml:"accelerator_tier"`
	Verbose         bool `yaml:"verbose"`
}

// AgentConfig configures Agent Core parameters (spec.md §4.7).
type AgentConfig struct {
	MaxSteps         int     `yaml:"max_steps"`
	MaxTokensPerStep int     `yaml:"max_tokens_per_step"`
	Temperature      float64 `yaml:"temperature"`
	ChatTemperature  float64 `yaml:"chat_temperature"`
	ContextBudget    int     `yaml:"context_budget"`
	Verbose          bool    `yaml:"verbose"`
}

// CapabilityMask names the built-in tool capabilities to register
// (spec.md §3: filesystem, network, shell, memory, sensor, gpio).
type CapabilityMask struct {
	Filesystem bool `yaml:"filesystem"`
	Network    bool `yaml:"network"`
	Shell      bool `yaml:"shell"`
	Memory     bool `yaml:"memory"`
	Sensor     bool `yaml:"sensor"`
	GPIO       bool `yaml:"gpio"`
}

// MemoryConfig configures the persistent Memory Store (spec.md §4.5).
type MemoryConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig names the external inference backend process (spec.md §1's
// "Inference backend (consumed)" collaborator, spawned the same way an MCP
// server is: a subprocess reachable over stdio, since no concrete
// llama.cpp binding ships in this module).
type BackendConfig struct {
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	ContextWindow int      `yaml:"context_window"`
}

// MCPServerConfig describes one subprocess MCP server to connect to on
// startup (spec.md §6: the `{"mcpServers": {...}}` file shape, flattened
// here into one entry per server with the name carried alongside).
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Config is the top-level runtime configuration.
type Config struct {
	LogLevel string            `yaml:"log_level"`
	LogPath  string            `yaml:"log_path"`
	Engine   EngineConfig      `yaml:"engine"`
	Agent    AgentConfig       `yaml:"agent"`
	Caps     CapabilityMask    `yaml:"capabilities"`
	Memory   MemoryConfig      `yaml:"memory"`
	Backend  BackendConfig     `yaml:"backend"`
	Servers  []MCPServerConfig `yaml:"mcp_servers"`
}

// Default returns the built-in defaults, matching spec.md §4.7's stated
// parameter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Engine:   EngineConfig{Threads: 4},
		Agent: AgentConfig{
			MaxSteps:         10,
			MaxTokensPerStep: 512,
			Temperature:      0.3,
			ChatTemperature:  0.7,
			ContextBudget:    0, // 0 => derive as 80% of model context, min 1536
		},
		Caps:    CapabilityMask{Filesystem: true, Network: true, Memory: true},
		Memory:  MemoryConfig{Path: "synapsed.db"},
		Backend: BackendConfig{ContextWindow: 8192},
	}
}

// Load reads and parses a YAML config file over Default(), so any field
// the file omits keeps its default, applies environment overrides, then
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override a handful of
// fields without editing the file, mirroring the teacher's config-layer
// env-override convention (internal/config/loader.go).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYNAPSED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYNAPSED_MEMORY_PATH"); v != "" {
		cfg.Memory.Path = v
	}
	if v := os.Getenv("SYNAPSED_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxSteps = n
		}
	}
}

// Validate checks the config for internally-inconsistent values.
func (c Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("config: agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.MaxTokensPerStep <= 0 {
		return fmt.Errorf("config: agent.max_tokens_per_step must be positive, got %d", c.Agent.MaxTokensPerStep)
	}
	if strings.TrimSpace(c.Memory.Path) == "" {
		return fmt.Errorf("config: memory.path must not be empty")
	}
	for _, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("config: mcp_servers entry missing name")
		}
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("config: mcp_servers[%s] missing command", s.Name)
		}
	}
	return nil
}

// Flags returns the capability flags in the order filesystem, network,
// shell, memory, sensor, gpio; callers fold them into the tools.Capability
// bitset that tools.RegisterDefaults takes.
func (m CapabilityMask) Flags() []bool {
	return []bool{m.Filesystem, m.Network, m.Shell, m.Memory, m.Sensor, m.GPIO}
}
