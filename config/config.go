// Package config loads the kernel's server configuration: bind address,
// bearer token, streaming defaults, and interaction timeout (spec.md §5, §6).
// There is no single config loader in the teacher repo's runtime/agent
// package — services there wire Options structs programmatically — so this
// follows the pack's YAML-tagged-struct-plus-env-override convention instead.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server is the bind address and auth settings for the api package.
type Server struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
	// LocalhostBypass skips token auth for requests originating from
	// 127.0.0.1/::1, for local UI development (spec.md §6).
	LocalhostBypass bool `yaml:"localhost_bypass"`
}

// Runtime configures default Runtime Manager behavior.
type Runtime struct {
	// StreamingDefault is the initial value of the Runtime Manager's global
	// streaming flag.
	StreamingDefault bool `yaml:"streaming_default"`
	// DefaultInteractionTimeout is how long waitForResponse blocks before
	// surfacing a nil response (spec.md §5 default: 300s).
	DefaultInteractionTimeout time.Duration `yaml:"default_interaction_timeout"`
	// MaxSubtaskDepth bounds create_subtask_* nesting (spec.md §4.12).
	MaxSubtaskDepth int `yaml:"max_subtask_depth"`
}

// Storage selects and configures the Event Store backend.
type Storage struct {
	// Driver is one of "memory", "jsonl", "sqlite".
	Driver string `yaml:"driver"`
	// Path is the file/database path for "jsonl"/"sqlite" drivers.
	Path string `yaml:"path"`
	// FanoutRedisAddr, when non-empty, wraps the chosen driver in
	// eventlog/redisfanout so Subscribe also relays across processes.
	FanoutRedisAddr    string `yaml:"fanout_redis_addr"`
	FanoutRedisChannel string `yaml:"fanout_redis_channel"`
}

// LLM selects which llm.Client adapter cmd/seedd builds and how it
// authenticates, following vanducng-goclaw's per-provider ProviderConfig
// shape (api_key per named provider) collapsed to the single active
// provider this kernel runs agents against at a time.
type LLM struct {
	// Provider is one of "anthropic", "bedrock", "openai", "fake". "fake"
	// needs no credentials and serves local smoke use.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// Region is read only by the "bedrock" provider.
	Region string `yaml:"region"`
}

// Config is the full server configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Runtime Runtime `yaml:"runtime"`
	Storage Storage `yaml:"storage"`
	LLM     LLM     `yaml:"llm"`
}

// Default returns a Config with the settings spec.md's defaults name
// explicitly (300s interaction timeout) and sane values for the rest.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:            "127.0.0.1",
			Port:            8420,
			LocalhostBypass: true,
		},
		Runtime: Runtime{
			StreamingDefault:          false,
			DefaultInteractionTimeout: 300 * time.Second,
			MaxSubtaskDepth:           5,
		},
		Storage: Storage{
			Driver: "memory",
		},
		LLM: LLM{
			Provider: "fake",
			Model:    "seed-fake-1",
		},
	}
}

// Load reads YAML config from path and overlays SEED_-prefixed env vars; a
// missing file is not an error, matching vanducng-goclaw's Load, which
// treats the absence of a config file as "use defaults, then apply env".
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SEED_SERVER_HOST", &c.Server.Host)
	envStr("SEED_SERVER_TOKEN", &c.Server.Token)
	envStr("SEED_STORAGE_DRIVER", &c.Storage.Driver)
	envStr("SEED_STORAGE_PATH", &c.Storage.Path)
	envStr("SEED_LLM_PROVIDER", &c.LLM.Provider)
	envStr("SEED_LLM_MODEL", &c.LLM.Model)
	envStr("SEED_LLM_API_KEY", &c.LLM.APIKey)
	envStr("SEED_LLM_REGION", &c.LLM.Region)
}

// Validate reports a config that would make the server unsafe or unable to
// start: an empty bearer token with localhost bypass disabled is rejected
// because the api server lets every request through when no token is set,
// and an unknown storage driver has nowhere to dispatch to.
func (c *Config) Validate() error {
	if c.Server.Token == "" && !c.Server.LocalhostBypass {
		return fmt.Errorf("config: server.token is required when server.localhost_bypass is false")
	}
	switch c.Storage.Driver {
	case "memory":
	case "jsonl", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Runtime.DefaultInteractionTimeout <= 0 {
		return fmt.Errorf("config: runtime.default_interaction_timeout must be positive")
	}
	if c.Runtime.MaxSubtaskDepth <= 0 {
		return fmt.Errorf("config: runtime.max_subtask_depth must be positive")
	}
	switch c.LLM.Provider {
	case "fake":
	case "anthropic", "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: llm.api_key is required for provider %q", c.LLM.Provider)
		}
	case "bedrock":
		if c.LLM.Region == "" {
			return fmt.Errorf("config: llm.region is required for provider \"bedrock\"")
		}
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}
