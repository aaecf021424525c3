// Package config loads orchestrator configuration from YAML with
// environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir holds local state such as the file-backed project store.
	DataDir string `yaml:"data_dir"`

	// Store selects the project record store: "file" or "redis".
	Store string `yaml:"store"`

	Redis    RedisConfig    `yaml:"redis"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	Limits   LimitsConfig   `yaml:"limits"`
	Generate GenerateConfig `yaml:"generate"`
}

// RedisConfig configures the Redis project store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SandboxConfig configures the remote sandbox service.
type SandboxConfig struct {
	// APIURL is the sandbox service control-plane address.
	APIURL string `yaml:"api_url"`
	// APIKey authenticates against the sandbox service.
	APIKey string `yaml:"api_key"`
	// Image is the sandbox image used for new sessions.
	Image string `yaml:"image"`
	// ForcedURL, when set, connects every session to a single local
	// sandbox at this address instead of provisioning remotely.
	ForcedURL string `yaml:"forced_url"`
	// MemoryMB is the memory requested per sandbox.
	MemoryMB int `yaml:"memory_mb"`
	// PreviewPort is the app port exposed through the preview URL.
	PreviewPort int `yaml:"preview_port"`
	// ReadyTimeout bounds sandbox creation plus readiness.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// LLMConfig configures the generation capability.
type LLMConfig struct {
	// APIKey is the provider API key.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible).
	BaseURL string `yaml:"base_url"`
	// Model is the model identifier.
	Model string `yaml:"model"`
	// MaxSteps bounds the number of generation steps per run.
	MaxSteps int `yaml:"max_steps"`
}

// CacheConfig configures the sandbox handle cache.
type CacheConfig struct {
	// TTL is the idle time after which a handle is evicted.
	TTL time.Duration `yaml:"ttl"`
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LimitsConfig configures request rate limiting.
type LimitsConfig struct {
	// RequestsPerSecond is the per-client rate for /api/generate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the per-client burst allowance.
	Burst int `yaml:"burst"`
}

// GenerateConfig bounds the generation step loop.
type GenerateConfig struct {
	// Timeout caps one whole generation run.
	Timeout time.Duration `yaml:"timeout"`
	// ProcessWaitTimeout caps a single remote process wait.
	ProcessWaitTimeout time.Duration `yaml:"process_wait_timeout"`
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables fill in secrets left out of the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// Apply defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Store == "" {
		cfg.Store = "file"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "sandbox/codegen-sandbox:latest"
	}
	if cfg.Sandbox.MemoryMB == 0 {
		cfg.Sandbox.MemoryMB = 8192
	}
	if cfg.Sandbox.PreviewPort == 0 {
		cfg.Sandbox.PreviewPort = 4321
	}
	if cfg.Sandbox.ReadyTimeout == 0 {
		cfg.Sandbox.ReadyTimeout = 5 * time.Minute
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.MaxSteps == 0 {
		cfg.LLM.MaxSteps = 50
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = time.Minute
	}
	if cfg.Limits.RequestsPerSecond == 0 {
		cfg.Limits.RequestsPerSecond = 1
	}
	if cfg.Limits.Burst == 0 {
		cfg.Limits.Burst = 3
	}
	if cfg.Generate.Timeout == 0 {
		cfg.Generate.Timeout = 10 * time.Minute
	}
	if cfg.Generate.ProcessWaitTimeout == 0 {
		cfg.Generate.ProcessWaitTimeout = time.Minute
	}

	// Load secrets from environment if not in config
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.Sandbox.APIURL == "" {
		cfg.Sandbox.APIURL = os.Getenv("SANDBOX_API_URL")
	}
	if cfg.Sandbox.APIKey == "" {
		cfg.Sandbox.APIKey = os.Getenv("SANDBOX_API_KEY")
	}
	if cfg.Sandbox.ForcedURL == "" {
		cfg.Sandbox.ForcedURL = os.Getenv("SANDBOX_FORCED_URL")
	}
	if img := os.Getenv("SANDBOX_IMAGE"); img != "" {
		cfg.Sandbox.Image = img
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api_key is required (or set OPENAI_API_KEY)")
	}
	if c.Sandbox.APIURL == "" && c.Sandbox.ForcedURL == "" {
		return fmt.Errorf("sandbox api_url is required unless forced_url is set")
	}
	if c.Store != "file" && c.Store != "redis" {
		return fmt.Errorf("store must be \"file\" or \"redis\", got %q", c.Store)
	}
	if c.Store == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store is \"redis\"")
	}
	return nil
}
