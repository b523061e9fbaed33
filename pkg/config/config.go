// Package config loads validator-core settings from the environment.
//
// Grounded on github.com/Mindburn-Labs/helm/core/pkg/config (config.go):
// same flat env-var Load() pattern, same "empty means default" convention,
// expanded from a single server config to the settings groups spec §6 lists
// (validator host/port, sandbox, subtensor, LLM keys, platform, observability,
// session budget cap).
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SandboxConfig describes how candidate containers are started (spec §4.8).
type SandboxConfig struct {
	Image       string // required; no default
	Network     string
	PullPolicy  string // "always" | "missing" | "never"
	StopTimeout int    // seconds
}

// SubtensorConfig describes the chain client's connection parameters (spec §6).
type SubtensorConfig struct {
	Endpoint        string
	NetUID          int
	WalletName      string
	HotkeyMnemonic  string
	BackoffFilePath string
}

// PlatformConfig describes the ingress signer the control plane trusts and
// the subnet-owner coldkey the ACL resolves trusted hotkeys against (spec §6).
type PlatformConfig struct {
	BaseURL          string
	HotkeySS58       string
	OwnerColdkeySS58 string
}

// ObservabilityConfig toggles tracing/metrics emission.
type ObservabilityConfig struct {
	TracingEnabled bool
	MetricsEnabled bool
}

// SemaphoreConfig selects between the default in-process token semaphore
// and a Redis-backed one for multi-replica deployments (spec §9). A
// blank RedisAddr keeps the default in-process semaphore.
type SemaphoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Config is the fully resolved validator-core configuration.
type Config struct {
	Host string
	Port string

	LogLevel string

	Sandbox       SandboxConfig
	Subtensor     SubtensorConfig
	Platform      PlatformConfig
	Observability ObservabilityConfig
	Semaphore     SemaphoreConfig

	LLMProviderKeys map[string]string // provider name -> API key

	SessionBudgetUSD float64
}

// overlay mirrors Config's settings groups but every field is optional;
// a YAML overlay file only needs to specify what it wants to change.
// Mirrors the env-var convention: zero value means "leave the
// env-derived default alone".
type overlay struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Sandbox struct {
		Image       string `yaml:"image"`
		Network     string `yaml:"network"`
		PullPolicy  string `yaml:"pull_policy"`
		StopTimeout int    `yaml:"stop_timeout_seconds"`
	} `yaml:"sandbox"`

	Subtensor struct {
		Endpoint        string `yaml:"endpoint"`
		NetUID          int    `yaml:"netuid"`
		WalletName      string `yaml:"wallet_name"`
		BackoffFilePath string `yaml:"backoff_file_path"`
	} `yaml:"subtensor"`

	Platform struct {
		BaseURL          string `yaml:"base_url"`
		HotkeySS58       string `yaml:"hotkey_ss58"`
		OwnerColdkeySS58 string `yaml:"owner_coldkey_ss58"`
	} `yaml:"platform"`

	Semaphore struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
	} `yaml:"semaphore"`

	SessionBudgetUSD float64 `yaml:"session_budget_usd"`
}

// applyOverlay copies every non-zero overlay field onto cfg.
func applyOverlay(cfg *Config, o *overlay) {
	if o.Host != "" {
		cfg.Host = o.Host
	}
	if o.Port != "" {
		cfg.Port = o.Port
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.Sandbox.Image != "" {
		cfg.Sandbox.Image = o.Sandbox.Image
	}
	if o.Sandbox.Network != "" {
		cfg.Sandbox.Network = o.Sandbox.Network
	}
	if o.Sandbox.PullPolicy != "" {
		cfg.Sandbox.PullPolicy = o.Sandbox.PullPolicy
	}
	if o.Sandbox.StopTimeout != 0 {
		cfg.Sandbox.StopTimeout = o.Sandbox.StopTimeout
	}
	if o.Subtensor.Endpoint != "" {
		cfg.Subtensor.Endpoint = o.Subtensor.Endpoint
	}
	if o.Subtensor.NetUID != 0 {
		cfg.Subtensor.NetUID = o.Subtensor.NetUID
	}
	if o.Subtensor.WalletName != "" {
		cfg.Subtensor.WalletName = o.Subtensor.WalletName
	}
	if o.Subtensor.BackoffFilePath != "" {
		cfg.Subtensor.BackoffFilePath = o.Subtensor.BackoffFilePath
	}
	if o.Platform.BaseURL != "" {
		cfg.Platform.BaseURL = o.Platform.BaseURL
	}
	if o.Platform.HotkeySS58 != "" {
		cfg.Platform.HotkeySS58 = o.Platform.HotkeySS58
	}
	if o.Platform.OwnerColdkeySS58 != "" {
		cfg.Platform.OwnerColdkeySS58 = o.Platform.OwnerColdkeySS58
	}
	if o.Semaphore.RedisAddr != "" {
		cfg.Semaphore.RedisAddr = o.Semaphore.RedisAddr
	}
	if o.Semaphore.RedisPassword != "" {
		cfg.Semaphore.RedisPassword = o.Semaphore.RedisPassword
	}
	if o.Semaphore.RedisDB != 0 {
		cfg.Semaphore.RedisDB = o.Semaphore.RedisDB
	}
	if o.SessionBudgetUSD != 0 {
		cfg.SessionBudgetUSD = o.SessionBudgetUSD
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Load reads configuration from environment variables, applying safe
// defaults for everything the spec marks optional, then layers an
// optional YAML overlay file on top when CASTER_CONFIG_FILE is set
// (spec §9 "optional YAML overlay file for settings groups, alongside
// env vars"). CASTER_SANDBOX_IMAGE is the one setting with no safe
// default; callers should fail fast if it is empty rather than silently
// running with a meaningless image name.
func Load() *Config {
	cfg := loadFromEnv()

	if path := os.Getenv("CASTER_CONFIG_FILE"); path != "" {
		if err := loadOverlayFile(cfg, path); err != nil {
			log.Printf("config: ignoring CASTER_CONFIG_FILE %s: %v", path, err)
		}
	}

	return cfg
}

func loadOverlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return err
	}
	applyOverlay(cfg, &o)
	return nil
}

func loadFromEnv() *Config {
	llmKeys := map[string]string{}
	for _, provider := range []string{"OPENAI", "ANTHROPIC", "OPENROUTER"} {
		if key := os.Getenv("CASTER_LLM_" + provider + "_API_KEY"); key != "" {
			llmKeys[strings.ToLower(provider)] = key
		}
	}

	return &Config{
		Host:     getenv("CASTER_HOST", "0.0.0.0"),
		Port:     getenv("CASTER_PORT", "8080"),
		LogLevel: getenv("CASTER_LOG_LEVEL", "INFO"),

		Sandbox: SandboxConfig{
			Image:       os.Getenv("CASTER_SANDBOX_IMAGE"),
			Network:     getenv("CASTER_SANDBOX_NETWORK", "bridge"),
			PullPolicy:  getenv("CASTER_SANDBOX_PULL_POLICY", "missing"),
			StopTimeout: getenvInt("CASTER_SANDBOX_STOP_TIMEOUT_SECONDS", 10),
		},

		Subtensor: SubtensorConfig{
			Endpoint:        getenv("CASTER_SUBTENSOR_ENDPOINT", "ws://127.0.0.1:9944"),
			NetUID:          getenvInt("CASTER_SUBTENSOR_NETUID", 0),
			WalletName:      os.Getenv("CASTER_SUBTENSOR_WALLET_NAME"),
			HotkeyMnemonic:  os.Getenv("CASTER_SUBTENSOR_HOTKEY_MNEMONIC"),
			BackoffFilePath: getenv("CASTER_WEIGHT_BACKOFF_FILE", "/var/lib/caster/last_weight_submission_block"),
		},

		Platform: PlatformConfig{
			BaseURL:          os.Getenv("CASTER_PLATFORM_BASE_URL"),
			HotkeySS58:       os.Getenv("CASTER_PLATFORM_HOTKEY_SS58"),
			OwnerColdkeySS58: os.Getenv("CASTER_PLATFORM_OWNER_COLDKEY_SS58"),
		},

		Observability: ObservabilityConfig{
			TracingEnabled: getenvBool("CASTER_TRACING_ENABLED"),
			MetricsEnabled: getenvBool("CASTER_METRICS_ENABLED"),
		},

		Semaphore: SemaphoreConfig{
			RedisAddr:     os.Getenv("CASTER_SEMAPHORE_REDIS_ADDR"),
			RedisPassword: os.Getenv("CASTER_SEMAPHORE_REDIS_PASSWORD"),
			RedisDB:       getenvInt("CASTER_SEMAPHORE_REDIS_DB", 0),
		},

		LLMProviderKeys: llmKeys,

		SessionBudgetUSD: getenvFloat("CASTER_SESSION_BUDGET_USD", 0.05),
	}
}
