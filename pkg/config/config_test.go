package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caster-hub/validator-core/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CASTER_HOST", "CASTER_PORT", "CASTER_LOG_LEVEL",
		"CASTER_SANDBOX_IMAGE", "CASTER_SANDBOX_NETWORK", "CASTER_SANDBOX_PULL_POLICY", "CASTER_SANDBOX_STOP_TIMEOUT_SECONDS",
		"CASTER_SUBTENSOR_ENDPOINT", "CASTER_SUBTENSOR_NETUID", "CASTER_SUBTENSOR_WALLET_NAME", "CASTER_SUBTENSOR_HOTKEY_MNEMONIC",
		"CASTER_PLATFORM_BASE_URL", "CASTER_PLATFORM_HOTKEY_SS58",
		"CASTER_TRACING_ENABLED", "CASTER_METRICS_ENABLED",
		"CASTER_SESSION_BUDGET_USD",
		"CASTER_LLM_OPENAI_API_KEY", "CASTER_LLM_ANTHROPIC_API_KEY", "CASTER_LLM_OPENROUTER_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := config.Load()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.Sandbox.Image, "sandbox image has no safe default")
	assert.Equal(t, "bridge", cfg.Sandbox.Network)
	assert.Equal(t, "missing", cfg.Sandbox.PullPolicy)
	assert.Equal(t, 10, cfg.Sandbox.StopTimeout)
	assert.Equal(t, 0.05, cfg.SessionBudgetUSD)
	assert.Empty(t, cfg.LLMProviderKeys)
	assert.False(t, cfg.Observability.TracingEnabled)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CASTER_PORT", "9191")
	t.Setenv("CASTER_SANDBOX_IMAGE", "registry.example.com/candidate:latest")
	t.Setenv("CASTER_SANDBOX_PULL_POLICY", "always")
	t.Setenv("CASTER_SUBTENSOR_NETUID", "42")
	t.Setenv("CASTER_SESSION_BUDGET_USD", "0.25")
	t.Setenv("CASTER_LLM_OPENAI_API_KEY", "sk-test")
	t.Setenv("CASTER_TRACING_ENABLED", "true")

	cfg := config.Load()

	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, "registry.example.com/candidate:latest", cfg.Sandbox.Image)
	assert.Equal(t, "always", cfg.Sandbox.PullPolicy)
	assert.Equal(t, 42, cfg.Subtensor.NetUID)
	assert.Equal(t, 0.25, cfg.SessionBudgetUSD)
	assert.Equal(t, "sk-test", cfg.LLMProviderKeys["openai"])
	assert.True(t, cfg.Observability.TracingEnabled)
}

func TestLoadInvalidNumericFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CASTER_SESSION_BUDGET_USD", "not-a-number")
	cfg := config.Load()
	assert.Equal(t, 0.05, cfg.SessionBudgetUSD)
}

func TestLoadYAMLOverlayOverridesEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CASTER_PORT", "9191")

	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9292"
sandbox:
  image: registry.example.com/candidate:latest
semaphore:
  redis_addr: redis.internal:6379
session_budget_usd: 0.5
`), 0o644))
	t.Setenv("CASTER_CONFIG_FILE", path)
	t.Cleanup(func() { os.Unsetenv("CASTER_CONFIG_FILE") })

	cfg := config.Load()

	assert.Equal(t, "9292", cfg.Port, "overlay should win over the env var")
	assert.Equal(t, "registry.example.com/candidate:latest", cfg.Sandbox.Image)
	assert.Equal(t, "redis.internal:6379", cfg.Semaphore.RedisAddr)
	assert.Equal(t, 0.5, cfg.SessionBudgetUSD)
	assert.Equal(t, "bridge", cfg.Sandbox.Network, "fields absent from the overlay keep their default")
}

func TestLoadMissingOverlayFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CASTER_CONFIG_FILE", filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	t.Cleanup(func() { os.Unsetenv("CASTER_CONFIG_FILE") })

	cfg := config.Load()
	assert.Equal(t, "8080", cfg.Port)
}
