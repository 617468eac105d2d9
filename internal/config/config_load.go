package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:             "claude-sonnet-4-20250514",
			MaxTokens:         4096,
			Temperature:       0.0,
			MaxToolIterations: 25,
		},
		Planner: PlannerConfig{
			ComplexityThreshold: 0.6,
			MaxPlanSteps:        10,
			ReplanAfterFailures: 2,
		},
		Tools: ToolsConfig{
			ShellTimeoutSec: 30,
			TestTimeoutSec:  120,
			MaxFileSize:     1 << 20,
			SandboxEnabled:  true,
			AllowedCommands: []string{
				"go", "gofmt", "git", "ls", "cat", "grep", "find", "echo",
				"python", "pytest", "ruff",
			},
		},
		Memory: MemoryConfig{MaxWorkingItems: 20},
		Critic: CriticConfig{
			ASTCheck:      true,
			RunLint:       true,
			RunTests:      true,
			RubricEnabled: true,
		},
		Cache: CacheConfig{
			DBPath:              "data/cache.db",
			SimilarityThreshold: 0.85,
			Enabled:             true,
			MaxEntries:          1000,
		},
		Cost: CostConfig{
			BudgetPerTaskUSD: 0.50,
			Pricing: map[string]ModelPricing{
				"claude-sonnet-4-20250514": {InputPer1K: 0.003, OutputPer1K: 0.015},
				"claude-haiku-4-20250514":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
			},
		},
		Trace: TraceConfig{
			Enabled: true,
			LogDir:  "data/traces",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("KODA_ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	if c.AnthropicAPIKey == "" {
		envStr("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	}

	envStr("KODA_MODEL", &c.LLM.Model)
	envStr("KODA_CACHE_DB", &c.Cache.DBPath)
	envStr("KODA_TRACE_DIR", &c.Trace.LogDir)

	if v := os.Getenv("KODA_BUDGET_USD"); v != "" {
		if budget, err := strconv.ParseFloat(v, 64); err == nil && budget > 0 {
			c.Cost.BudgetPerTaskUSD = budget
		}
	}
	if v := os.Getenv("KODA_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.LLM.MaxToolIterations = n
		}
	}

	// Telemetry
	envStr("KODA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("KODA_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("KODA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// Validate checks startup-fatal conditions. The API key is env-only and
// required before any task can run.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set (or KODA_ANTHROPIC_API_KEY)")
	}
	return nil
}
