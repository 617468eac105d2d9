package config

// Config is the root configuration for the Koda agent.
type Config struct {
	LLM     LLMConfig     `json:"llm"`
	Planner PlannerConfig `json:"planner"`
	Tools   ToolsConfig   `json:"tools"`
	Memory  MemoryConfig  `json:"memory"`
	Critic  CriticConfig  `json:"critic"`
	Cache   CacheConfig   `json:"cache"`
	Cost    CostConfig    `json:"cost"`
	Trace   TraceConfig   `json:"trace"`

	Telemetry TelemetryConfig `json:"telemetry,omitempty"`

	// AnthropicAPIKey is never read from the config file, env only.
	AnthropicAPIKey string `json:"-"`
}

// LLMConfig configures the model and the agent loop bounds.
type LLMConfig struct {
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	RateLimitRPM      int     `json:"rate_limit_rpm,omitempty"` // 0 = unlimited
}

// PlannerConfig configures complexity routing and plan decomposition.
type PlannerConfig struct {
	ComplexityThreshold float64 `json:"complexity_threshold"`
	MaxPlanSteps        int     `json:"max_plan_steps"`
	ReplanAfterFailures int     `json:"replan_after_failures"`
}

// ToolsConfig configures tool execution limits and the shell sandbox.
type ToolsConfig struct {
	ShellTimeoutSec int      `json:"shell_timeout"`
	TestTimeoutSec  int      `json:"test_timeout"`
	MaxFileSize     int64    `json:"max_file_size"`
	SandboxEnabled  bool     `json:"sandbox_enabled"`
	AllowedCommands []string `json:"allowed_commands"`
	LintCommand     []string `json:"lint_command,omitempty"`
	TestCommand     []string `json:"test_command,omitempty"`
}

// MemoryConfig configures the per-task working scratchpad.
type MemoryConfig struct {
	MaxWorkingItems int `json:"max_working_items"`
}

// CriticConfig enables/disables phases of the verification pipeline.
type CriticConfig struct {
	ASTCheck      bool `json:"ast_check"`
	RunLint       bool `json:"run_lint"`
	RunTests      bool `json:"run_tests"`
	RubricEnabled bool `json:"rubric_enabled"`
}

// CacheConfig configures the task-chain cache.
type CacheConfig struct {
	DBPath              string  `json:"db_path"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	Enabled             bool    `json:"enabled"`
	MaxEntries          int     `json:"max_entries"`
}

// ModelPricing is per-model token pricing in USD per 1K tokens.
type ModelPricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// CostConfig configures budget enforcement and the pricing table.
type CostConfig struct {
	BudgetPerTaskUSD float64                 `json:"budget_per_task_usd"`
	Pricing          map[string]ModelPricing `json:"pricing,omitempty"`
}

// TraceConfig configures trace collection and persistence.
type TraceConfig struct {
	Enabled bool   `json:"enabled"`
	LogDir  string `json:"log_dir"`
}

// TelemetryConfig configures optional OTLP export of finished traces.
// When enabled, every persisted trace is also re-emitted as OTLP spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4318"
	Insecure    bool              `json:"insecure,omitempty"`     // plain HTTP (local collectors)
	ServiceName string            `json:"service_name,omitempty"` // default "koda"
	Headers     map[string]string `json:"headers,omitempty"`
}
