// Package config loads and validates the daemon's YAML configuration: model
// and embedding provider selection, the agent loop's round/budget tuning,
// compactor tuning, sandbox limits, the event dispatcher, the mutation
// approval HTTP surface, and observability. Values follow the documented
// defaults and are overridable by environment variable.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Version int `yaml:"version"`

	Owner string `yaml:"owner"`

	Model      ModelConfig      `yaml:"model"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Memory     MemoryConfig     `yaml:"memory"`
	Agent      AgentConfig      `yaml:"agent"`
	Compactor  CompactorConfig  `yaml:"compactor"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Cron       CronConfig       `yaml:"cron"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ModelConfig selects and configures the completion model adapter.
type ModelConfig struct {
	Provider string `yaml:"provider"` // "anthropic" or "openai"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// EmbeddingConfig selects and configures the embedding adapter used for
// archival-tier semantic search.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "openai"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// AgentConfig tunes the round loop and compression trigger.
type AgentConfig struct {
	MaxToolRounds  int     `yaml:"max_tool_rounds"`
	ContextBudget  float64 `yaml:"context_budget"`
	ModelMaxTokens int     `yaml:"model_max_tokens"`
}

// CompactorConfig tunes one compaction pass.
type CompactorConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	KeepRecent       int `yaml:"keep_recent"`
	MaxSummaryTokens int `yaml:"max_summary_tokens"`
	ClipFirst        int `yaml:"clip_first"`
	ClipLast         int `yaml:"clip_last"`
}

// SandboxConfig configures the subprocess code executor.
type SandboxConfig struct {
	Backend        string        `yaml:"backend"` // only "subprocess" is implemented
	DenoPath       string        `yaml:"deno_path"`
	WorkDir        string        `yaml:"work_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	MaxToolCalls   int           `yaml:"max_tool_calls"`
	AllowNet       []string      `yaml:"allow_net"`
	AllowRead      []string      `yaml:"allow_read"`
	AllowRun       []string      `yaml:"allow_run"`
}

// DispatcherConfig sizes the bounded external-event queue.
type DispatcherConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

// ApprovalConfig configures the pending-mutation approval HTTP surface.
type ApprovalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BindAddr  string        `yaml:"bind_addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// CronConfig optionally drives a periodic heartbeat ExternalEvent.
type CronConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Expression string `yaml:"expression"`
	Source     string `yaml:"source"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// MetricsConfig controls the Prometheus /metrics HTTP handle.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BindAddr string `yaml:"bind_addr"`
}

// Load reads path (resolving $include directives, expanding environment
// variables, and rejecting unknown fields), applies environment overrides
// and defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPIRITD_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("SPIRITD_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("SPIRITD_MEMORY_DSN"); v != "" {
		cfg.Memory.DSN = v
	}
	if v := os.Getenv("SPIRITD_APPROVAL_JWT_SECRET"); v != "" {
		cfg.Approval.JWTSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Memory.Dialect == "" {
		cfg.Memory.Dialect = "sqlite"
	}
	if cfg.Memory.SearchLimit == 0 {
		cfg.Memory.SearchLimit = 10
	}

	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 20
	}
	if cfg.Agent.ContextBudget == 0 {
		cfg.Agent.ContextBudget = 0.8
	}
	if cfg.Agent.ModelMaxTokens == 0 {
		cfg.Agent.ModelMaxTokens = 200000
	}

	if cfg.Compactor.ChunkSize == 0 {
		cfg.Compactor.ChunkSize = 20
	}
	if cfg.Compactor.KeepRecent == 0 {
		cfg.Compactor.KeepRecent = 5
	}
	if cfg.Compactor.MaxSummaryTokens == 0 {
		cfg.Compactor.MaxSummaryTokens = 1024
	}
	if cfg.Compactor.ClipFirst == 0 {
		cfg.Compactor.ClipFirst = 2
	}
	if cfg.Compactor.ClipLast == 0 {
		cfg.Compactor.ClipLast = 2
	}

	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "subprocess"
	}
	if cfg.Sandbox.DenoPath == "" {
		cfg.Sandbox.DenoPath = "deno"
	}
	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 10 * time.Second
	}
	if cfg.Sandbox.MaxOutputBytes == 0 {
		cfg.Sandbox.MaxOutputBytes = 1 << 20
	}
	if cfg.Sandbox.MaxToolCalls == 0 {
		cfg.Sandbox.MaxToolCalls = 50
	}

	if cfg.Dispatcher.QueueCapacity == 0 {
		cfg.Dispatcher.QueueCapacity = 256
	}

	if cfg.Approval.BindAddr == "" {
		cfg.Approval.BindAddr = "127.0.0.1:8089"
	}
	if cfg.Approval.TokenTTL == 0 {
		cfg.Approval.TokenTTL = time.Hour
	}

	if cfg.Cron.Source == "" {
		cfg.Cron.Source = "heartbeat"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.BindAddr == "" {
		cfg.Metrics.BindAddr = "127.0.0.1:9090"
	}
}

func validateConfig(cfg *Config) error {
	var issues []string

	switch strings.ToLower(cfg.Model.Provider) {
	case "anthropic", "openai":
	default:
		issues = append(issues, fmt.Sprintf("model.provider must be 'anthropic' or 'openai', got %q", cfg.Model.Provider))
	}
	if strings.TrimSpace(cfg.Model.APIKey) == "" {
		issues = append(issues, "model.api_key is required")
	}

	switch strings.ToLower(cfg.Embedding.Provider) {
	case "openai":
	default:
		issues = append(issues, fmt.Sprintf("embedding.provider must be 'openai', got %q", cfg.Embedding.Provider))
	}

	switch strings.ToLower(cfg.Memory.Dialect) {
	case "postgres", "sqlite3", "sqlite":
	default:
		issues = append(issues, fmt.Sprintf("memory.dialect must be 'postgres', 'sqlite3', or 'sqlite', got %q", cfg.Memory.Dialect))
	}
	if strings.TrimSpace(cfg.Memory.DSN) == "" {
		issues = append(issues, "memory.dsn is required")
	}

	if cfg.Agent.MaxToolRounds <= 0 {
		issues = append(issues, "agent.max_tool_rounds must be positive")
	}
	if cfg.Agent.ContextBudget <= 0 || cfg.Agent.ContextBudget > 1 {
		issues = append(issues, "agent.context_budget must be in (0, 1]")
	}

	if cfg.Compactor.ChunkSize <= 0 {
		issues = append(issues, "compactor.chunk_size must be positive")
	}
	if cfg.Compactor.KeepRecent < 0 {
		issues = append(issues, "compactor.keep_recent must not be negative")
	}

	switch strings.ToLower(cfg.Sandbox.Backend) {
	case "subprocess":
	default:
		issues = append(issues, fmt.Sprintf("sandbox.backend must be 'subprocess', got %q", cfg.Sandbox.Backend))
	}

	if cfg.Approval.Enabled && strings.TrimSpace(cfg.Approval.JWTSecret) == "" {
		issues = append(issues, "approval.jwt_secret is required when approval.enabled is true")
	}

	if cfg.Cron.Enabled && strings.TrimSpace(cfg.Cron.Expression) == "" {
		issues = append(issues, "cron.expression is required when cron.enabled is true")
	}

	issues = append(issues, pluginValidationIssues(cfg)...)

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ValidationError reports every configuration issue found in one pass,
// rather than stopping at the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Issues, "; "))
}
