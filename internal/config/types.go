package config

// Config is the full agenthub configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Sessions SessionsConfig `json:"sessions"`
	Scoring  ScoringConfig  `json:"scoring"`

	Processor *ProcessorConfig `json:"processor,omitempty"`
	Ingest    *IngestConfig    `json:"ingest,omitempty"`
	Digest    *DigestConfig    `json:"digest,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// AuthToken, when set, is required as a bearer token on every HTTP
	// endpoint except /health. Empty disables auth (development mode).
	AuthToken string `json:"auth_token,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Path to the SQLite database file. Empty defaults to
	// <data_dir>/notifications.db.
	Path        string `json:"path,omitempty"`
	DataDir     string `json:"data_dir,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SessionsConfig controls the session registry and its executor backend.
type SessionsConfig struct {
	DefaultBundle string `json:"default_bundle,omitempty"`

	// StartupBundles are created as sessions during app start (best-effort).
	StartupBundles []string `json:"startup_bundles,omitempty"`

	Anthropic AnthropicConfig `json:"anthropic,omitempty"`
}

// AnthropicConfig configures the Anthropic-backed executor. When APIKey is
// empty the registry builds mock executors instead, so the server stays
// usable without credentials.
type AnthropicConfig struct {
	APIKey    string `json:"api_key,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int64  `json:"max_tokens,omitempty"`
}

// ScoringConfig overrides the heuristic scorer's built-in lists and
// thresholds. Omitted lists fall back to package defaults; thresholds of 0
// fall back to 0.6 (push) and 0.3 (summarize).
type ScoringConfig struct {
	UseLLM bool `json:"use_llm"`

	PushThreshold      float64 `json:"push_threshold,omitempty"`
	SummarizeThreshold float64 `json:"summarize_threshold,omitempty"`

	VIPSenders      []string `json:"vip_senders,omitempty"`
	UserAliases     []string `json:"user_aliases,omitempty"`
	UrgentKeywords  []string `json:"urgent_keywords,omitempty"`
	ActionKeywords  []string `json:"action_keywords,omitempty"`
	PriorityApps    []string `json:"priority_apps,omitempty"`
	LowPriorityApps []string `json:"low_priority_apps,omitempty"`

	// RulesPath points at a markdown file of user-specific attention rules
	// injected into the LLM scoring prompt.
	RulesPath string `json:"rules_path,omitempty"`
}

type ProcessorConfig struct {
	QueueSize    int    `json:"queue_size,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// IngestConfig rate-limits notification ingestion per device.
type IngestConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`
}

type DigestConfig struct {
	// Enabled turns the digest scheduler off when explicitly false. Left
	// unset it stays on, so adding a digest section just to tune the
	// schedule does not silently disable digests.
	Enabled *bool `json:"enabled,omitempty"`

	// Schedule is a cron expression or "@every <duration>" accepted by
	// robfig/cron. Empty defaults to "@hourly".
	Schedule string `json:"schedule,omitempty"`

	// Window is how far back each digest reaches. Empty defaults to 1h.
	Window string `json:"window,omitempty"`
}

// IsEnabled reports whether the digest scheduler should run. A missing
// section or missing flag means enabled.
func (d *DigestConfig) IsEnabled() bool {
	return d == nil || d.Enabled == nil || *d.Enabled
}
