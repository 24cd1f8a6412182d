package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // default timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config represents the bot configuration
type Config struct {
	Port            int                `json:"port"`
	Timezone        string             `json:"timezone,omitempty"`
	DataDir         string             `json:"data_dir,omitempty"`
	SecretsFile     string             `json:"secrets_file,omitempty"`
	DefaultLanguage string             `json:"default_language,omitempty"`
	Database        DatabaseConfig     `json:"database"`
	AI              AIConfig           `json:"ai"`
	LINE            LINEConfig         `json:"line"`
	Telegram        TelegramConfig     `json:"telegram,omitempty"`
	Prompts         PromptsConfig      `json:"prompts,omitempty"`
	ContextCache    ContextCacheConfig `json:"context_cache"`
	Scheduler       SchedulerConfig    `json:"scheduler"`
	Maintenance     MaintenanceConfig  `json:"maintenance"`
	Admin           AdminConfig        `json:"admin,omitempty"`
	RateLimiting    RateLimitingConfig `json:"rate_limiting,omitempty"`
	Debug           DebugConfig        `json:"debug,omitempty"`
}

// DebugConfig contains debugging and logging settings
type DebugConfig struct {
	LogMessageContent bool `json:"log_message_content,omitempty"` // Enable logging of message content (privacy risk!)
	VerboseLogging    bool `json:"verbose_logging,omitempty"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AIConfig configures the OpenAI-compatible completion backend.
type AIConfig struct {
	APIKey         string `json:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty"` // Empty uses api.openai.com
	Model          string `json:"model"`
	SummaryModel   string `json:"summary_model,omitempty"` // Falls back to Model
	TimeoutSeconds int    `json:"timeout_seconds"`
	ExtractTasks   bool   `json:"extract_tasks,omitempty"`
}

// Timeout returns the per-call completion timeout.
func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// LINEConfig holds the Messaging API channel credentials.
type LINEConfig struct {
	ChannelSecret string `json:"channel_secret"`
	ChannelToken  string `json:"channel_token"`
	// DedupSize bounds the number of remembered webhook event ids.
	DedupSize int `json:"dedup_size,omitempty"`
}

// TelegramConfig enables the optional Telegram channel.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	BotToken    string `json:"bot_token,omitempty"`
	WebhookMode bool   `json:"webhook_mode,omitempty"` // Receive updates on /webhook/telegram instead of polling
	SecretToken string `json:"secret_token,omitempty"`
}

// PromptsConfig points at an optional YAML file overriding the built-in
// prompt and reply catalog.
type PromptsConfig struct {
	Path string `json:"path,omitempty"`
}

// ContextCacheConfig bounds the per-user conversation context cache.
type ContextCacheConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
}

// SchedulerConfig configures background jobs.
type SchedulerConfig struct {
	Enabled           bool        `json:"enabled"`
	RetryDelaySeconds int         `json:"retry_delay_seconds"`
	MaxRetries        int         `json:"max_retries"`
	Jobs              []JobConfig `json:"jobs"`
}

// JobConfig overrides the schedule of a named job.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Enabled  bool   `json:"enabled"`
}

// Job returns the configuration of the named job, if present.
func (s SchedulerConfig) Job(name string) (JobConfig, bool) {
	for _, j := range s.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}

// MaintenanceConfig configures the database housekeeping job. It runs on
// the scheduler under the name JobMaintenance.
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	// MessageRetentionDays prunes message logs older than this many days.
	// Zero keeps every message.
	MessageRetentionDays int   `json:"message_retention_days"`
	VacuumThresholdMB    int64 `json:"vacuum_threshold_mb"`
	OptimizeIndexes      bool  `json:"optimize_indexes"`
}

// AdminConfig enables the read/write admin HTTP API.
type AdminConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token,omitempty"` // Bearer token; empty disables auth
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// RateLimitingConfig contains rate limiting settings
type RateLimitingConfig struct {
	Enabled                bool                `json:"enabled"`
	Anonymous              RateLimitTierConfig `json:"anonymous"`     // Webhooks, per IP
	Authenticated          RateLimitTierConfig `json:"authenticated"` // Admin API, per token
	CleanupIntervalSeconds int                 `json:"cleanupIntervalSeconds"`
}

// RateLimitTierConfig defines rate limiting for a specific tier (anonymous vs authenticated)
type RateLimitTierConfig struct {
	WindowSeconds int `json:"windowSeconds"`
	MaxRequests   int `json:"maxRequests"`
}

// Default job names and schedules.
const (
	JobDueReminders = "due_reminders"
	JobDailySummary = "daily_summary"
	JobWeeklyReport = "weekly_report"
	JobMaintenance  = "db_maintenance"
)

// DefaultJobs returns the built-in job schedules.
func DefaultJobs() []JobConfig {
	return []JobConfig{
		{Name: JobDueReminders, Schedule: "@hourly", Enabled: true},
		{Name: JobDailySummary, Schedule: "0 9 * * *", Enabled: true},
		{Name: JobWeeklyReport, Schedule: "30 9 * * 1", Enabled: true},
	}
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Port:            8000,
		Timezone:        "Asia/Taipei",
		DefaultLanguage: "zh-TW",
		Database: DatabaseConfig{
			Path: "secretary.db",
		},
		AI: AIConfig{
			APIKey:         "${OPENAI_API_KEY}",
			Model:          "gpt-4-turbo-preview",
			SummaryModel:   "gpt-4",
			TimeoutSeconds: 20,
			ExtractTasks:   true,
		},
		LINE: LINEConfig{
			ChannelSecret: "${LINE_CHANNEL_SECRET}",
			ChannelToken:  "${LINE_CHANNEL_ACCESS_TOKEN}",
			DedupSize:     1024,
		},
		Telegram: TelegramConfig{
			Enabled:     false,
			BotToken:    "${TELEGRAM_BOT_TOKEN}",
			SecretToken: "${TELEGRAM_SECRET_TOKEN}",
		},
		ContextCache: ContextCacheConfig{
			Size:       10000,
			TTLSeconds: 86400,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			RetryDelaySeconds: 60,
			MaxRetries:        3,
			Jobs:              DefaultJobs(),
		},
		Maintenance: MaintenanceConfig{
			Enabled:              false,
			Schedule:             "0 3 * * *",
			MessageRetentionDays: 90,
			VacuumThresholdMB:    100,
			OptimizeIndexes:      true,
		},
		Admin: AdminConfig{
			Enabled:        false,
			Token:          "${SECRETARY_ADMIN_TOKEN}",
			AllowedOrigins: []string{"*"},
		},
		Debug: DebugConfig{
			LogMessageContent: false, // Privacy-safe by default
			VerboseLogging:    false,
		},
		RateLimiting: RateLimitingConfig{
			Enabled: true,
			Anonymous: RateLimitTierConfig{
				WindowSeconds: 60,
				MaxRequests:   300, // LINE retries in bursts from a small set of IPs
			},
			Authenticated: RateLimitTierConfig{
				WindowSeconds: 60,
				MaxRequests:   1000,
			},
			CleanupIntervalSeconds: 300,
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Check if file exists, create default if not
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		return cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start from defaults so omitted sections keep sensible values.
	cfg := Default()
	cfg.Scheduler.Jobs = nil
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(cfg.Scheduler.Jobs) == 0 {
		cfg.Scheduler.Jobs = DefaultJobs()
	}

	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	// Expand tilde in path fields before anything else so that
	// secrets_file can reference ~/... paths.
	c.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := c.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	c.expandEnvVars()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return c, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandEnvVars expands ${ENV_VAR} references in string fields that
// commonly carry secrets or paths.
func (c *Config) expandEnvVars() {
	fields := []*string{
		&c.DataDir,
		&c.SecretsFile,
		&c.Database.Path,
		&c.AI.APIKey,
		&c.AI.BaseURL,
		&c.LINE.ChannelSecret,
		&c.LINE.ChannelToken,
		&c.Telegram.BotToken,
		&c.Telegram.SecretToken,
		&c.Prompts.Path,
		&c.Admin.Token,
	}
	for _, f := range fields {
		*f = os.ExpandEnv(*f)
	}
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
	}

	if c.AI.TimeoutSeconds <= 0 {
		return fmt.Errorf("ai.timeout_seconds must be greater than 0")
	}

	if c.ContextCache.Size <= 0 {
		return fmt.Errorf("context_cache.size must be greater than 0")
	}
	if c.ContextCache.TTLSeconds < 0 {
		return fmt.Errorf("context_cache.ttl_seconds must not be negative")
	}

	if c.Scheduler.RetryDelaySeconds < 0 || c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler retry settings must not be negative")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	seen := make(map[string]bool)
	for _, j := range c.Scheduler.Jobs {
		if j.Name == "" {
			return fmt.Errorf("scheduler job with empty name")
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate scheduler job %q", j.Name)
		}
		seen[j.Name] = true
		if _, err := parser.Parse(j.Schedule); err != nil {
			return fmt.Errorf("invalid schedule for job %q: %w", j.Name, err)
		}
	}

	if c.Maintenance.Enabled {
		if seen[JobMaintenance] {
			return fmt.Errorf("job name %q is reserved for maintenance", JobMaintenance)
		}
		if _, err := parser.Parse(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule: %w", err)
		}
	}
	if c.Maintenance.MessageRetentionDays < 0 || c.Maintenance.VacuumThresholdMB < 0 {
		return fmt.Errorf("maintenance settings must not be negative")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.Anonymous.WindowSeconds <= 0 || c.RateLimiting.Anonymous.MaxRequests <= 0 {
			return fmt.Errorf("invalid anonymous rate limiting configuration")
		}
		if c.RateLimiting.Authenticated.WindowSeconds <= 0 || c.RateLimiting.Authenticated.MaxRequests <= 0 {
			return fmt.Errorf("invalid authenticated rate limiting configuration")
		}
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}

	return nil
}

// GetLocation returns the configured timezone as a *time.Location,
// falling back to time.Local.
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Language returns the default reply language.
func (c *Config) Language() string {
	if c.DefaultLanguage == "" {
		return "zh-TW"
	}
	return c.DefaultLanguage
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Database.Path = expand(c.Database.Path)
	c.Prompts.Path = expand(c.Prompts.Path)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}
	if _, err := os.Stat(c.SecretsFile); os.IsNotExist(err) {
		return nil // missing file is fine
	}

	values, err := godotenv.Read(c.SecretsFile)
	if err != nil {
		return fmt.Errorf("cannot read secrets file %s: %w", c.SecretsFile, err)
	}
	for key, value := range values {
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}
