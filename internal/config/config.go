package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_PROVIDER: openai, gemini, deepseek, qwen or openrouter (default: openai)
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: the provider's public endpoint)
// - LLM_MODEL: Model name to use (default: gpt-4o-mini)
// - LLM_MAX_TOKENS: Output token ceiling, 0 uses the provider table (default: 0)
// - LLM_TEMPERATURE: Default temperature (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Analysis Configuration:
// - ANALYSIS_TARGET_ACOS: Target ACOS in percent (default: 30)
// - ANALYSIS_SAMPLE_SIZE: Records analyzed per target (default: 200)
// - ANALYSIS_CALL_DELAY: Pause between targets (default: 500ms)
// - ANALYSIS_NOTIFY_INTERVAL: Session update throttle (default: 250ms)
// - ANALYSIS_PROGRESS_INTERVAL: Streaming progress throttle (default: 200ms)
// - AGENT_MAX_ITERATIONS: Overrides the iteration limit of every role, 0 keeps the catalogue value
// - ROLES_FILE: Role catalogue YAML replacing the embedded one (optional)
// - TERMS_FILE: Search term export used by scheduled runs (optional)
// - CRON_EXPR: Schedule of re-analysis runs (default: 0 6 * * *)
// - SESSION_RETENTION: Age after which stored sessions are pruned, 0 keeps them (default: 720h)
//
// System Configuration:
// - DATA_DIR: Data directory (default: /app/data)
// - DB_PATH: SQLite database (default: $DATA_DIR/analysis.db)
// - HTTP_ADDR: HTTP listen address (default: :8080)
// - LOG_LEVEL: debug, info, warn or error (default: info)
type Config struct {
	LLM      LLMConfig      `json:"llm"`
	Analysis AnalysisConfig `json:"analysis"`
	Agent    AgentConfig    `json:"agent"`
	Schedule ScheduleConfig `json:"schedule"`
	System   SystemConfig   `json:"system"`
	HTTP     HTTPConfig     `json:"http"`
}

// LLMConfig holds the configuration for the model provider
type LLMConfig struct {
	Provider    string  `json:"provider"`
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// ProviderConfig converts the settings into the provider adapter configuration
func (c LLMConfig) ProviderConfig() *llm.Config {
	return &llm.Config{
		Provider:    c.Provider,
		APIKey:      c.APIKey,
		APIURL:      c.APIURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
		SiteURL:     c.SiteURL,
		AppName:     c.AppName,
	}
}

type AnalysisConfig struct {
	TargetACOS       float64       `json:"target_acos"`
	SampleSize       int           `json:"sample_size"`
	CallDelay        time.Duration `json:"call_delay"`
	NotifyInterval   time.Duration `json:"notify_interval"`
	ProgressInterval time.Duration `json:"progress_interval"`
	RolesFile        string        `json:"roles_file"`
}

// AgentConfig holds the configuration for the agent
type AgentConfig struct {
	MaxIterations int `json:"max_iterations"`

	// WebSearchAPIKey enables the web_search tool for the roles that list it
	WebSearchAPIKey string `json:"-"`
	WebSearchURL    string `json:"web_search_url"`
}

type ScheduleConfig struct {
	CronExpr  string        `json:"cron_expr"`
	TermsFile string        `json:"terms_file"`
	Retention time.Duration `json:"retention"`
}

// SystemConfig holds the system configuration
type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// LogLevel returns the configured level for the global logger
func (c *Config) LogLevel() log.LogLevel {
	return log.ParseLevel(c.System.LogLevel)
}

// DBPath returns the database location, derived from the data directory unless DB_PATH is set
func (c *Config) DBPath() string {
	if c.System.DBPath != "" {
		return c.System.DBPath
	}
	return filepath.Join(c.System.DataDir, "analysis.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			Provider:    getEnvString("LLM_PROVIDER", llm.ProviderOpenAI),
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", ""),
			Model:       getEnvString("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 0),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 120),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Analysis: AnalysisConfig{
			TargetACOS:       getEnvFloat("ANALYSIS_TARGET_ACOS", 30),
			SampleSize:       getEnvInt("ANALYSIS_SAMPLE_SIZE", 200),
			CallDelay:        getEnvDuration("ANALYSIS_CALL_DELAY", 500*time.Millisecond),
			NotifyInterval:   getEnvDuration("ANALYSIS_NOTIFY_INTERVAL", 250*time.Millisecond),
			ProgressInterval: getEnvDuration("ANALYSIS_PROGRESS_INTERVAL", 200*time.Millisecond),
			RolesFile:        getEnvString("ROLES_FILE", ""),
		},
		Agent: AgentConfig{
			MaxIterations:   getEnvInt("AGENT_MAX_ITERATIONS", 0),
			WebSearchAPIKey: getEnvString("WEB_SEARCH_API_KEY", ""),
			WebSearchURL:    getEnvString("WEB_SEARCH_API_URL", ""),
		},
		Schedule: ScheduleConfig{
			CronExpr:  getEnvString("CRON_EXPR", "0 6 * * *"),
			TermsFile: getEnvString("TERMS_FILE", ""),
			Retention: getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			DBPath:   getEnvString("DB_PATH", ""),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if config.LLM.APIURL == "" {
		config.LLM.APIURL = llm.DefaultAPIURL(config.LLM.Provider)
	}

	log.Debug("Config: %+v", *config)

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.LLM.APIURL == "" {
		return fmt.Errorf("LLM_API_URL is required for provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.Analysis.TargetACOS <= 0 {
		return fmt.Errorf("ANALYSIS_TARGET_ACOS must be positive")
	}
	if c.Analysis.SampleSize <= 0 {
		return fmt.Errorf("ANALYSIS_SAMPLE_SIZE must be positive")
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must not be negative")
	}
	if c.Schedule.Retention < 0 {
		return fmt.Errorf("SESSION_RETENTION must not be negative")
	}
	if _, err := cron.ParseStandard(c.Schedule.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	switch strings.ToLower(c.System.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.System.LogLevel)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or plain milliseconds ("750")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
