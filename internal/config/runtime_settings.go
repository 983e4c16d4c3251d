package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/chenapple/thesaurus-management/internal/llm"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// ErrInvalidSettings wraps validation failures of UpdateRuntimeSettings
var ErrInvalidSettings = errors.New("invalid runtime settings")

// RuntimeSettings are the values operators may change while the server runs
type RuntimeSettings struct {
	LLMProvider string  `json:"llm_provider"`
	LLMAPIURL   string  `json:"llm_api_url"`
	LLMAPIKey   string  `json:"llm_api_key"`
	LLMModel    string  `json:"llm_model"`
	CronExpr    string  `json:"cron_expr"`
	TargetACOS  float64 `json:"target_acos"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if !llm.KnownProvider(s.LLMProvider) {
		return fmt.Errorf("unsupported llm_provider %q", s.LLMProvider)
	}
	if strings.TrimSpace(s.LLMAPIURL) == "" {
		return fmt.Errorf("llm_api_url is required")
	}
	if strings.TrimSpace(s.LLMAPIKey) == "" {
		return fmt.Errorf("llm_api_key is required")
	}
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	if strings.TrimSpace(s.CronExpr) == "" {
		return fmt.Errorf("cron_expr is required")
	}
	if _, err := cron.ParseStandard(s.CronExpr); err != nil {
		return fmt.Errorf("invalid cron_expr: %w", err)
	}
	if s.TargetACOS <= 0 {
		return fmt.Errorf("target_acos must be positive")
	}
	return nil
}

const redactedKeyMask = "********"

// Redacted returns a copy safe to hand to API clients.
// The mask has a fixed width so the key length stays hidden.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	if len(s.LLMAPIKey) > 4 {
		s.LLMAPIKey = redactedKeyMask + s.LLMAPIKey[len(s.LLMAPIKey)-4:]
	} else if s.LLMAPIKey != "" {
		s.LLMAPIKey = "****"
	}
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMProvider: c.LLM.Provider,
		LLMAPIURL:   c.LLM.APIURL,
		LLMAPIKey:   c.LLM.APIKey,
		LLMModel:    c.LLM.Model,
		CronExpr:    c.Schedule.CronExpr,
		TargetACOS:  c.Analysis.TargetACOS,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMProvider) != "" {
			c.LLM.Provider = strings.ToLower(settings.LLMProvider)
		}
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.CronExpr) != "" {
			c.Schedule.CronExpr = settings.CronExpr
		}
		if settings.TargetACOS > 0 {
			c.Analysis.TargetACOS = settings.TargetACOS
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings persists next. An empty api key keeps the current one
// so clients can echo back redacted settings.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(next.LLMAPIKey) == "" || strings.HasPrefix(next.LLMAPIKey, "*") {
		next.LLMAPIKey = s.current.LLMAPIKey
	}
	next.LLMProvider = strings.ToLower(strings.TrimSpace(next.LLMProvider))
	if next.LLMAPIURL == "" {
		next.LLMAPIURL = llm.DefaultAPIURL(next.LLMProvider)
	}
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
