package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMProvider: "openai",
		LLMAPIURL:   "https://example.test/v1",
		LLMAPIKey:   "ak-test-1234",
		LLMModel:    "model-test",
		CronExpr:    "*/5 * * * *",
		TargetACOS:  30,
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	invalid := validSettings()
	invalid.CronExpr = "bad cron"
	require.Error(t, invalid.Validate())

	invalid = validSettings()
	invalid.LLMProvider = "acme"
	require.Error(t, invalid.Validate())

	invalid = validSettings()
	invalid.TargetACOS = 0
	require.Error(t, invalid.Validate())
}

func TestRuntimeSettings_Redacted(t *testing.T) {
	s := validSettings().Redacted()
	assert.Equal(t, "********1234", s.LLMAPIKey)
	assert.Equal(t, "model-test", s.LLMModel)

	long := RuntimeSettings{LLMAPIKey: "sk-proj-0123456789abcdef-9876"}
	assert.Equal(t, "********9876", long.Redacted().LLMAPIKey)
	assert.Equal(t, "********1234", RuntimeSettings{LLMAPIKey: "sk-secret-1234"}.Redacted().LLMAPIKey)

	short := RuntimeSettings{LLMAPIKey: "abc"}
	assert.Equal(t, "****", short.Redacted().LLMAPIKey)
	assert.Empty(t, RuntimeSettings{}.Redacted().LLMAPIKey)
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	require.NoError(t, os.WriteFile(filePath, []byte("{"), 0o600))
	_, err = LoadRuntimeSettingsFile(filePath)
	assert.Error(t, err)
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("CRON_EXPR", "0 1 * * *")

	override := RuntimeSettings{
		LLMProvider: "DeepSeek",
		LLMAPIKey:   "file-key",
		LLMModel:    "file-model",
		CronExpr:    "*/30 * * * *",
		TargetACOS:  20,
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.LLM.APIURL)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, "file-model", cfg.LLM.Model)
	assert.Equal(t, "*/30 * * * *", cfg.Schedule.CronExpr)
	assert.Equal(t, 20.0, cfg.Analysis.TargetACOS)

	rs := cfg.RuntimeSettings()
	assert.Equal(t, "deepseek", rs.LLMProvider)
	assert.Equal(t, 20.0, rs.TargetACOS)
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")
	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	next := RuntimeSettings{
		LLMProvider: "Gemini",
		LLMAPIKey:   "********1234",
		LLMModel:    "gemini-2.0-flash",
		CronExpr:    "*/10 * * * *",
		TargetACOS:  25,
	}
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, "gemini", got.LLMProvider)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", got.LLMAPIURL)
	assert.Equal(t, "ak-test-1234", got.LLMAPIKey, "redacted key keeps the stored one")

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, got, loaded)

	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, got, current)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{LLMProvider: "openai", CronExpr: "nope"})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	current, _ = store.GetRuntimeSettings()
	assert.Equal(t, got, current)
}

func TestNewRuntimeSettingsStore_Validates(t *testing.T) {
	_, err := NewRuntimeSettingsStore("", validSettings())
	assert.Error(t, err)
	_, err = NewRuntimeSettingsStore(filepath.Join(t.TempDir(), "s.json"), RuntimeSettings{})
	assert.Error(t, err)
}
