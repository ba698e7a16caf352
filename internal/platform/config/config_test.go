package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/incident-crawler/internal/process/dedup"
)

// unsetEnv clears keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()

	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetEnv(t, "APP_ENV", "HEALTH_PORT", "RULES_VERSION", "INCIDENT_MODE", "INCIDENT_SCOPE",
		"MIN_YEAR", "MAX_YEAR", "BOT_TOKEN", "TARGET_CHAT_ID", "CLASSIFY_ENABLED", "STATE_DIR")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.HealthPort)
	assert.Equal(t, "rules@v1", cfg.RulesVersion)
	assert.Equal(t, "standard", cfg.IncidentMode)
	assert.Equal(t, "auto-only", cfg.IncidentScope)
	assert.Equal(t, 2020, cfg.MinYear)
	assert.Equal(t, "output/state", cfg.StateDir)
	assert.False(t, cfg.ClassifyEnabled)
	assert.Equal(t, dedup.DefaultConfig(), cfg.Dedup())
}

func TestLoad_CredentialAliases(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		newsAPI string
		s2      string
	}{
		{
			name:    "primary names",
			env:     map[string]string{"NEWSAPI_API_KEY": "n1", "SEMANTIC_SCHOLAR_API_KEY": "s1"},
			newsAPI: "n1",
			s2:      "s1",
		},
		{
			name:    "alternative names",
			env:     map[string]string{"NEWSAPI_API_TOKEN": "n2", "S2_API_KEY": "s2"},
			newsAPI: "n2",
			s2:      "s2",
		},
		{
			name:    "primary wins",
			env:     map[string]string{"NEWSAPI_API_KEY": "n1", "NEWSAPI_API_TOKEN": "n2"},
			newsAPI: "n1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetEnv(t, "NEWSAPI_API_KEY", "NEWSAPI_API_TOKEN", "SEMANTIC_SCHOLAR_API_KEY", "S2_API_KEY")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)

			assert.Equal(t, tt.newsAPI, cfg.NewsAPIKey)
			assert.Equal(t, tt.s2, cfg.SemanticScholarAPIKey)
			assert.Equal(t, tt.newsAPI, cfg.ProviderSettings().NewsAPI.APIKey)
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bot without chat", env: map[string]string{"BOT_TOKEN": "123:abc"}},
		{name: "inverted years", env: map[string]string{"MIN_YEAR": "2024", "MAX_YEAR": "2021"}},
		{name: "bad number", env: map[string]string{"HEALTH_PORT": "eighty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsetEnv(t, "BOT_TOKEN", "TARGET_CHAT_ID", "MIN_YEAR", "MAX_YEAR", "HEALTH_PORT")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_ProvidersDisabled(t *testing.T) {
	unsetEnv(t, "PROVIDERS_DISABLED")
	t.Setenv("PROVIDERS_DISABLED", "GDELT,NewsAPI")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"GDELT", "NewsAPI"}, cfg.ProviderSettings().Disabled)
}
