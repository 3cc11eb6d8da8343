package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backendKeys = []string{EnvOpenAIEndpoint, EnvOpenAIKey, EnvSearchEndpoint, EnvSearchIndex, EnvSearchKey}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadReadsBackendValues(t *testing.T) {
	t.Setenv(EnvOpenAIEndpoint, "https://oai.example.com")
	t.Setenv(EnvOpenAIKey, "oai-key")
	t.Setenv(EnvSearchEndpoint, "https://search.example.com")
	t.Setenv(EnvSearchIndex, "docs")
	t.Setenv(EnvSearchKey, "search-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://oai.example.com", cfg.OpenAIEndpoint)
	assert.Equal(t, "oai-key", cfg.OpenAIKey)
	assert.Equal(t, "https://search.example.com", cfg.SearchEndpoint)
	assert.Equal(t, "docs", cfg.SearchIndex)
	assert.Equal(t, "search-key", cfg.SearchKey)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.UseDelegatedIdentity())
}

func TestLoadMissingValuesAreAbsentNotErrors(t *testing.T) {
	for _, key := range backendKeys {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.OpenAIEndpoint)
	assert.Empty(t, cfg.OpenAIKey)
	assert.Empty(t, cfg.SearchEndpoint)
	assert.Empty(t, cfg.SearchIndex)
	assert.Empty(t, cfg.SearchKey)
	assert.True(t, cfg.UseDelegatedIdentity())
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"AZURE_OPENAI_REALTIME_DEPLOYMENT",
		"AZURE_SEARCH_IDENTIFIER_FIELD",
		"AZURE_SEARCH_CONTENT_FIELD",
		"AZURE_SEARCH_TITLE_FIELD",
		"AZURE_SEARCH_EMBEDDING_FIELD",
		"AZURE_SEARCH_USE_VECTOR_QUERY",
		"AZURE_SEARCH_TOP",
		"AZURE_SEARCH_NEAREST_NEIGHBORS",
		"AZURE_SEARCH_TIMEOUT",
		"AZURE_OPENAI_REALTIME_TEMPERATURE",
		"AZURE_OPENAI_REALTIME_MAX_TOKENS",
		"AZURE_OPENAI_REALTIME_DISABLE_AUDIO",
		"LOG_LEVEL",
		"SHUTDOWN_TIMEOUT",
		"METRICS_ENABLED",
	} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-realtime-preview", cfg.RealtimeDeployment)
	assert.Equal(t, "chunk_id", cfg.IdentifierField)
	assert.Equal(t, "chunk", cfg.ContentField)
	assert.Equal(t, "title", cfg.TitleField)
	assert.Equal(t, "text_vector", cfg.EmbeddingField)
	assert.True(t, cfg.UseVectorQuery)
	assert.Equal(t, 5, cfg.SearchTop)
	assert.Equal(t, 50, cfg.SearchNearestNeighbors)
	assert.Equal(t, 30*time.Second, cfg.SearchTimeout)
	assert.Nil(t, cfg.Temperature)
	assert.Nil(t, cfg.MaxTokens)
	assert.False(t, cfg.DisableAudio)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadReadsSessionTuning(t *testing.T) {
	t.Setenv("AZURE_OPENAI_REALTIME_TEMPERATURE", "0.6")
	t.Setenv("AZURE_OPENAI_REALTIME_MAX_TOKENS", "512")
	t.Setenv("AZURE_OPENAI_REALTIME_DISABLE_AUDIO", "true")
	t.Setenv("AZURE_SEARCH_TOP", "3")
	t.Setenv("AZURE_SEARCH_NEAREST_NEIGHBORS", "20")
	t.Setenv("AZURE_SEARCH_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.6, *cfg.Temperature, 1e-9)
	require.NotNil(t, cfg.MaxTokens)
	assert.Equal(t, int64(512), *cfg.MaxTokens)
	assert.True(t, cfg.DisableAudio)
	assert.Equal(t, 3, cfg.SearchTop)
	assert.Equal(t, 20, cfg.SearchNearestNeighbors)
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout)
}

func TestLoadRejectsMalformedTypedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "Shutdown timeout", key: "SHUTDOWN_TIMEOUT", value: "soon"},
		{name: "Temperature", key: "AZURE_OPENAI_REALTIME_TEMPERATURE", value: "warm"},
		{name: "Max tokens", key: "AZURE_OPENAI_REALTIME_MAX_TOKENS", value: "many"},
		{name: "Top", key: "AZURE_SEARCH_TOP", value: "five"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateReportsAllMissingTogether(t *testing.T) {
	cfg := &Config{OpenAIKey: "k", SearchKey: "k"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvOpenAIEndpoint)
	assert.Contains(t, err.Error(), EnvSearchEndpoint)
	assert.Contains(t, err.Error(), EnvSearchIndex)
	assert.NotContains(t, err.Error(), EnvOpenAIKey)
	assert.NotContains(t, err.Error(), EnvSearchKey)
}

func TestUseDelegatedIdentity(t *testing.T) {
	tests := []struct {
		name      string
		openAIKey string
		searchKey string
		expected  bool
	}{
		{name: "Both keys", openAIKey: "a", searchKey: "b", expected: false},
		{name: "No keys", expected: true},
		{name: "Only OpenAI key", openAIKey: "a", expected: true},
		{name: "Only search key", searchKey: "b", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{OpenAIKey: tt.openAIKey, SearchKey: tt.searchKey}
			assert.Equal(t, tt.expected, cfg.UseDelegatedIdentity())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	unsetEnv(t, EnvSearchIndex)
	t.Setenv(EnvSearchEndpoint, "https://from-process.example.com")

	path := filepath.Join(t.TempDir(), ".env")
	content := EnvSearchIndex + "=from-file\n" + EnvSearchEndpoint + "=https://from-file.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.SearchIndex)
	assert.Equal(t, "https://from-process.example.com", cfg.SearchEndpoint, "process environment wins over the file")
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
