// Package config loads process settings from the environment, optionally
// seeded from a local .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Environment variable keys read by the assistant backends.
const (
	EnvOpenAIEndpoint = "AZURE_OPENAI_ENDPOINT"
	EnvOpenAIKey      = "AZURE_OPENAI_API_KEY"
	EnvSearchEndpoint = "AZURE_SEARCH_ENDPOINT"
	EnvSearchIndex    = "AZURE_SEARCH_INDEX"
	EnvSearchKey      = "AZURE_SEARCH_API_KEY"
)

// Config holds every setting of the server. The five backend values have no
// defaults: an unset or empty variable is reported as "".
type Config struct {
	// Backends
	OpenAIEndpoint string `env:"AZURE_OPENAI_ENDPOINT"`
	OpenAIKey      string `env:"AZURE_OPENAI_API_KEY"`
	SearchEndpoint string `env:"AZURE_SEARCH_ENDPOINT"`
	SearchIndex    string `env:"AZURE_SEARCH_INDEX"`
	SearchKey      string `env:"AZURE_SEARCH_API_KEY"`

	// Realtime session tuning
	RealtimeDeployment string `env:"AZURE_OPENAI_REALTIME_DEPLOYMENT" envDefault:"gpt-4o-realtime-preview"`
	VoiceChoice        string `env:"AZURE_OPENAI_REALTIME_VOICE_CHOICE"`
	// Temperature and MaxTokens stay nil when unset so the model defaults apply.
	Temperature  *float64 `env:"AZURE_OPENAI_REALTIME_TEMPERATURE"`
	MaxTokens    *int64   `env:"AZURE_OPENAI_REALTIME_MAX_TOKENS"`
	DisableAudio bool     `env:"AZURE_OPENAI_REALTIME_DISABLE_AUDIO" envDefault:"false"`

	// Search index layout
	SemanticConfiguration string `env:"AZURE_SEARCH_SEMANTIC_CONFIGURATION"`
	IdentifierField       string `env:"AZURE_SEARCH_IDENTIFIER_FIELD" envDefault:"chunk_id"`
	ContentField          string `env:"AZURE_SEARCH_CONTENT_FIELD" envDefault:"chunk"`
	TitleField            string `env:"AZURE_SEARCH_TITLE_FIELD" envDefault:"title"`
	EmbeddingField        string `env:"AZURE_SEARCH_EMBEDDING_FIELD" envDefault:"text_vector"`
	UseVectorQuery        bool   `env:"AZURE_SEARCH_USE_VECTOR_QUERY" envDefault:"true"`

	// Search requests
	SearchTop              int           `env:"AZURE_SEARCH_TOP" envDefault:"5"`
	SearchNearestNeighbors int           `env:"AZURE_SEARCH_NEAREST_NEIGHBORS" envDefault:"50"`
	SearchTimeout          time.Duration `env:"AZURE_SEARCH_TIMEOUT" envDefault:"30s"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Telemetry
	ServiceName    string `env:"SERVICE_NAME" envDefault:"voicerag"`
	EnableTracing  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoadDotEnv copies the variables of a local settings file into the process
// environment without overriding values that are already set. A missing file
// is not an error.
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading dotenv: %w", err)
	}
	return nil
}

// Load parses the environment into a Config. Missing backend values are not
// an error; see Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// Validate reports, in one error, every backend setting that is needed at
// first use but is empty. Keys are never reported: an absent key selects the
// delegated identity instead.
func (c *Config) Validate() error {
	var errs []error
	for _, req := range []struct {
		key   string
		value string
	}{
		{EnvOpenAIEndpoint, c.OpenAIEndpoint},
		{EnvSearchEndpoint, c.SearchEndpoint},
		{EnvSearchIndex, c.SearchIndex},
	} {
		if strings.TrimSpace(req.value) == "" {
			errs = append(errs, fmt.Errorf("%s is not set", req.key))
		}
	}
	return errors.Join(errs...)
}

// UseDelegatedIdentity reports whether a shared delegated credential is
// needed, i.e. whether at least one backend has no key.
func (c *Config) UseDelegatedIdentity() bool {
	return c.OpenAIKey == "" || c.SearchKey == ""
}
