// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.corpusgate/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Provider: model selection, temperature, max tokens, embedder
//   - Storage: PostgreSQL connection (see storage.go)
//   - Retrieval: top-k, chunking sizes, HyDE derivation
//
// Security: sensitive data (passwords) are masked in MarshalJSON().
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDimension indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidHyDETimeout indicates the HyDE timeout is out of range.
	ErrInvalidHyDETimeout = errors.New("invalid hyde timeout")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidHistoryTurns indicates the history window is out of range.
	ErrInvalidHistoryTurns = errors.New("invalid max history turns")

	// ErrInvalidRetention indicates the attachment retention is out of range.
	ErrInvalidRetention = errors.New("invalid attachment retention")
)

// Provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
)

const (
	// DefaultEmbedderModel outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality; the pgvector schema stores 768.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbeddingDimension must match the vector(N) column in the
	// deployed schema. Changing it requires a new migration.
	DefaultEmbeddingDimension = 768

	// DefaultModelName is the answer-generation model.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultFastModelName is the small model used for HyDE question
	// derivation and history summarization.
	DefaultFastModelName = "gemini-2.5-flash-lite"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"` // "googleai" (default) or "ollama"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	FastModelName string  `mapstructure:"fast_model_name" json:"fast_model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens" json:"max_tokens"`

	// EmbeddingDimension is the vector width produced by the embedder and
	// declared by the document_chunks schema. Validated at startup; the
	// store re-checks every vector before insert.
	EmbeddingDimension int `mapstructure:"embedding_dimension" json:"embedding_dimension"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingestion configuration
	ChunkSize    int  `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int  `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	HyDEEnabled  bool `mapstructure:"hyde_enabled" json:"hyde_enabled"`
	HyDETimeout  int  `mapstructure:"hyde_timeout_seconds" json:"hyde_timeout_seconds"`

	// Retrieval configuration
	TopK            int `mapstructure:"top_k" json:"top_k"`
	MaxHistoryTurns int `mapstructure:"max_history_turns" json:"max_history_turns"`

	// AttachmentRetentionHours bounds how long session attachments survive
	// before the retention sweep removes them.
	AttachmentRetentionHours int `mapstructure:"attachment_retention_hours" json:"attachment_retention_hours"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".corpusgate")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL (if set) overrides the individual PostgreSQL fields.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("provider", ProviderGoogleAI)
	viper.SetDefault("model_name", DefaultModelName)
	viper.SetDefault("fast_model_name", DefaultFastModelName)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedding_dimension", DefaultEmbeddingDimension)
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_tokens", 4096)

	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "postgres")
	viper.SetDefault("postgres_password", "")
	viper.SetDefault("postgres_db_name", "corpusgate")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("chunk_size", 1000)
	viper.SetDefault("chunk_overlap", 200)
	viper.SetDefault("hyde_enabled", true)
	viper.SetDefault("hyde_timeout_seconds", 10)

	viper.SetDefault("top_k", 5)
	viper.SetDefault("max_history_turns", 3)

	viper.SetDefault("attachment_retention_hours", 24)
}

func bindEnvVariables() {
	viper.SetEnvPrefix("CORPUSGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Conventional names bound outside the prefix.
	_ = viper.BindEnv("postgres_password", "CORPUSGATE_POSTGRES_PASSWORD", "POSTGRES_PASSWORD")
	_ = viper.BindEnv("ollama_host", "CORPUSGATE_OLLAMA_HOST", "OLLAMA_HOST")
}

// HyDETimeoutDuration returns the HyDE derivation timeout as a duration.
func (c *Config) HyDETimeoutDuration() time.Duration {
	return time.Duration(c.HyDETimeout) * time.Second
}

// AttachmentRetention returns the attachment retention window as a duration.
func (c *Config) AttachmentRetention() time.Duration {
	return time.Duration(c.AttachmentRetentionHours) * time.Hour
}

// maskSecret masks a sensitive string for safe logging.
// Values of 8+ characters keep the first two for identification.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:2] + "****"
}

// MarshalJSON implements json.Marshaler, masking sensitive fields.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}
