package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Provider:                 ProviderGoogleAI,
		ModelName:                DefaultModelName,
		FastModelName:            DefaultFastModelName,
		EmbedderModel:            DefaultEmbedderModel,
		EmbeddingDimension:       DefaultEmbeddingDimension,
		Temperature:              0.2,
		MaxTokens:                4096,
		OllamaHost:               "http://localhost:11434",
		PostgresHost:             "localhost",
		PostgresPort:             5432,
		PostgresUser:             "postgres",
		PostgresPassword:         "secret-password",
		PostgresDBName:           "corpusgate",
		PostgresSSLMode:          "disable",
		ChunkSize:                1000,
		ChunkOverlap:             200,
		HyDEEnabled:              true,
		HyDETimeout:              10,
		TopK:                     5,
		MaxHistoryTurns:          3,
		AttachmentRetentionHours: 24,
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"nil config", nil, ErrConfigNil},
		{"unknown provider", func(c *Config) { c.Provider = "openai" }, ErrInvalidProvider},
		{"empty model", func(c *Config) { c.ModelName = " " }, ErrInvalidModelName},
		{"empty fast model", func(c *Config) { c.FastModelName = "" }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"zero dimension", func(c *Config) { c.EmbeddingDimension = 0 }, ErrInvalidEmbeddingDimension},
		{"huge dimension", func(c *Config) { c.EmbeddingDimension = 10000 }, ErrInvalidEmbeddingDimension},
		{"negative temperature", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"bad ollama host", func(c *Config) { c.Provider = ProviderOllama; c.OllamaHost = "not a url" }, ErrInvalidOllamaHost},
		{"empty pg host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"bad pg port", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "maybe" }, ErrInvalidPostgresSSLMode},
		{"tiny chunk size", func(c *Config) { c.ChunkSize = 10 }, ErrInvalidChunking},
		{"overlap >= size", func(c *Config) { c.ChunkOverlap = 1000 }, ErrInvalidChunking},
		{"zero hyde timeout", func(c *Config) { c.HyDETimeout = 0 }, ErrInvalidHyDETimeout},
		{"zero top k", func(c *Config) { c.TopK = 0 }, ErrInvalidTopK},
		{"negative history turns", func(c *Config) { c.MaxHistoryTurns = -1 }, ErrInvalidHistoryTurns},
		{"zero retention", func(c *Config) { c.AttachmentRetentionHours = 0 }, ErrInvalidRetention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *Config
			if tt.mutate != nil {
				cfg = validConfig()
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConnString(t *testing.T) {
	cfg := validConfig()
	got := cfg.ConnString()

	if !strings.HasPrefix(got, "postgres://") {
		t.Errorf("ConnString() = %q, want postgres:// prefix", got)
	}
	if !strings.Contains(got, "localhost:5432") {
		t.Errorf("ConnString() = %q, want host:port", got)
	}
	if !strings.Contains(got, "sslmode=disable") {
		t.Errorf("ConnString() = %q, want sslmode", got)
	}
	if !strings.Contains(got, "secret-password") {
		t.Errorf("ConnString() = %q, want password present", got)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	cfg := validConfig()
	t.Setenv("DATABASE_URL", "postgresql://rag:pw@db.internal:6432/knowledge?sslmode=require")

	if err := cfg.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL() = %v", err)
	}
	if cfg.PostgresHost != "db.internal" {
		t.Errorf("host = %q, want db.internal", cfg.PostgresHost)
	}
	if cfg.PostgresPort != 6432 {
		t.Errorf("port = %d, want 6432", cfg.PostgresPort)
	}
	if cfg.PostgresUser != "rag" || cfg.PostgresPassword != "pw" {
		t.Errorf("credentials = %q/%q, want rag/pw", cfg.PostgresUser, cfg.PostgresPassword)
	}
	if cfg.PostgresDBName != "knowledge" {
		t.Errorf("db name = %q, want knowledge", cfg.PostgresDBName)
	}
	if cfg.PostgresSSLMode != "require" {
		t.Errorf("sslmode = %q, want require", cfg.PostgresSSLMode)
	}
}

func TestParseDatabaseURL_BadScheme(t *testing.T) {
	cfg := validConfig()
	t.Setenv("DATABASE_URL", "mysql://root@localhost/db")

	if err := cfg.parseDatabaseURL(); err == nil {
		t.Fatal("parseDatabaseURL() = nil, want error for non-postgres scheme")
	}
}

func TestMarshalJSON_MasksPassword(t *testing.T) {
	cfg := validConfig()

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() = %v", err)
	}
	if strings.Contains(string(data), "secret-password") {
		t.Errorf("marshaled config leaks password: %s", data)
	}
	if !strings.Contains(string(data), "se****") {
		t.Errorf("expected masked password prefix, got %s", data)
	}
}
