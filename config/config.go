// Package config provides configuration loading for reasonbank.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/reasonbank/bank"
)

// Config is the root configuration.
type Config struct {
	Bank       BankConfig       `koanf:"bank"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Distiller  DistillerConfig  `koanf:"distiller"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// BankConfig configures the memory store.
type BankConfig struct {
	// StoragePath is the content file path. The embedding file and lock
	// file derive from it unless EmbeddingPath overrides the former.
	StoragePath   string `koanf:"storage_path"`
	EmbeddingPath string `koanf:"embedding_path"`

	// Strategy is the default retrieval strategy: "embedding" or "lexical".
	Strategy string `koanf:"strategy"`

	// TopK is the default retrieval bound.
	TopK int `koanf:"top_k"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the backend: "tei" (default), "openai", or "none"
	// to run without embeddings (lexical retrieval only).
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
}

// DistillerConfig configures the lesson extraction LLM.
type DistillerConfig struct {
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Bank.StoragePath == "" {
		return fmt.Errorf("bank: %w", bank.ErrEmptyStoragePath)
	}
	switch c.Bank.Strategy {
	case string(bank.StrategyEmbedding), string(bank.StrategyLexical):
	default:
		return fmt.Errorf("bank: unknown strategy %q", c.Bank.Strategy)
	}
	if c.Bank.TopK <= 0 {
		return fmt.Errorf("bank: top_k must be positive, got %d", c.Bank.TopK)
	}

	switch c.Embeddings.Provider {
	case "tei", "openai", "none":
	default:
		return fmt.Errorf("embeddings: unknown provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "openai" && !c.Embeddings.APIKey.IsSet() {
		return fmt.Errorf("embeddings: openai provider requires an api key")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Bank.Strategy == "" {
		cfg.Bank.Strategy = string(bank.StrategyEmbedding)
	}
	if cfg.Bank.TopK == 0 {
		cfg.Bank.TopK = bank.DefaultTopK
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "tei"
	}
	if cfg.Embeddings.Provider == "tei" && cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
