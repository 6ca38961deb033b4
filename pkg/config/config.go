package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port    string
	Env     string
	DataDir string

	// Extraction LLM
	LLMBaseURL string
	LLMAPIKey  string
	ModelID    string

	// Search tuning
	MaxResults        int
	MinSharedEntities int
	CooccurrenceBoost float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DataDir:           getEnv("DATA_DIR", "data"),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		ModelID:           getEnv("MODEL_ID", "gpt-4o-mini"),
		MaxResults:        getEnvInt("MAX_RESULTS", 20),
		MinSharedEntities: getEnvInt("MIN_SHARED_ENTITIES", 1),
		CooccurrenceBoost: getEnvFloat("COOCCURRENCE_BOOST", 0.1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.ModelID == "" {
		return fmt.Errorf("MODEL_ID is required")
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("MAX_RESULTS must be positive")
	}
	if c.CooccurrenceBoost < 0 {
		return fmt.Errorf("COOCCURRENCE_BOOST must not be negative")
	}
	// The LLM key is optional: extraction is disabled without it and search
	// degrades to gazetteer-only matching.
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
