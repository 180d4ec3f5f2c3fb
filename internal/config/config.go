// Package config provides configuration management for SoulLink.
// It loads settings from environment variables with the SOULLINK_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the SoulLink service.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	LLM         LLMConfig
	AnythingLLM AnythingLLMConfig
	Memory      MemoryConfig
	Workspace   WorkspaceConfig
	Security    SecurityConfig
	Backup      BackupConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 8080)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath      string // Path to the SQLite data directory (default: ./data)
	PostgresDSN   string // Postgres connection string when StorageEngine is postgres
}

// LLMConfig contains the extraction model configuration.
type LLMConfig struct {
	GeminiAPIKey      string  // Gemini API key for memory extraction
	GeminiModel       string  // Gemini model name (default: gemini-2.5-flash)
	GeminiBaseURL     string  // Override for the Gemini API base URL
	RequestsPerSecond float64 // Outgoing request throttle (default: 2)
}

// AnythingLLMConfig contains the remote workspace host configuration.
type AnythingLLMConfig struct {
	BaseURL     string        // AnythingLLM instance URL (default: http://localhost:3001)
	APIKey      string        // AnythingLLM API key
	Timeout     time.Duration // Configuration call timeout (default: 30s)
	ChatTimeout time.Duration // Chat completion timeout (default: 120s)
}

// MemoryConfig tunes the memory extraction pipeline.
type MemoryConfig struct {
	NumWorkers          int     // Extraction worker goroutines (default: 2)
	QueueSize           int     // Extraction queue depth (default: 256)
	ConfidenceFloor     float64 // Minimum confidence to keep a candidate (default: 0.3)
	HighConfidenceFloor float64 // Confidence required for permanent promotion (default: 0.9)
	SyncEveryN          int     // Memory changes per workspace sync trigger (default: 5)
	ContextTokenBudget  int     // Token budget for injected memory context (default: 1000)
}

// WorkspaceConfig contains the canonical workspace configuration source.
type WorkspaceConfig struct {
	CanonicalDir string // Directory holding canonical.yaml and templates (default: ./config)
	WatchEnabled bool   // Reload canonical config on file changes (default: true)
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	APIToken string // Bearer token required on API calls; empty disables auth
}

// BackupConfig controls periodic SQLite snapshots.
type BackupConfig struct {
	Enabled  bool          // Enable automatic backups (default: false)
	Interval time.Duration // Snapshot interval (default: 24h)
	Dir      string        // Snapshot directory (default: ./backups)
	Keep     int           // Snapshots to retain (default: 14)
	Verify   bool          // Integrity-check each snapshot (default: true)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the SOULLINK_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SOULLINK_PORT", 8080),
			Host: getEnv("SOULLINK_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("SOULLINK_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("SOULLINK_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("SOULLINK_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			GeminiAPIKey:      getEnv("SOULLINK_GEMINI_API_KEY", ""),
			GeminiModel:       getEnv("SOULLINK_GEMINI_MODEL", "gemini-2.5-flash"),
			GeminiBaseURL:     getEnv("SOULLINK_GEMINI_BASE_URL", ""),
			RequestsPerSecond: getEnvFloat("SOULLINK_GEMINI_RPS", 2),
		},
		AnythingLLM: AnythingLLMConfig{
			BaseURL:     getEnv("SOULLINK_ANYTHINGLLM_URL", "http://localhost:3001"),
			APIKey:      getEnv("SOULLINK_ANYTHINGLLM_API_KEY", ""),
			Timeout:     getEnvDuration("SOULLINK_ANYTHINGLLM_TIMEOUT", 30*time.Second),
			ChatTimeout: getEnvDuration("SOULLINK_ANYTHINGLLM_CHAT_TIMEOUT", 120*time.Second),
		},
		Memory: MemoryConfig{
			NumWorkers:          getEnvInt("SOULLINK_MEMORY_WORKERS", 2),
			QueueSize:           getEnvInt("SOULLINK_MEMORY_QUEUE_SIZE", 256),
			ConfidenceFloor:     getEnvFloat("SOULLINK_CONFIDENCE_FLOOR", 0.3),
			HighConfidenceFloor: getEnvFloat("SOULLINK_HIGH_CONFIDENCE_FLOOR", 0.9),
			SyncEveryN:          getEnvInt("SOULLINK_SYNC_EVERY_N", 5),
			ContextTokenBudget:  getEnvInt("SOULLINK_CONTEXT_TOKEN_BUDGET", 1000),
		},
		Workspace: WorkspaceConfig{
			CanonicalDir: getEnv("SOULLINK_CANONICAL_DIR", "./config"),
			WatchEnabled: getEnvBool("SOULLINK_CANONICAL_WATCH", true),
		},
		Security: SecurityConfig{
			APIToken: getEnv("SOULLINK_API_TOKEN", ""),
		},
		Backup: BackupConfig{
			Enabled:  getEnvBool("SOULLINK_BACKUP_ENABLED", false),
			Interval: getEnvDuration("SOULLINK_BACKUP_INTERVAL", 24*time.Hour),
			Dir:      getEnv("SOULLINK_BACKUP_DIR", "./backups"),
			Keep:     getEnvInt("SOULLINK_BACKUP_KEEP", 14),
			Verify:   getEnvBool("SOULLINK_BACKUP_VERIFY", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: SOULLINK_POSTGRES_DSN is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}
	if c.Memory.ConfidenceFloor < 0 || c.Memory.ConfidenceFloor > 1 {
		return fmt.Errorf("config: confidence floor %.2f out of range", c.Memory.ConfidenceFloor)
	}
	if c.Memory.HighConfidenceFloor < c.Memory.ConfidenceFloor || c.Memory.HighConfidenceFloor > 1 {
		return fmt.Errorf("config: high confidence floor %.2f out of range", c.Memory.HighConfidenceFloor)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false
// (case-insensitive). Unparseable values fall back to the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "45s")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
