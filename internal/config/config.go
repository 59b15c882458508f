// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable the daemon reads at startup.
type Config struct {
	// DataDir holds the SQLite database and pid file.
	DataDir string

	// HTTPAddr is the listen address for the webhook and status API.
	HTTPAddr string
	// APIToken protects the operator endpoints. Empty disables them.
	APIToken string

	// PlatformBaseURL and PlatformToken configure the messaging send API.
	PlatformBaseURL string
	PlatformToken   string

	// EmbeddingAPIKey, EmbeddingBaseURL, and EmbeddingModel configure the
	// embedding provider. An empty key disables the embedding path and the
	// matcher runs on keyword scoring alone.
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// CycleInterval is how often the delivery cycle fires.
	CycleInterval time.Duration

	MaxJobsPerDay int
	TopN          int
	CandidatePool int

	WindowRetentionDays int
	LedgerRetentionDays int

	// MCPStdio enables the diagnostics server on stdin/stdout.
	MCPStdio bool
}

func defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:             filepath.Join(home, ".jobpulse"),
		HTTPAddr:            ":8080",
		EmbeddingModel:      "text-embedding-3-small",
		CycleInterval:       15 * time.Minute,
		MaxJobsPerDay:       5,
		TopN:                3,
		CandidatePool:       200,
		WindowRetentionDays: 7,
		LedgerRetentionDays: 90,
	}
}

// Load builds the Config from defaults, an optional .env file in the
// working directory, and JOBPULSE_* environment variables, in that order
// of increasing precedence.
func Load() (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := defaults()
	cfg.DataDir = envString("JOBPULSE_DATA_DIR", cfg.DataDir)
	cfg.HTTPAddr = envString("JOBPULSE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.APIToken = envString("JOBPULSE_API_TOKEN", cfg.APIToken)
	cfg.PlatformBaseURL = envString("JOBPULSE_PLATFORM_URL", cfg.PlatformBaseURL)
	cfg.PlatformToken = envString("JOBPULSE_PLATFORM_TOKEN", cfg.PlatformToken)
	cfg.EmbeddingAPIKey = envString("JOBPULSE_EMBEDDING_API_KEY", cfg.EmbeddingAPIKey)
	cfg.EmbeddingBaseURL = envString("JOBPULSE_EMBEDDING_BASE_URL", cfg.EmbeddingBaseURL)
	cfg.EmbeddingModel = envString("JOBPULSE_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.MCPStdio = envBool("JOBPULSE_MCP_STDIO", cfg.MCPStdio)

	var err error
	if cfg.CycleInterval, err = envDuration("JOBPULSE_CYCLE_INTERVAL", cfg.CycleInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxJobsPerDay, err = envInt("JOBPULSE_MAX_JOBS_PER_DAY", cfg.MaxJobsPerDay); err != nil {
		return Config{}, err
	}
	if cfg.TopN, err = envInt("JOBPULSE_TOP_N", cfg.TopN); err != nil {
		return Config{}, err
	}
	if cfg.CandidatePool, err = envInt("JOBPULSE_CANDIDATE_POOL", cfg.CandidatePool); err != nil {
		return Config{}, err
	}
	if cfg.WindowRetentionDays, err = envInt("JOBPULSE_WINDOW_RETENTION_DAYS", cfg.WindowRetentionDays); err != nil {
		return Config{}, err
	}
	if cfg.LedgerRetentionDays, err = envInt("JOBPULSE_LEDGER_RETENTION_DAYS", cfg.LedgerRetentionDays); err != nil {
		return Config{}, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.CycleInterval < time.Minute {
		return fmt.Errorf("cycle interval %s is below the 1m floor", c.CycleInterval)
	}
	if c.MaxJobsPerDay < 1 {
		return fmt.Errorf("max jobs per day must be at least 1, got %d", c.MaxJobsPerDay)
	}
	if c.PlatformBaseURL == "" {
		return fmt.Errorf("JOBPULSE_PLATFORM_URL is required")
	}
	return nil
}

// PIDFile returns the daemon pid file path inside the data directory.
func (c Config) PIDFile() string {
	return filepath.Join(c.DataDir, "jobpulse.pid")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
