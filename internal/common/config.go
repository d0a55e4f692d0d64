package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database       DatabaseConfig
	Watch          WatchConfig
	Extraction     ExtractionConfig
	Classification ClassificationConfig
	Review         ReviewConfig
	Pipeline       PipelineConfig
	Metrics        MetricsConfig
	Health         HealthConfig
	LogLevel       string
}

// DatabaseConfig holds catalog storage configuration. DSN selects the backend:
// postgres:// URLs use pgx, anything else is treated as a sqlite file path.
type DatabaseConfig struct {
	DSN             string
	MaxConns        int
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// WatchConfig holds directory discovery configuration.
type WatchConfig struct {
	Roots       []string
	InitialScan bool
	SkipHidden  bool
	Debounce    time.Duration
}

// ExtractionConfig holds text extraction configuration.
type ExtractionConfig struct {
	Mode             string // "fast" | "high-accuracy"
	Language         string
	Pdftoppm         string
	Tesseract        string
	DPI              int
	MaxPages         int
	Timeout          time.Duration
	ArtifactCacheDir string
}

// ClassificationConfig holds inference service configuration.
type ClassificationConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// ReviewConfig selects the confidence policy and the review gate host mode.
type ReviewConfig struct {
	PolicyMode    string // "always-review" | "threshold"
	LowThreshold  float64
	HighThreshold float64
	Gate          string // "console" | "auto"
}

// PipelineConfig holds orchestrator tunables.
type PipelineConfig struct {
	DefaultPriority int
	IdlePoll        time.Duration
}

// MetricsConfig holds the prometheus endpoint configuration.
type MetricsConfig struct {
	Addr string
}

// HealthConfig holds the inference health poller configuration.
type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_DSN", "./docpipe.db"),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Watch: WatchConfig{
			Roots:       getEnvAsList("WATCH_ROOTS", nil),
			InitialScan: getEnvAsBool("WATCH_INITIAL_SCAN", true),
			SkipHidden:  getEnvAsBool("WATCH_SKIP_HIDDEN", true),
			Debounce:    getEnvAsDuration("WATCH_DEBOUNCE", 500*time.Millisecond),
		},
		Extraction: ExtractionConfig{
			Mode:             getEnv("EXTRACT_MODE", "fast"),
			Language:         getEnv("EXTRACT_LANG", "eng"),
			Pdftoppm:         getEnv("PDFTOPPM_BIN", "pdftoppm"),
			Tesseract:        getEnv("TESSERACT_BIN", "tesseract"),
			DPI:              getEnvAsInt("EXTRACT_DPI", 300),
			MaxPages:         getEnvAsInt("EXTRACT_MAX_PAGES", 0),
			Timeout:          getEnvAsDuration("EXTRACT_TIMEOUT", 2*time.Minute),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
		},
		Classification: ClassificationConfig{
			BaseURL:     getEnv("INFERENCE_BASE_URL", "http://localhost:11434/v1"),
			APIKey:      getEnv("INFERENCE_API_KEY", ""),
			Model:       getEnv("INFERENCE_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat64("INFERENCE_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("INFERENCE_TIMEOUT", 45*time.Second),
		},
		Review: ReviewConfig{
			PolicyMode:    getEnv("REVIEW_POLICY", "threshold"),
			LowThreshold:  getEnvAsFloat64("REVIEW_LOW_THRESHOLD", 0.33),
			HighThreshold: getEnvAsFloat64("REVIEW_HIGH_THRESHOLD", 0.85),
			Gate:          getEnv("REVIEW_GATE", "console"),
		},
		Pipeline: PipelineConfig{
			DefaultPriority: getEnvAsInt("QUEUE_DEFAULT_PRIORITY", 0),
			IdlePoll:        getEnvAsDuration("PIPELINE_IDLE_POLL", 2*time.Second),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		Health: HealthConfig{
			Interval: getEnvAsDuration("HEALTH_INTERVAL", 30*time.Second),
			Timeout:  getEnvAsDuration("HEALTH_TIMEOUT", 5*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
