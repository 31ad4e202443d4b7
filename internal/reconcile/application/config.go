package application

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines reconciliation and overdue-sweep configuration. Values come
// from environment variables first; a YAML file at RECONCILE_CONFIG, when
// present, overrides them.
type Config struct {
	Tolerance       float64                         `yaml:"tolerance"`
	BatchSize       int                             `yaml:"batch_size"`
	DefaultTotalDue float64                         `yaml:"default_total_due"`
	SessionDue      map[string]float64              `yaml:"session_due"`
	DriftAlert      float64                         `yaml:"drift_alert"`
	StorageRoot     string                          `yaml:"storage_root"`
	WebhookURL      string                          `yaml:"webhook_url"`
	PublicBaseURL   string                          `yaml:"public_base_url"`
	Schedule        ScheduleConfig                  `yaml:"schedule"`
	DueDates        map[string]map[string]time.Time `yaml:"due_dates"`
}

// ScheduleConfig defines the daily trigger times.
type ScheduleConfig struct {
	DailyAt        string `yaml:"daily_at"`
	OverdueDailyAt string `yaml:"overdue_daily_at"`
}

const (
	defaultTolerance = 0.01
	defaultBatchSize = 200
)

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Tolerance:       getenvFloatDefault("RECONCILE_TOLERANCE", defaultTolerance),
		BatchSize:       getenvIntDefault("RECONCILE_BATCH_SIZE", defaultBatchSize),
		DefaultTotalDue: getenvFloatDefault("DEFAULT_TOTAL_DUE", 0),
		DriftAlert:      getenvFloatDefault("RECONCILE_DRIFT_ALERT", 0),
		StorageRoot:     getenvDefault("RECONCILE_STORAGE_ROOT", filepath.FromSlash("var/reports/reconcile")),
		WebhookURL:      os.Getenv("RECONCILE_WEBHOOK_URL"),
		PublicBaseURL:   getenvDefault("RECONCILE_PUBLIC_BASE_URL", "http://localhost:8080"),
	}

	if path := os.Getenv("RECONCILE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = os.Getenv("RECONCILE_DAILY_AT")
	}
	if cfg.Schedule.OverdueDailyAt == "" {
		cfg.Schedule.OverdueDailyAt = os.Getenv("OVERDUE_DAILY_AT")
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.StorageRoot == "" {
		return cfg, errors.New("reconcile: storage root required")
	}
	return cfg, nil
}

// DefaultDueFor resolves the total due used when reconciliation must create a
// snapshot that payment recording never established. Per-session overrides win
// over the global default.
func (c Config) DefaultDueFor(session string) float64 {
	if c.SessionDue != nil {
		if due, ok := c.SessionDue[session]; ok {
			return due
		}
	}
	return c.DefaultTotalDue
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
