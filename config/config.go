/*
Package config loads process configuration.

PURPOSE:
  One place that reads the environment (optionally seeded from a .env file)
  and an optional YAML engine-policy file, applies defaults, and validates.

ENVIRONMENT:
  APP_PORT            HTTP port (8080)
  APP_ENV             development | production (development)
  DB_DRIVER           sqlite | postgres (sqlite)
  DB_PATH             SQLite file, ":memory:" allowed (insurance.db)
  DATABASE_URL        PostgreSQL DSN, required when DB_DRIVER=postgres
  LOG_LEVEL           logrus level (info)
  LOG_FORMAT          text | json (text)
  LOG_FILE            rotated log file, empty = stdout only
  KAFKA_BROKERS       comma-separated; empty disables the Kafka publisher
  KAFKA_TOPIC         (insurance-engine-events)
  EXPORT_DIR          spreadsheet output directory (./exports)
  SCHEDULER_ENABLED   (true)
  SCAN_INTERVAL       grade suggestion scan (24h)
  SWEEP_INTERVAL      suggestion expiry sweep (1h)
  DETECT_INTERVAL     monthly change detection (6h)
  ENGINE_POLICY_FILE  YAML thresholds, see Policy
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/insurance-engine/detection"
	"github.com/warp/insurance-engine/generic"
	"github.com/warp/insurance-engine/hr"
	"github.com/warp/insurance-engine/suggestion"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Log       LogConfig
	Kafka     KafkaConfig
	Export    ExportConfig
	Scheduler SchedulerConfig
	Policy    Policy
}

type AppConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Driver string
	Path   string
	URL    string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether events should also go to Kafka.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type ExportConfig struct {
	Dir string
}

type SchedulerConfig struct {
	Enabled        bool
	ScanInterval   time.Duration
	SweepInterval  time.Duration
	DetectInterval time.Duration
}

// Policy holds the engine thresholds.
type Policy struct {
	SeniorityYears    int      `yaml:"seniority_years"`
	SuggestionTTLDays int      `yaml:"suggestion_ttl_days"`
	MaxGrade          int      `yaml:"max_grade"`
	LongAbsenceDays   int      `yaml:"long_absence_days"`
	QualifyingTypes   []string `yaml:"qualifying_absence_types"`
	DetectionWorkers  int      `yaml:"detection_workers"`
}

// DefaultPolicy mirrors the component defaults.
func DefaultPolicy() Policy {
	s := suggestion.DefaultPolicy()
	d := detection.DefaultPolicy()
	types := make([]string, len(d.QualifyingTypes))
	for i, t := range d.QualifyingTypes {
		types[i] = string(t)
	}
	return Policy{
		SeniorityYears:    s.SeniorityYears,
		SuggestionTTLDays: s.TTLDays,
		MaxGrade:          int(s.MaxGrade),
		LongAbsenceDays:   d.LongAbsenceDays,
		QualifyingTypes:   types,
		DetectionWorkers:  d.Workers,
	}
}

func (p Policy) Suggestion() suggestion.Policy {
	return suggestion.Policy{
		SeniorityYears: p.SeniorityYears,
		TTLDays:        p.SuggestionTTLDays,
		MaxGrade:       generic.Grade(p.MaxGrade),
	}
}

func (p Policy) Detection() detection.Policy {
	types := make([]hr.AbsenceType, len(p.QualifyingTypes))
	for i, t := range p.QualifyingTypes {
		types[i] = hr.AbsenceType(strings.ToUpper(strings.TrimSpace(t)))
	}
	return detection.Policy{
		LongAbsenceDays: p.LongAbsenceDays,
		QualifyingTypes: types,
		Workers:         p.DetectionWorkers,
	}
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}

	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}
	cfg.App = AppConfig{
		Port: appPort,
		Env:  getEnv("APP_ENV", "development"),
	}

	cfg.Database = DatabaseConfig{
		Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		Path:   getEnv("DB_PATH", "insurance.db"),
		URL:    getEnv("DATABASE_URL", ""),
	}

	cfg.Log = LogConfig{
		Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		File:   getEnv("LOG_FILE", ""),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: getEnvSlice("KAFKA_BROKERS"),
		Topic:   getEnv("KAFKA_TOPIC", "insurance-engine-events"),
	}

	cfg.Export = ExportConfig{Dir: getEnv("EXPORT_DIR", "./exports")}

	enabled, err := strconv.ParseBool(getEnv("SCHEDULER_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
	}
	cfg.Scheduler.Enabled = enabled
	if cfg.Scheduler.ScanInterval, err = getDuration("SCAN_INTERVAL", "24h"); err != nil {
		return nil, err
	}
	if cfg.Scheduler.SweepInterval, err = getDuration("SWEEP_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	if cfg.Scheduler.DetectInterval, err = getDuration("DETECT_INTERVAL", "6h"); err != nil {
		return nil, err
	}

	cfg.Policy = DefaultPolicy()
	if path := getEnv("ENGINE_POLICY_FILE", ""); path != "" {
		if cfg.Policy, err = LoadPolicy(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep
// their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return p, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("APP_PORT out of range: %d", c.App.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.Log.Format)
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.Scheduler.ScanInterval <= 0 || c.Scheduler.SweepInterval <= 0 || c.Scheduler.DetectInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	return c.Policy.Validate()
}

func (p Policy) Validate() error {
	if p.SeniorityYears <= 0 {
		return fmt.Errorf("seniority_years must be positive")
	}
	if p.SuggestionTTLDays <= 0 {
		return fmt.Errorf("suggestion_ttl_days must be positive")
	}
	if !generic.Grade(p.MaxGrade).Valid() {
		return fmt.Errorf("max_grade must be within %d..%d", generic.MinGrade, generic.MaxGrade)
	}
	if p.LongAbsenceDays <= 0 {
		return fmt.Errorf("long_absence_days must be positive")
	}
	if p.DetectionWorkers <= 0 {
		return fmt.Errorf("detection_workers must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
