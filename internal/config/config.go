package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Normalize NormalizeConfig `json:"normalize" yaml:"normalize"`
	Anomaly   AnomalyConfig   `json:"anomaly" yaml:"anomaly"`
	Classify  ClassifyConfig  `json:"classify" yaml:"classify"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	Archive   ArchiveConfig   `json:"archive" yaml:"archive"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	API       APIConfig       `json:"api" yaml:"api"`
}

type IngestConfig struct {
	Source    string `json:"source" yaml:"source"`
	Delimiter string `json:"delimiter" yaml:"delimiter"`
	// Debounce applies to watch mode only.
	Debounce time.Duration `json:"debounce" yaml:"debounce"`
}

type NormalizeConfig struct {
	Timezone         string `json:"timezone" yaml:"timezone"`
	DefaultActorType string `json:"default_actor_type" yaml:"default_actor_type"`
}

type AnomalyConfig struct {
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Trees         int     `json:"trees" yaml:"trees"`
	SampleSize    int     `json:"sample_size" yaml:"sample_size"`
	// Seed pins the forest's randomness; nil draws a fresh seed per run.
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

type ClassifyConfig struct {
	DeniedStatuses []string `json:"denied_statuses" yaml:"denied_statuses"`
	AlarmMarkers   []string `json:"alarm_markers" yaml:"alarm_markers"`
}

type AlertsConfig struct {
	Console bool        `json:"console" yaml:"console"`
	Kafka   KafkaConfig `json:"kafka" yaml:"kafka"`
	// DedupeWindow suppresses re-publishing the same notice to sinks across
	// watch re-runs. Zero disables it.
	DedupeWindow time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
}

type KafkaConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Brokers []string      `json:"brokers" yaml:"brokers"`
	Topic   string        `json:"topic" yaml:"topic"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	Table   string `json:"table" yaml:"table"`
}

type ReportConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
	Format  string `json:"format" yaml:"format"`
}

type ArchiveConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Driver  string        `json:"driver" yaml:"driver"`
	Dir     string        `json:"dir" yaml:"dir"`
	Prefix  string        `json:"prefix" yaml:"prefix"`
	S3      S3Config      `json:"s3" yaml:"s3"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type S3Config struct {
	Bucket  string `json:"bucket" yaml:"bucket"`
	Region  string `json:"region" yaml:"region"`
	Retries int    `json:"retries" yaml:"retries"`
}

// APIConfig exposes run status over HTTP while watching.
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type AuditConfig struct {
	Path string `json:"path" yaml:"path"`
}

const DefaultContamination = 0.05

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			Source:    "log_portaria_virtual.csv",
			Delimiter: ",",
			Debounce:  500 * time.Millisecond,
		},
		Normalize: NormalizeConfig{Timezone: "UTC", DefaultActorType: "Unknown"},
		Anomaly: AnomalyConfig{
			Contamination: DefaultContamination,
			Trees:         100,
			SampleSize:    256,
		},
		Classify: ClassifyConfig{
			DeniedStatuses: []string{"Negado", "Denied"},
			AlarmMarkers:   []string{"Alarme"},
		},
		Alerts: AlertsConfig{
			Console:      true,
			Kafka:        KafkaConfig{Enabled: false, Timeout: 5 * time.Second},
			DedupeWindow: 24 * time.Hour,
		},
		Storage: StorageConfig{Enabled: true, Driver: "sqlite", DSN: "file:acessos.db?_pragma=busy_timeout(5000)", Table: "acessos"},
		Report:  ReportConfig{Enabled: false, Dir: "charts", Format: "png"},
		Archive: ArchiveConfig{
			Enabled: false,
			Driver:  "dir",
			Dir:     "archive",
			Prefix:  "portaria",
			S3:      S3Config{Region: "us-east-1", Retries: 3},
			Timeout: 30 * time.Second,
		},
		Audit: AuditConfig{Path: "log_portaria_virtual.log"},
		API:   APIConfig{Enabled: false, Addr: "127.0.0.1:8088"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads path when it is set, otherwise returns the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.Delimiter == "" {
		cfg.Ingest.Delimiter = ","
	}
	if cfg.Ingest.Debounce <= 0 {
		cfg.Ingest.Debounce = 500 * time.Millisecond
	}
	if cfg.Normalize.Timezone == "" {
		cfg.Normalize.Timezone = "UTC"
	}
	if cfg.Normalize.DefaultActorType == "" {
		cfg.Normalize.DefaultActorType = "Unknown"
	}
	if cfg.Anomaly.Contamination == 0 {
		cfg.Anomaly.Contamination = DefaultContamination
	}
	if cfg.Anomaly.Trees <= 0 {
		cfg.Anomaly.Trees = 100
	}
	if cfg.Anomaly.SampleSize <= 0 {
		cfg.Anomaly.SampleSize = 256
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "acessos"
	}
	if cfg.Report.Format == "" {
		cfg.Report.Format = "png"
	}
	if cfg.Alerts.Kafka.Timeout <= 0 {
		cfg.Alerts.Kafka.Timeout = 5 * time.Second
	}
	if cfg.Archive.Timeout <= 0 {
		cfg.Archive.Timeout = 30 * time.Second
	}
	if cfg.Archive.S3.Retries <= 0 {
		cfg.Archive.S3.Retries = 3
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = "127.0.0.1:8088"
	}
}

var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks cfg for values the pipeline cannot run with. Contamination
// must lie in the half-open interval (0, 0.5].
func Validate(cfg *Config) error {
	if cfg.Anomaly.Contamination <= 0 || cfg.Anomaly.Contamination > 0.5 {
		return fmt.Errorf("anomaly.contamination must be in (0, 0.5], got %v", cfg.Anomaly.Contamination)
	}
	if len([]rune(cfg.Ingest.Delimiter)) != 1 {
		return fmt.Errorf("ingest.delimiter must be a single character, got %q", cfg.Ingest.Delimiter)
	}
	if _, err := time.LoadLocation(cfg.Normalize.Timezone); err != nil {
		return fmt.Errorf("normalize.timezone: %w", err)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver)
		}
		if !reIdentifier.MatchString(cfg.Storage.Table) {
			return fmt.Errorf("storage.table %q is not a valid identifier", cfg.Storage.Table)
		}
	}
	if cfg.Alerts.Kafka.Enabled {
		if len(cfg.Alerts.Kafka.Brokers) == 0 || cfg.Alerts.Kafka.Topic == "" {
			return errors.New("alerts.kafka requires brokers and topic")
		}
	}
	if cfg.Report.Enabled && cfg.Report.Dir == "" {
		return errors.New("report.dir required when report.enabled is true")
	}
	if cfg.Archive.Enabled {
		switch strings.ToLower(cfg.Archive.Driver) {
		case "dir":
			if cfg.Archive.Dir == "" {
				return errors.New("archive.dir required for the dir driver")
			}
		case "s3":
			if cfg.Archive.S3.Bucket == "" {
				return errors.New("archive.s3.bucket required for the s3 driver")
			}
		default:
			return fmt.Errorf("archive.driver %q unsupported", cfg.Archive.Driver)
		}
	}
	return nil
}

// ResolvePath returns path cleaned and made absolute against the working
// directory. Empty stays empty.
func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}
