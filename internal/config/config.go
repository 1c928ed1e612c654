package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"logsentinel/internal/apperr"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
	Training TrainingConfig `json:"training" yaml:"training"`
	Stream   StreamConfig   `json:"stream" yaml:"stream"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	API      APIConfig      `json:"api" yaml:"api"`
	Alerts   AlertsConfig   `json:"alerts" yaml:"alerts"`
}

type LoggingConfig struct {
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type AnalysisConfig struct {
	AnomalyThreshold float64 `json:"anomaly_threshold" yaml:"anomaly_threshold"`
	RulesPath        string  `json:"rules_path" yaml:"rules_path"`
	BundlePath       string  `json:"bundle_path" yaml:"bundle_path"`
	WatchBundle      bool    `json:"watch_bundle" yaml:"watch_bundle"`
}

type TrainingConfig struct {
	InputPath string `json:"input_path" yaml:"input_path"`
}

type StreamConfig struct {
	LatencyWindow        int           `json:"latency_window" yaml:"latency_window"`
	ChannelBuffer        int           `json:"channel_buffer" yaml:"channel_buffer"`
	MaxConsecutiveErrors int           `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	StatsLogInterval     time.Duration `json:"stats_log_interval" yaml:"stats_log_interval"`
}

type MonitorConfig struct {
	MaxHistory       int           `json:"max_history" yaml:"max_history"`
	MaxLatencyMS     float64       `json:"max_latency_ms" yaml:"max_latency_ms"`
	MinAccuracy      float64       `json:"min_accuracy" yaml:"min_accuracy"`
	MaxErrorRate     float64       `json:"max_error_rate" yaml:"max_error_rate"`
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
}

type IngestConfig struct {
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	FileTail FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Parser   ParserConfig   `json:"parser" yaml:"parser"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type ParserConfig struct {
	Timezone          string `json:"timezone" yaml:"timezone"`
	DefaultSourceType string `json:"default_source_type" yaml:"default_source_type"`
}

type StorageConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	Driver           string `json:"driver" yaml:"driver"`
	DSN              string `json:"dsn" yaml:"dsn"`
	RedisAddr        string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword    string `json:"redis_password" yaml:"redis_password"`
	RedisDB          int    `json:"redis_db" yaml:"redis_db"`
	RedisKey         string `json:"redis_key" yaml:"redis_key"`
	ArchiveSummaries bool   `json:"archive_summaries" yaml:"archive_summaries"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Logging: LoggingConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Analysis: AnalysisConfig{
			AnomalyThreshold: 0.7,
			BundlePath:       "logsentinel-bundle.json",
		},
		Stream: StreamConfig{
			LatencyWindow:    100,
			ChannelBuffer:    10000,
			StatsLogInterval: 30 * time.Second,
		},
		Monitor: MonitorConfig{
			MaxHistory:       1000,
			MaxLatencyMS:     1000,
			MinAccuracy:      0.8,
			MaxErrorRate:     0.05,
			SnapshotInterval: time.Minute,
		},
		Ingest: IngestConfig{
			Kafka:    KafkaConfig{Enabled: false},
			FileTail: FileTailConfig{Enabled: false, StartAtEnd: true},
			Parser:   ParserConfig{Timezone: "UTC", DefaultSourceType: "application"},
		},
		Storage: StorageConfig{
			Enabled:  false,
			Driver:   "file",
			DSN:      "file:logsentinel.db?_pragma=busy_timeout(5000)",
			RedisKey: "logsentinel:bundle",
		},
		API:    APIConfig{Enabled: true, Addr: ":8081"},
		Alerts: AlertsConfig{StoreLimit: 1000},
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
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults (plus env
// overrides) when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LOGSENTINEL_CONFIG")
	}
	if path == "" {
		cfg := DefaultConfig()
		if err := applyEnvOverrides(cfg); err != nil {
			return nil, err
		}
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
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

// applyDefaults fills values that are absent from the file. Numeric knobs
// that carry a valid range are left alone so Validate can reject them.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Stream.ChannelBuffer <= 0 {
		cfg.Stream.ChannelBuffer = 10000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultSourceType == "" {
		cfg.Ingest.Parser.DefaultSourceType = "application"
	}
	if cfg.Storage.RedisKey == "" {
		cfg.Storage.RedisKey = "logsentinel:bundle"
	}
}

// applyEnvOverrides layers LOGSENTINEL_* variables over cfg. A value that
// does not parse is an error rather than being skipped.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOGSENTINEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOGSENTINEL_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("LOGSENTINEL_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("LOGSENTINEL_KAFKA_BROKERS"); v != "" {
		cfg.Ingest.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOGSENTINEL_ANOMALY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return apperr.Configuration("config.env", fmt.Sprintf("LOGSENTINEL_ANOMALY_THRESHOLD %q is not a number", v))
		}
		cfg.Analysis.AnomalyThreshold = f
	}
	return nil
}

func Validate(cfg *Config) error {
	const op = "config.validate"
	if err := ValidateThreshold("analysis.anomaly_threshold", cfg.Analysis.AnomalyThreshold); err != nil {
		return err
	}
	if cfg.Stream.LatencyWindow < 1 {
		return apperr.Configuration(op, fmt.Sprintf("stream.latency_window must be >= 1, got %d", cfg.Stream.LatencyWindow))
	}
	if cfg.Stream.MaxConsecutiveErrors < 0 {
		return apperr.Configuration(op, "stream.max_consecutive_errors must be >= 0")
	}
	if cfg.Monitor.MaxHistory < 1 {
		return apperr.Configuration(op, fmt.Sprintf("monitor.max_history must be >= 1, got %d", cfg.Monitor.MaxHistory))
	}
	if cfg.Monitor.MaxLatencyMS <= 0 {
		return apperr.Configuration(op, "monitor.max_latency_ms must be > 0")
	}
	if err := ValidateThreshold("monitor.min_accuracy", cfg.Monitor.MinAccuracy); err != nil {
		return err
	}
	if err := ValidateThreshold("monitor.max_error_rate", cfg.Monitor.MaxErrorRate); err != nil {
		return err
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return apperr.Configuration(op, "api.addr required when api.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return apperr.Configuration(op, "ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return apperr.Configuration(op, "ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "file", "sqlite", "postgres", "postgresql":
		case "redis":
			if cfg.Storage.RedisAddr == "" {
				return apperr.Configuration(op, "storage.redis_addr required when storage.driver is redis")
			}
		default:
			return apperr.Configuration(op, fmt.Sprintf("unsupported storage.driver %q", cfg.Storage.Driver))
		}
	}
	return nil
}

// ValidateThreshold rejects values outside [0,1]; NaN is rejected too.
func ValidateThreshold(name string, v float64) error {
	return apperr.UnitRange("config.validate", name, v)
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an already built config; Reload and Watch are no-ops
// without a backing path.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
