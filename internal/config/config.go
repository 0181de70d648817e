// internal/config/config.go - Main configuration with include file support
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Web           WebConfig               `yaml:"web"`
	Database      DatabaseConfig          `yaml:"database"`
	Prometheus    PrometheusConfig        `yaml:"prometheus"`
	Monitoring    MonitoringConfig        `yaml:"monitoring"`
	Logging       LoggingConfig           `yaml:"logging"`
	Notifications NotificationConfig      `yaml:"notifications"`
	Sources       map[string]SourceConfig `yaml:"sources"`
	Checkers      []CheckerConfig         `yaml:"checkers"`
	Include       IncludeConfig           `yaml:"include"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type WebConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled defaults to true when web.enabled is not set.
func (w WebConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

type DatabaseConfig struct {
	Type            string        `yaml:"type"`
	Path            string        `yaml:"path"`
	CompactInterval time.Duration `yaml:"compact_interval"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type MonitoringConfig struct {
	Interval        time.Duration `yaml:"interval"`
	CheckersDir     string        `yaml:"checkers_dir"`
	Timezone        string        `yaml:"timezone"`
	Workers         int           `yaml:"workers"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	IsolateFailures bool          `yaml:"isolate_failures"`
	RecentResults   int           `yaml:"recent_results"`
}

// Location resolves the timezone used for schedule matching. An empty
// timezone means the process local zone.
func (m MonitoringConfig) Location() (*time.Location, error) {
	if m.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", m.Timezone, err)
	}
	return loc, nil
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig describes an external database that checker queries run
// against. Either DSN or the discrete connection fields are used.
type SourceConfig struct {
	Type     string `yaml:"type"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// PartialConfig represents a partial configuration that can be merged
type PartialConfig struct {
	Server        *ServerConfig           `yaml:"server,omitempty"`
	Database      *DatabaseConfig         `yaml:"database,omitempty"`
	Prometheus    *PrometheusConfig       `yaml:"prometheus,omitempty"`
	Monitoring    *MonitoringConfig       `yaml:"monitoring,omitempty"`
	Logging       *LoggingConfig          `yaml:"logging,omitempty"`
	Notifications *NotificationConfig     `yaml:"notifications,omitempty"`
	Sources       map[string]SourceConfig `yaml:"sources,omitempty"`
	Checkers      []CheckerConfig         `yaml:"checkers,omitempty"`
}

func Load(filename string) (*Config, error) {
	// Load the main config file
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	// Process includes if enabled
	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory

	// Make include directory relative to main config file if not absolute
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}

	// Also check for .yml files if pattern is default
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	if len(partial.Sources) > 0 {
		if config.Sources == nil {
			config.Sources = make(map[string]SourceConfig)
		}
		for name, source := range partial.Sources {
			config.Sources[name] = source
		}
	}

	if len(partial.Checkers) > 0 {
		mergeCheckers(config, partial.Checkers)
	}

	// For other sections, only override if they exist in the partial config
	if partial.Server != nil {
		mergeServerConfig(&config.Server, partial.Server)
	}
	if partial.Database != nil {
		mergeDatabaseConfig(&config.Database, partial.Database)
	}
	if partial.Prometheus != nil {
		mergePrometheusConfig(&config.Prometheus, partial.Prometheus)
	}
	if partial.Monitoring != nil {
		mergeMonitoringConfig(&config.Monitoring, partial.Monitoring)
	}
	if partial.Logging != nil {
		mergeLoggingConfig(&config.Logging, partial.Logging)
	}
	if partial.Notifications != nil {
		mergeNotificationConfig(&config.Notifications, partial.Notifications)
	}
}

// mergeCheckers replaces checkers that share a name and appends the rest.
func mergeCheckers(config *Config, newCheckers []CheckerConfig) {
	existing := make(map[string]int, len(config.Checkers))
	for i, checker := range config.Checkers {
		existing[checker.Name] = i
	}

	for _, checker := range newCheckers {
		if i, ok := existing[checker.Name]; ok {
			config.Checkers[i] = checker
			continue
		}
		config.Checkers = append(config.Checkers, checker)
		existing[checker.Name] = len(config.Checkers) - 1
	}
}

func mergeServerConfig(main *ServerConfig, partial *ServerConfig) {
	if partial.Port != "" {
		main.Port = partial.Port
	}
	if partial.ReadTimeout != 0 {
		main.ReadTimeout = partial.ReadTimeout
	}
	if partial.WriteTimeout != 0 {
		main.WriteTimeout = partial.WriteTimeout
	}
}

func mergeDatabaseConfig(main *DatabaseConfig, partial *DatabaseConfig) {
	if partial.Type != "" {
		main.Type = partial.Type
	}
	if partial.Path != "" {
		main.Path = partial.Path
	}
	if partial.CompactInterval != 0 {
		main.CompactInterval = partial.CompactInterval
	}
}

func mergePrometheusConfig(main *PrometheusConfig, partial *PrometheusConfig) {
	main.Enabled = partial.Enabled
	if partial.MetricsPath != "" {
		main.MetricsPath = partial.MetricsPath
	}
}

func mergeMonitoringConfig(main *MonitoringConfig, partial *MonitoringConfig) {
	if partial.Interval != 0 {
		main.Interval = partial.Interval
	}
	if partial.CheckersDir != "" {
		main.CheckersDir = partial.CheckersDir
	}
	if partial.Timezone != "" {
		main.Timezone = partial.Timezone
	}
	if partial.Workers != 0 {
		main.Workers = partial.Workers
	}
	if partial.FetchTimeout != 0 {
		main.FetchTimeout = partial.FetchTimeout
	}
	if partial.RecentResults != 0 {
		main.RecentResults = partial.RecentResults
	}
	main.IsolateFailures = partial.IsolateFailures
}

func mergeLoggingConfig(main *LoggingConfig, partial *LoggingConfig) {
	if partial.Level != "" {
		main.Level = partial.Level
	}
	if partial.Format != "" {
		main.Format = partial.Format
	}
}

func setDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	// Database defaults
	if cfg.Database.Type == "" {
		cfg.Database.Type = "boltdb"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/dwmon.db"
	}

	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}

	// Monitoring defaults
	if cfg.Monitoring.Interval == 0 {
		cfg.Monitoring.Interval = 60 * time.Second
	}
	if cfg.Monitoring.CheckersDir == "" {
		cfg.Monitoring.CheckersDir = "./checker_configs"
	}
	if cfg.Monitoring.Workers == 0 {
		cfg.Monitoring.Workers = 1
	}
	if cfg.Monitoring.FetchTimeout == 0 {
		cfg.Monitoring.FetchTimeout = 30 * time.Second
	}
	if cfg.Monitoring.RecentResults == 0 {
		cfg.Monitoring.RecentResults = 100
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	setNotificationDefaults(&cfg.Notifications)
}

func validate(cfg *Config) error {
	switch cfg.Database.Type {
	case "boltdb", "sqlite":
	default:
		return fmt.Errorf("database.type must be boltdb or sqlite, got %q", cfg.Database.Type)
	}

	if cfg.Monitoring.Interval <= 0 {
		return fmt.Errorf("monitoring.interval must be positive")
	}
	if cfg.Monitoring.Workers < 1 {
		return fmt.Errorf("monitoring.workers must be at least 1")
	}
	if cfg.Monitoring.FetchTimeout <= 0 {
		return fmt.Errorf("monitoring.fetch_timeout must be positive")
	}
	if cfg.Monitoring.RecentResults < 0 {
		return fmt.Errorf("monitoring.recent_results must be non-negative")
	}
	if _, err := cfg.Monitoring.Location(); err != nil {
		return fmt.Errorf("monitoring.timezone: %w", err)
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if err := cfg.Notifications.Validate(); err != nil {
		return err
	}

	for name, source := range cfg.Sources {
		if err := source.validate(); err != nil {
			return fmt.Errorf("source '%s': %w", name, err)
		}
	}

	// Validate include configuration
	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if cfg.Include.Pattern != "" && !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	names := make(map[string]bool)
	for _, checker := range cfg.Checkers {
		if names[checker.Name] {
			return fmt.Errorf("duplicate checker name: %s", checker.Name)
		}
		names[checker.Name] = true
		if err := checker.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func (s SourceConfig) validate() error {
	switch strings.ToLower(s.Type) {
	case "sqlite", "sqlite3":
		if s.DSN == "" && s.Database == "" {
			return fmt.Errorf("sqlite source needs dsn or database")
		}
	case "mysql", "postgres", "postgresql", "mssql", "sqlserver":
		if s.DSN == "" && s.Host == "" {
			return fmt.Errorf("%s source needs dsn or host", s.Type)
		}
	default:
		return fmt.Errorf("unsupported source type %q", s.Type)
	}
	return nil
}

// isValidGlobPattern checks if a string is a valid glob pattern
func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
