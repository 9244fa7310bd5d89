package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
// It is built once at startup and passed by reference into the
// license and batch subsystems; nothing mutates it afterwards.
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Rules   RulesConfig   `yaml:"rules" envconfig:"RULES"`
	Batch   BatchConfig   `yaml:"batch" envconfig:"BATCH"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains the local HTTP API configuration consumed by the GUI shell.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	VerifyRPS       float64       `yaml:"verify_rps" envconfig:"VERIFY_RPS"`
	VerifyBurst     int           `yaml:"verify_burst" envconfig:"VERIFY_BURST"`
}

// LicenseConfig contains everything the license authenticator needs.
type LicenseConfig struct {
	APIURL           string        `yaml:"api_url" envconfig:"API_URL"`
	SecretKey        string        `yaml:"secret_key" envconfig:"SECRET_KEY"`
	CacheKey         string        `yaml:"cache_key" envconfig:"CACHE_KEY"`
	CachePath        string        `yaml:"cache_path" envconfig:"CACHE_PATH"`
	OfflineGraceDays int           `yaml:"offline_grace_days" envconfig:"OFFLINE_GRACE_DAYS"`
	RequestTimeout   time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// RulesConfig locates the substitution rule file.
type RulesConfig struct {
	Path string `yaml:"path" envconfig:"PATH"`
}

// BatchConfig controls batch job execution.
type BatchConfig struct {
	// Parallelism is the number of documents processed concurrently
	// within one job. 1 preserves strict sequential processing.
	Parallelism int `yaml:"parallelism" envconfig:"PARALLELISM"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Load loads configuration from environment variables and an optional
// YAML config file. Environment variables take precedence.
func Load(configFile string) (*Config, error) {
	var cfg Config

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			fileCfg, err := loadFromFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
			cfg = *fileCfg
		}
	}

	if err := envconfig.Process("CCBP", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills zero values that envconfig only defaults when the
// struct is processed from scratch (a YAML-populated struct keeps its zeros).
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8741
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.VerifyRPS == 0 {
		cfg.Server.VerifyRPS = 1
	}
	if cfg.Server.VerifyBurst == 0 {
		cfg.Server.VerifyBurst = 3
	}
	if cfg.License.CachePath == "" {
		cfg.License.CachePath = "license.dat"
	}
	if cfg.License.OfflineGraceDays == 0 {
		cfg.License.OfflineGraceDays = 14
	}
	if cfg.License.RequestTimeout == 0 {
		cfg.License.RequestTimeout = 10 * time.Second
	}
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = "config/path_mapping_rules.json"
	}
	if cfg.Batch.Parallelism == 0 {
		cfg.Batch.Parallelism = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "both"
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "logs/ccbp.log"
	}
}

// Validate checks that required configuration is present and well-formed.
// A failure here is fatal at startup, before any job runs.
func (c *Config) Validate() error {
	if c.License.APIURL == "" {
		return fmt.Errorf("license.api_url is required")
	}
	if _, err := url.ParseRequestURI(c.License.APIURL); err != nil {
		return fmt.Errorf("license.api_url is not a valid URL: %w", err)
	}
	if c.License.SecretKey == "" {
		return fmt.Errorf("license.secret_key is required")
	}
	if c.License.CacheKey == "" {
		return fmt.Errorf("license.cache_key is required")
	}
	if _, err := c.License.DecodedCacheKey(); err != nil {
		return err
	}
	if c.License.OfflineGraceDays < 0 {
		return fmt.Errorf("license.offline_grace_days must not be negative")
	}
	if c.Batch.Parallelism < 1 {
		return fmt.Errorf("batch.parallelism must be at least 1")
	}
	return nil
}

// DecodedCacheKey decodes the base64-carried cache cipher key and checks
// its length. The cache store requires exactly 32 bytes (AES-256).
func (lc LicenseConfig) DecodedCacheKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(lc.CacheKey)
	if err != nil {
		return nil, fmt.Errorf("license.cache_key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("license.cache_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// OfflineGracePeriod returns the grace window as a duration.
func (lc LicenseConfig) OfflineGracePeriod() time.Duration {
	return time.Duration(lc.OfflineGraceDays) * 24 * time.Hour
}
