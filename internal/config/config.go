package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/devstatic/devstatic/internal/circuit"
	"github.com/devstatic/devstatic/pkg/errors"
	"github.com/devstatic/devstatic/pkg/utils"
)

// Storage backend names.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Server     ServerConfig     `yaml:"server"`
	Static     StaticConfig     `yaml:"static"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Retry      RetryConfig      `yaml:"retry"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogFormat     string `yaml:"log_format"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// ServerConfig represents HTTP listener settings
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	HealthPath   string        `yaml:"health_path"`
}

// StaticConfig controls how artifacts are resolved and served
type StaticConfig struct {
	Root          string            `yaml:"root"`
	PublicPath    string            `yaml:"public_path"`
	Index         string            `yaml:"index"`
	ETag          bool              `yaml:"etag"`
	AcceptRanges  bool              `yaml:"accept_ranges"`
	LastModified  bool              `yaml:"last_modified"`
	CacheControl  string            `yaml:"cache_control"`
	Headers       map[string]string `yaml:"headers"`
	Ignore        []string          `yaml:"ignore"`
	HighWaterMark string            `yaml:"high_water_mark"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Backend       string              `yaml:"backend"`
	Local         LocalConfig         `yaml:"local"`
	S3            S3Config            `yaml:"s3"`
	MetadataCache MetadataCacheConfig `yaml:"metadata_cache"`
}

// LocalConfig represents the local directory backend
type LocalConfig struct {
	Directory string `yaml:"directory"`
}

// S3Config represents the S3 backend
type S3Config struct {
	Bucket          string         `yaml:"bucket"`
	Prefix          string         `yaml:"prefix"`
	Region          string         `yaml:"region"`
	Endpoint        string         `yaml:"endpoint"`
	AccessKeyID     string         `yaml:"access_key_id"`
	SecretAccessKey string         `yaml:"secret_access_key"`
	SessionToken    string         `yaml:"session_token"`
	ForcePathStyle  bool           `yaml:"force_path_style"`
	MaxRetries      int            `yaml:"max_retries"`
	RequestTimeout  time.Duration  `yaml:"request_timeout"`
	CircuitBreaker  circuit.Config `yaml:"circuit_breaker"`
}

// MetadataCacheConfig represents stat caching in front of the backend
type MetadataCacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// RetryConfig represents retry settings for remote storage reads
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSizeMB:  100,
			LogMaxBackups: 3,
		},
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
			HealthPath:   "/healthz",
		},
		Static: StaticConfig{
			Root:          "/",
			PublicPath:    "/",
			ETag:          true,
			AcceptRanges:  true,
			LastModified:  true,
			Headers:       map[string]string{},
			HighWaterMark: "64KB",
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Local: LocalConfig{
				Directory: "./dist",
			},
			S3: S3Config{
				Region:         "us-east-1",
				MaxRetries:     3,
				RequestTimeout: 30 * time.Second,
				CircuitBreaker: circuit.DefaultConfig(),
			},
			MetadataCache: MetadataCacheConfig{
				Enabled:    false,
				TTL:        2 * time.Second,
				MaxEntries: 4096,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Path:      "/metrics",
				Namespace: "devstatic",
			},
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from DEVSTATIC_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("DEVSTATIC_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("DEVSTATIC_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("DEVSTATIC_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	// Server
	if val := os.Getenv("DEVSTATIC_ADDRESS"); val != "" {
		c.Server.Address = val
	}

	// Static
	if val := os.Getenv("DEVSTATIC_ROOT"); val != "" {
		c.Static.Root = val
	}
	if val := os.Getenv("DEVSTATIC_PUBLIC_PATH"); val != "" {
		c.Static.PublicPath = val
	}
	if val := os.Getenv("DEVSTATIC_INDEX"); val != "" {
		c.Static.Index = val
	}
	if val := os.Getenv("DEVSTATIC_ETAG"); val != "" {
		c.Static.ETag = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DEVSTATIC_ACCEPT_RANGES"); val != "" {
		c.Static.AcceptRanges = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DEVSTATIC_LAST_MODIFIED"); val != "" {
		c.Static.LastModified = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DEVSTATIC_CACHE_CONTROL"); val != "" {
		c.Static.CacheControl = val
	}
	if val := os.Getenv("DEVSTATIC_HIGH_WATER_MARK"); val != "" {
		c.Static.HighWaterMark = val
	}

	// Storage
	if val := os.Getenv("DEVSTATIC_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = val
	}
	if val := os.Getenv("DEVSTATIC_LOCAL_DIRECTORY"); val != "" {
		c.Storage.Local.Directory = val
	}
	if val := os.Getenv("DEVSTATIC_S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("DEVSTATIC_S3_PREFIX"); val != "" {
		c.Storage.S3.Prefix = val
	}
	if val := os.Getenv("DEVSTATIC_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("DEVSTATIC_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("DEVSTATIC_S3_FORCE_PATH_STYLE"); val != "" {
		c.Storage.S3.ForcePathStyle = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DEVSTATIC_S3_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Storage.S3.MaxRetries = n
		}
	}
	if val := os.Getenv("DEVSTATIC_METADATA_CACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Storage.MetadataCache.TTL = duration
			c.Storage.MetadataCache.Enabled = duration > 0
		}
	}

	// Monitoring
	if val := os.Getenv("DEVSTATIC_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file")
	}

	return nil
}

// HighWaterMarkBytes returns the parsed static.high_water_mark.
func (c *Configuration) HighWaterMarkBytes() (int, error) {
	n, err := utils.ParseBytes(c.Static.HighWaterMark)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: TRACE, DEBUG, INFO, WARN, ERROR, FATAL)",
			c.Global.LogLevel)
	}

	if c.Global.LogFormat != "" && c.Global.LogFormat != "json" && c.Global.LogFormat != "text" {
		return invalid("invalid log_format: %s (must be json or text)", c.Global.LogFormat)
	}

	if c.Server.Address == "" {
		return invalid("server address cannot be empty")
	}

	if !strings.HasPrefix(c.Static.PublicPath, "/") {
		return invalid("public_path must start with '/': %q", c.Static.PublicPath)
	}

	if c.Static.Index != "" && strings.Contains(c.Static.Index, "/") {
		return invalid("index must be a file name, got %q", c.Static.Index)
	}

	hwm, err := c.HighWaterMarkBytes()
	if err != nil || hwm <= 0 {
		return invalid("high_water_mark must be a positive size, got %q", c.Static.HighWaterMark)
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Local.Directory == "" {
			return invalid("local.directory cannot be empty with the local backend")
		}
	case BackendMemory:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return invalid("s3.bucket cannot be empty with the s3 backend")
		}
		if c.Storage.S3.MaxRetries < 0 {
			return invalid("s3.max_retries cannot be negative")
		}
	default:
		return invalid("unknown storage backend: %q (must be one of: local, memory, s3)", c.Storage.Backend)
	}

	if c.Storage.MetadataCache.Enabled && c.Storage.MetadataCache.MaxEntries <= 0 {
		return invalid("metadata_cache.max_entries must be greater than 0")
	}

	if c.Monitoring.Metrics.Enabled {
		if !strings.HasPrefix(c.Monitoring.Metrics.Path, "/") {
			return invalid("metrics path must start with '/'")
		}
		if c.Monitoring.Metrics.Path == c.Server.HealthPath {
			return invalid("metrics path and health_path cannot be the same")
		}
	}

	if c.Retry.MaxAttempts <= 0 {
		return invalid("retry.max_attempts must be greater than 0")
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).
		WithComponent("config")
}
