package s3

import (
	"time"

	"github.com/devstatic/devstatic/internal/circuit"
	"github.com/devstatic/devstatic/pkg/retry"
)

// Config represents S3 backend configuration
type Config struct {
	// Bucket and key prefix the artifacts live under
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// AWS connection settings
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// SDK-level retries per request
	MaxRetries int `yaml:"max_retries"`

	// RequestTimeout bounds each individual S3 call; zero disables it
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry governs backend-level retries of ranged reads
	Retry retry.Config `yaml:"retry"`

	// Breaker rejects calls while the service keeps failing
	Breaker circuit.Config `yaml:"circuit_breaker"`
}

// NewDefaultConfig creates a default S3 configuration
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		Retry:          retry.DefaultConfig(),
		Breaker:        circuit.DefaultConfig(),
	}
}
