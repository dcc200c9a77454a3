// Package config provides configuration loading for the demo server.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/otel-demo-app/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of environment variables read by the CLI
	EnvPrefix = "OTEL_DEMO"

	// DefaultRedisURL is used when redisUrl is absent or empty
	DefaultRedisURL = "redis://127.0.0.1:6379"

	// DefaultListenAddress is used when listenAddress is absent or empty
	DefaultListenAddress = "127.0.0.1:3000"

	// DefaultReadHeaderTimeout bounds how long a client may take to send request headers
	DefaultReadHeaderTimeout = 10 * time.Second
)

// ErrInvalidConfig is returned when the configuration cannot be used to start the server
var ErrInvalidConfig = errors.New("invalid configuration")

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// RedisURL is the backend connection string, e.g. redis://127.0.0.1:6379
	RedisURL string `yaml:"redisUrl,omitempty"`

	// ListenAddress is the host:port the HTTP server binds to
	ListenAddress string `yaml:"listenAddress,omitempty"`

	// Pool configures the backend connection pool
	Pool PoolConfig `yaml:"pool,omitempty"`

	// Server configures the HTTP server
	Server ServerConfig `yaml:"server,omitempty"`

	// Telemetry configures OpenTelemetry export.
	// When absent, telemetry.DefaultConfig is used.
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// PoolConfig defines the backend connection pool configuration
type PoolConfig struct {
	// MaxSize is the maximum number of connections, zero means the pool default
	MaxSize int32 `yaml:"maxSize,omitempty"`

	// AcquireTimeout bounds how long a request waits for a free connection,
	// zero means the pool default
	AcquireTimeout time.Duration `yaml:"acquireTimeout,omitempty"`
}

// ServerConfig defines the HTTP server configuration
type ServerConfig struct {
	// ShutdownTimeout bounds the drain of in-flight requests. Zero waits indefinitely.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`

	// ReadHeaderTimeout bounds how long a client may take to send request headers
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrInvalidConfig, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML config: %w", ErrInvalidConfig, err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RedisURL) == "" {
		c.RedisURL = DefaultRedisURL
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultConfig()
	}
}

func (c *Config) validate() error {
	var errs []error

	if _, err := c.ListenAddrPort(); err != nil {
		errs = append(errs, err)
	}

	if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		errs = append(errs, fmt.Errorf("redisUrl must use the redis:// or rediss:// scheme, got %q", c.RedisURL))
	}

	if c.Pool.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("pool.maxSize must not be negative, got %d", c.Pool.MaxSize))
	}
	if c.Pool.AcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("pool.acquireTimeout must not be negative, got %s", c.Pool.AcquireTimeout))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdownTimeout must not be negative, got %s", c.Server.ShutdownTimeout))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

// ListenAddrPort parses ListenAddress. "localhost" resolves to the IPv4
// loopback and an empty host binds every interface.
func (c *Config) ListenAddrPort() (netip.AddrPort, error) {
	addr := c.ListenAddress
	if addr == "" {
		addr = DefaultListenAddress
	}

	if strings.HasPrefix(addr, "localhost:") {
		addr = "127.0.0.1" + strings.TrimPrefix(addr, "localhost")
	} else if strings.HasPrefix(addr, ":") {
		addr = "0.0.0.0" + addr
	}

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid listen address %q: %w", c.ListenAddress, err)
	}
	return ap, nil
}
