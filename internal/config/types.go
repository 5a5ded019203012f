package config

import (
	"time"

	"github.com/mdedetrich/hostpool/internal/core/constants"
	"github.com/mdedetrich/hostpool/internal/core/domain"
)

// Config holds all configuration for the pool subsystem
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Pool      PoolSettings    `yaml:"pool" mapstructure:"pool"`
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`
}

// PoolSettings governs one host pool. The zero value is not usable; start
// from DefaultPoolSettings or call ApplyDefaults.
type PoolSettings struct {
	// MaxConnections bounds concurrent connections to the host
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// MinConnections keeps this many connections warm even when idle
	MinConnections int `yaml:"min_connections" mapstructure:"min_connections"`

	// MaxRetries is the retry budget each request starts with
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`

	// MaxOpenRequests bounds submissions buffered ahead of the pool
	MaxOpenRequests int `yaml:"max_open_requests" mapstructure:"max_open_requests"`

	// PipeliningLimit caps in-flight requests per connection. Slots serve
	// requests sequentially, so values above 1 behave as 1.
	PipeliningLimit int `yaml:"pipelining_limit" mapstructure:"pipelining_limit"`

	// IdleTimeout closes connections idle past this, down to MinConnections
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`

	// MaxConnectionLifetime recycles connections after this plus up to 10%
	// jitter; zero disables recycling
	MaxConnectionLifetime time.Duration `yaml:"max_connection_lifetime" mapstructure:"max_connection_lifetime"`

	// BaseConnectionBackoff seeds the cooldown after a failed connect
	BaseConnectionBackoff time.Duration `yaml:"base_connection_backoff" mapstructure:"base_connection_backoff"`

	// MaxConnectionBackoff caps the cooldown including jitter
	MaxConnectionBackoff time.Duration `yaml:"max_connection_backoff" mapstructure:"max_connection_backoff"`

	// ResponseTimeout bounds the wait for response headers; zero disables
	ResponseTimeout time.Duration `yaml:"response_timeout" mapstructure:"response_timeout"`

	// ResponseEntitySubscriptionTimeout bounds how long a caller may sit on
	// a delivered response without reading its body
	ResponseEntitySubscriptionTimeout time.Duration `yaml:"response_entity_subscription_timeout" mapstructure:"response_entity_subscription_timeout"`
}

// TransportConfig tunes the HTTP/1.1 connection factory
type TransportConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	KeepAlive      time.Duration `yaml:"keep_alive" mapstructure:"keep_alive"`
	TLSInsecure    bool          `yaml:"tls_insecure" mapstructure:"tls_insecure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
	Theme  string `yaml:"theme" mapstructure:"theme"`
}

// DefaultPoolSettings returns pool settings with sensible defaults
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxConnections:                    constants.DefaultMaxConnections,
		MinConnections:                    constants.DefaultMinConnections,
		MaxRetries:                        constants.DefaultMaxRetries,
		MaxOpenRequests:                   constants.DefaultMaxOpenRequests,
		PipeliningLimit:                   constants.DefaultPipeliningLimit,
		IdleTimeout:                       constants.DefaultIdleTimeout,
		MaxConnectionLifetime:             constants.DefaultMaxConnectionLifetime,
		BaseConnectionBackoff:             constants.DefaultBaseConnectionBackoff,
		MaxConnectionBackoff:              constants.DefaultMaxConnectionBackoff,
		ResponseTimeout:                   constants.DefaultResponseTimeout,
		ResponseEntitySubscriptionTimeout: constants.DefaultEntitySubscriptionTimeout,
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Pool: DefaultPoolSettings(),
		Transport: TransportConfig{
			ConnectTimeout: constants.DefaultConnectTimeout,
			KeepAlive:      constants.DefaultKeepAlive,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// ApplyDefaults fills unset fields so a partial YAML section still yields a
// workable pool
func (s *PoolSettings) ApplyDefaults() {
	d := DefaultPoolSettings()
	if s.MaxConnections == 0 {
		s.MaxConnections = d.MaxConnections
	}
	if s.MaxOpenRequests == 0 {
		s.MaxOpenRequests = d.MaxOpenRequests
	}
	if s.PipeliningLimit == 0 {
		s.PipeliningLimit = d.PipeliningLimit
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = d.IdleTimeout
	}
	if s.BaseConnectionBackoff == 0 {
		s.BaseConnectionBackoff = d.BaseConnectionBackoff
	}
	if s.MaxConnectionBackoff == 0 {
		s.MaxConnectionBackoff = d.MaxConnectionBackoff
	}
	if s.ResponseEntitySubscriptionTimeout == 0 {
		s.ResponseEntitySubscriptionTimeout = d.ResponseEntitySubscriptionTimeout
	}
}

// Validate rejects settings the pool cannot run with
func (s *PoolSettings) Validate() error {
	if s.MaxConnections < 1 {
		return &domain.ConfigValidationError{Field: "pool.max_connections", Value: s.MaxConnections, Reason: "must be at least 1"}
	}
	if s.MinConnections < 0 {
		return &domain.ConfigValidationError{Field: "pool.min_connections", Value: s.MinConnections, Reason: "must not be negative"}
	}
	if s.MinConnections > s.MaxConnections {
		return &domain.ConfigValidationError{Field: "pool.min_connections", Value: s.MinConnections, Reason: "must not exceed pool.max_connections"}
	}
	if s.MaxRetries < 0 {
		return &domain.ConfigValidationError{Field: "pool.max_retries", Value: s.MaxRetries, Reason: "must not be negative"}
	}
	if s.MaxOpenRequests < 1 {
		return &domain.ConfigValidationError{Field: "pool.max_open_requests", Value: s.MaxOpenRequests, Reason: "must be at least 1"}
	}
	if s.PipeliningLimit < 1 {
		return &domain.ConfigValidationError{Field: "pool.pipelining_limit", Value: s.PipeliningLimit, Reason: "must be at least 1"}
	}
	if s.BaseConnectionBackoff <= 0 {
		return &domain.ConfigValidationError{Field: "pool.base_connection_backoff", Value: s.BaseConnectionBackoff, Reason: "must be positive"}
	}
	if s.MaxConnectionBackoff < s.BaseConnectionBackoff {
		return &domain.ConfigValidationError{Field: "pool.max_connection_backoff", Value: s.MaxConnectionBackoff, Reason: "must not be below pool.base_connection_backoff"}
	}
	if s.IdleTimeout <= 0 {
		return &domain.ConfigValidationError{Field: "pool.idle_timeout", Value: s.IdleTimeout, Reason: "must be positive"}
	}
	if s.MaxConnectionLifetime < 0 {
		return &domain.ConfigValidationError{Field: "pool.max_connection_lifetime", Value: s.MaxConnectionLifetime, Reason: "must not be negative"}
	}
	if s.ResponseTimeout < 0 {
		return &domain.ConfigValidationError{Field: "pool.response_timeout", Value: s.ResponseTimeout, Reason: "must not be negative"}
	}
	if s.ResponseEntitySubscriptionTimeout <= 0 {
		return &domain.ConfigValidationError{Field: "pool.response_entity_subscription_timeout", Value: s.ResponseEntitySubscriptionTimeout, Reason: "must be positive"}
	}
	return nil
}
