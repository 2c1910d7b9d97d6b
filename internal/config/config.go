package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// OpsPort serves the health and monitoring endpoints; 0 disables them.
	OpsPort int `mapstructure:"ops_port" validate:"gte=0,lt=65536"`
}

// DatabaseConfig selects the job store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	// URL is a PostgreSQL connection URL, or a file path for sqlite.
	URL          string `mapstructure:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// WorkerConfig tunes the worker loops.
type WorkerConfig struct {
	// ID identifies this process in lease records. Defaults to hostname-pid.
	ID                 string        `mapstructure:"id"`
	Queues             []string      `mapstructure:"queues" validate:"required,min=1,dive,oneof=default high low bulk screenshot"`
	PollInterval       time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BatchSize          int           `mapstructure:"batch_size" validate:"gte=1,lte=1000"`
	LeaseDuration      time.Duration `mapstructure:"lease_duration" validate:"gt=0"`
	MaxAttempts        int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff" validate:"gt=0"`
	ScreenshotPermits  int           `mapstructure:"screenshot_permits" validate:"gte=1"`
	GateAcquireTimeout time.Duration `mapstructure:"gate_acquire_timeout" validate:"gte=0"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	StoreWriteTimeout  time.Duration `mapstructure:"store_write_timeout" validate:"gt=0"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Insecure    bool    `mapstructure:"insecure"`
}
