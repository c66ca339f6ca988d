// Package config loads and validates server configuration.
// Values come from defaults, an optional env file and the environment,
// in increasing order of priority.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete server configuration.
type Config struct {
	Logging    LoggingConfig
	Server     ServerConfig
	Database   DatabaseConfig
	WorkerPool WorkerPoolConfig
	Policies   PoliciesConfig
}

type LoggingConfig struct {
	Level string // debug, info, warn, error
}

type ServerConfig struct {
	Port               int
	ShutdownTimeout    time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins []string
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

// WorkerPoolConfig sizes the pool that persists bulk accrual and carry-over results.
type WorkerPoolConfig struct {
	Size int
}

type PoliciesConfig struct {
	File string // optional JSON array of policies loaded at startup
}

func (c *Config) validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("SERVER_PORT must be between 1 and 65535"))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_READ_TIMEOUT and SERVER_WRITE_TIMEOUT must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_SHUTDOWN_TIMEOUT must be positive"))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.WorkerPool.Size <= 0 {
		errs = append(errs, errors.New("WORKER_POOL_SIZE must be positive"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of debug, info, warn, error"))
	}

	return errors.Join(errs...)
}
