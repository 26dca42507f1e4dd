// Package config provides configuration loading and validation for the
// sourcing runtime.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML accepts "250ms"-style strings as
// well as integer nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML decodes either a duration string or nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("%w: duration must be a string or nanoseconds", ErrInvalidFormat)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Journal backend names accepted by Config.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
)

var (
	// ErrConfigNotFound is returned when the config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidFormat is returned when the config file cannot be parsed.
	ErrInvalidFormat = errors.New("invalid config format")
)

// Config is the runtime configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Journal    JournalConfig    `yaml:"journal"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Projection ProjectionConfig `yaml:"projection"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// JournalConfig selects and configures the journal backend.
type JournalConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	Badger   BadgerConfig   `yaml:"badger"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN    string `yaml:"dsn"`
	Schema string `yaml:"schema"`
}

// BadgerConfig configures the Badger backend.
type BadgerConfig struct {
	Dir string `yaml:"dir"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RuntimeConfig tunes the aggregate managers.
type RuntimeConfig struct {
	MailboxSize int      `yaml:"mailbox_size"`
	AskTimeout  Duration `yaml:"ask_timeout"`
}

// ProjectionConfig tunes the projection runtime.
type ProjectionConfig struct {
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryInitialDelay Duration `yaml:"retry_initial_delay"`
	RetryMultiplier   float64  `yaml:"retry_multiplier"`
	JoinTimeout       Duration `yaml:"join_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Journal: JournalConfig{Backend: BackendMemory},
		Runtime: RuntimeConfig{
			MailboxSize: 64,
			AskTimeout:  Duration(5 * time.Second),
		},
		Projection: ProjectionConfig{
			RetryAttempts:     5,
			RetryInitialDelay: Duration(50 * time.Millisecond),
			RetryMultiplier:   2.0,
			JoinTimeout:       Duration(10 * time.Second),
		},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Journal.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Journal.Postgres.DSN == "" {
			return errors.New("journal.postgres.dsn is required for the postgres backend")
		}
	case BackendBadger:
		if c.Journal.Badger.Dir == "" {
			return errors.New("journal.badger.dir is required for the badger backend")
		}
	case BackendSQLite:
		if c.Journal.SQLite.Path == "" {
			return errors.New("journal.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown journal backend %q", c.Journal.Backend)
	}

	if c.Runtime.MailboxSize < 0 {
		return errors.New("runtime.mailbox_size must not be negative")
	}
	if c.Projection.RetryAttempts < 1 {
		return errors.New("projection.retry_attempts must be at least 1")
	}
	return nil
}
