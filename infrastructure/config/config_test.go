package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/sourcing-go/infrastructure/config"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if cfg.Journal.Backend != config.BackendMemory {
		t.Errorf("Backend = %s, want memory", cfg.Journal.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"memory backend needs nothing", func(c *config.Config) {}, false},
		{"unknown backend", func(c *config.Config) { c.Journal.Backend = "cassette" }, true},
		{"postgres without dsn", func(c *config.Config) { c.Journal.Backend = config.BackendPostgres }, true},
		{"postgres with dsn", func(c *config.Config) {
			c.Journal.Backend = config.BackendPostgres
			c.Journal.Postgres.DSN = "postgres://localhost/sourcing"
		}, false},
		{"badger without dir", func(c *config.Config) { c.Journal.Backend = config.BackendBadger }, true},
		{"sqlite without path", func(c *config.Config) { c.Journal.Backend = config.BackendSQLite }, true},
		{"zero retry attempts", func(c *config.Config) { c.Projection.RetryAttempts = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_LoadFile(t *testing.T) {
	t.Run("parses yaml over defaults", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "sourcing.yaml")
		content := `
logging:
  level: debug
  format: json
journal:
  backend: sqlite
  sqlite:
    path: /tmp/events.db
projection:
  retry_attempts: 3
  join_timeout: 2s
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := config.NewLoader().LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
			t.Errorf("Logging = %+v", cfg.Logging)
		}
		if cfg.Journal.Backend != config.BackendSQLite || cfg.Journal.SQLite.Path != "/tmp/events.db" {
			t.Errorf("Journal = %+v", cfg.Journal)
		}
		if cfg.Projection.RetryAttempts != 3 {
			t.Errorf("RetryAttempts = %d, want 3", cfg.Projection.RetryAttempts)
		}
		if cfg.Projection.JoinTimeout.Std() != 2*time.Second {
			t.Errorf("JoinTimeout = %v, want 2s", cfg.Projection.JoinTimeout.Std())
		}
		// Untouched keys keep their defaults.
		if cfg.Runtime.MailboxSize != 64 {
			t.Errorf("MailboxSize = %d, want default 64", cfg.Runtime.MailboxSize)
		}
	})

	t.Run("expands environment variables", func(t *testing.T) {
		t.Setenv("SOURCING_TEST_DSN", "postgres://db.internal/sourcing")

		path := filepath.Join(t.TempDir(), "sourcing.yaml")
		content := `
journal:
  backend: postgres
  postgres:
    dsn: ${SOURCING_TEST_DSN}
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := config.NewLoader().LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Journal.Postgres.DSN != "postgres://db.internal/sourcing" {
			t.Errorf("DSN = %s", cfg.Journal.Postgres.DSN)
		}
	})

	t.Run("strict env fails on unset variables", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "sourcing.yaml")
		if err := os.WriteFile(path, []byte("logging:\n  level: ${SOURCING_UNSET_VAR}\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		loader := config.NewLoader()
		loader.StrictEnv = true
		if _, err := loader.LoadFile(path); err == nil {
			t.Error("LoadFile() succeeded with unset variable under StrictEnv")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := config.NewLoader().LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("LoadFile() error = %v, want ErrConfigNotFound", err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "sourcing.yaml")
		if err := os.WriteFile(path, []byte("journal: ["), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		_, err := config.NewLoader().LoadFile(path)
		if !errors.Is(err, config.ErrInvalidFormat) {
			t.Errorf("LoadFile() error = %v, want ErrInvalidFormat", err)
		}
	})
}
