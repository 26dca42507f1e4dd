package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Loader loads runtime configuration from YAML files.
type Loader struct {
	// ExpandEnv enables ${VAR} expansion.
	ExpandEnv bool
	// StrictEnv fails when a referenced variable is unset.
	StrictEnv bool
	// Validate enables validation after parsing.
	Validate bool
}

// NewLoader creates a loader with default settings.
func NewLoader() *Loader {
	return &Loader{
		ExpandEnv: true,
		Validate:  true,
	}
}

// envPattern matches ${VAR} references.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadFile loads configuration from a YAML file, layered over Default().
func (l *Loader) LoadFile(path string) (Config, error) {
	cfg := Default()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("access config file: %w", err)
	}
	if info.IsDir() {
		return cfg, fmt.Errorf("%w: %s is a directory", ErrInvalidFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if l.ExpandEnv {
		data, err = l.expand(data)
		if err != nil {
			return cfg, err
		}
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	if l.Validate {
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// expand replaces ${VAR} references with environment values.
func (l *Loader) expand(data []byte) ([]byte, error) {
	var missing []string
	out := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if l.StrictEnv && len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variables: %v", missing)
	}
	return out, nil
}
