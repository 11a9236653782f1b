package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Environment variable prefix for pipeline configuration.
const envPrefix = "AUTOSHIP"

// DefaultConfigFile is the config file looked up when none is given.
const DefaultConfigFile = "autoship.yaml"

// Loader handles loading and merging configuration from file and
// environment sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader. Environment variables take
// precedence over file values; nested keys use underscores, so
// targets.registry.reference becomes AUTOSHIP_TARGETS_REGISTRY_REFERENCE.
func NewLoader() *Loader {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets are expected from the environment, never from the file.
	_ = v.BindEnv("targets.release_store.token", "AUTOSHIP_RELEASE_STORE_TOKEN")
	_ = v.BindEnv("targets.registry.username", "AUTOSHIP_REGISTRY_USERNAME")
	_ = v.BindEnv("targets.registry.password", "AUTOSHIP_REGISTRY_PASSWORD")

	return &Loader{v: v}
}

// Load loads configuration from the given file path. If configFile is
// empty, the default file in the current directory is used; a missing
// default file is not an error.
func (l *Loader) Load(configFile string) (*Config, error) {
	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile
	}

	l.v.SetConfigFile(configFile)
	l.v.SetConfigType("yaml")

	if err := l.v.ReadInConfig(); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Default file absent: defaults plus environment only.
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads configuration, applies defaults, and validates
// the result.
func (l *Loader) LoadWithDefaults(configFile string) (*Config, error) {
	cfg, err := l.Load(configFile)
	if err != nil {
		return nil, err
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
