// Package config loads process configuration from flags, environment and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	// CloneDir is the base directory for instance-private clones.
	CloneDir string `mapstructure:"clone_dir"`
	// DBPath is the SQLite database holding scan aggregates.
	DBPath string `mapstructure:"db_path"`
	// DepsDevURL overrides the deps.dev API endpoint.
	DepsDevURL string `mapstructure:"depsdev_url"`
	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// Load reads cbomkit.yaml from the working directory if present, then
// environment variables prefixed CBOMKIT_ override file values.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CBOMKIT")
	v.AutomaticEnv()

	v.SetDefault("clone_dir", filepath.Join(os.TempDir(), "cbomkit"))
	v.SetDefault("db_path", "cbomkit.db")
	v.SetDefault("depsdev_url", "")
	v.SetDefault("verbose", false)

	v.SetConfigName("cbomkit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}
