// Package config loads tool settings and target app profiles. Every knob
// has a default so the binary runs with no config file at all; a YAML file
// or RESEED_* environment variables override individual keys.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	Profile               string `mapstructure:"profile"`
	AppPath               string `mapstructure:"app_path"`
	BackupDir             string `mapstructure:"backup_dir"`
	StagingRoot           string `mapstructure:"staging_root"`
	SigningIdentity       string `mapstructure:"signing_identity"`
	SignAttempts          int    `mapstructure:"sign_attempts"`
	SignRetryDelaySeconds int    `mapstructure:"sign_retry_delay_seconds"`
	ProcessAttempts       int    `mapstructure:"process_attempts"`
	ProcessWaitSeconds    int    `mapstructure:"process_wait_seconds"`
	Language              string `mapstructure:"language"`
	LogLevel              string `mapstructure:"log_level"`
	LogFormat             string `mapstructure:"log_format"`
	LogFile               string `mapstructure:"log_file"`
	LogMaxSizeMB          int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups         int    `mapstructure:"log_max_backups"`
	AuditMaxSizeMB        int    `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups       int    `mapstructure:"audit_max_backups"`
	StorageReadOnly       bool   `mapstructure:"storage_read_only"`
}

func Default() *Config {
	return &Config{
		Profile:               "lumen",
		SigningIdentity:       "-", // ad hoc
		SignAttempts:          3,
		SignRetryDelaySeconds: 2,
		ProcessAttempts:       3,
		ProcessWaitSeconds:    5,
		LogLevel:              "info",
		LogFormat:             "text",
		LogFile:               filepath.Join(os.TempDir(), "reseed.log"),
		LogMaxSizeMB:          10,
		LogMaxBackups:         3,
		AuditMaxSizeMB:        50,
		AuditMaxBackups:       3,
	}
}

// Load reads the config file into a Config, starting from defaults. With an
// empty cfgFile it searches the per-OS config dir and the working
// directory; a missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	viper.SetEnvPrefix("RESEED")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("reseed")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Source returns the path of the config file that was read, or "" when the
// process is running on defaults.
func Source() string {
	return viper.ConfigFileUsed()
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Reseed")
	case "darwin":
		return "/Library/Application Support/Reseed"
	default:
		return "/etc/reseed"
	}
}
