// Package config loads skiptrack configuration from a yaml file and SKIPTRACK_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig    `mapstructure:"database"`
	Backup   BackupConfig      `mapstructure:"backup"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Sections map[string]string `mapstructure:"sections" validate:"dive,keys,numeric,endkeys,uuid"` // Section id -> library UUID override
	Logging  LoggingConfig     `mapstructure:"logging"`
}

// DatabaseConfig points at the Plex library database
type DatabaseConfig struct {
	Path     string `mapstructure:"path" validate:"required"`
	PureMode bool   `mapstructure:"pure_mode"` // Never write thumb_url
}

// BackupConfig holds the marker backup ledger settings
type BackupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"` // File path, postgres:// or mysql://
}

// CacheConfig holds the metadata cache location. Empty keeps it in memory.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN WARNING ERROR debug info warn warning error"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: defaultDatabasePath(),
		},
		Backup: BackupConfig{
			Enabled: true,
			DSN:     filepath.Join(dataDir(), "backup.db"),
		},
		Cache: CacheConfig{
			Dir: filepath.Join(dataDir(), "cache"),
		},
		Sections: map[string]string{},
		Logging: LoggingConfig{
			File:  filepath.Join(dataDir(), "skiptrack.log"),
			Level: "INFO",
		},
	}
}

// dataDir returns the per-user data directory for the current OS
func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "skiptrack")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "skiptrack")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "skiptrack")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "skiptrack")
	}
}

// defaultDatabasePath returns where Plex Media Server keeps its library database
func defaultDatabasePath() string {
	const rel = "Plex Media Server/Plug-in Support/Databases/com.plexapp.plugins.library.db"
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), rel)
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", rel)
	default:
		return filepath.Join("/var/lib/plexmediaserver/Library/Application Support", rel)
	}
}

// LoadConfig loads configuration from path, or from config.yaml in the default locations when
// path is empty, then applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides (SKIPTRACK_DATABASE_PATH, ...). AutomaticEnv only sees
	// keys viper already knows, so register every default.
	v.SetEnvPrefix("SKIPTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.pure_mode", cfg.Database.PureMode)
	v.SetDefault("backup.enabled", cfg.Backup.Enabled)
	v.SetDefault("backup.dsn", cfg.Backup.DSN)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SectionUUIDs returns the section UUID overrides keyed by section id, normalised to the
// canonical lowercase form.
func (c *Config) SectionUUIDs() (map[int64]string, error) {
	out := make(map[int64]string, len(c.Sections))
	for key, value := range c.Sections {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid section id %q: %w", key, err)
		}
		u, err := uuid.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid for section %d: %w", id, err)
		}
		out[id] = u.String()
	}
	return out, nil
}
