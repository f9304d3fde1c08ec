// Package config provides configuration management for trace-pprof.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/trace-pprof/pkg/compression"
	apperrors "github.com/trace-pprof/pkg/errors"
	"github.com/trace-pprof/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. TRACEPPROF_DATABASE_TYPE.
const EnvPrefix = "TRACEPPROF"

// Config holds all configuration for the application.
type Config struct {
	Database  DatabaseConfig   `mapstructure:"database"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Export    ExportConfig     `mapstructure:"export"`
	Log       LogConfig        `mapstructure:"log"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Path     string `mapstructure:"path"` // sqlite only
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds profile sink configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Prefix    string `mapstructure:"prefix"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// ExportConfig controls profile export.
type ExportConfig struct {
	Compression string `mapstructure:"compression"` // gzip, zstd or none
	Workers     int    `mapstructure:"workers"`
	Validate    bool   `mapstructure:"validate"`
	OutputDir   string `mapstructure:"output_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty means stderr
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from configPath, or from config.yaml in the
// standard locations when configPath is empty. A missing file is not an
// error. Environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/trace-pprof")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	cfg.Telemetry = telemetry.ApplyEnv(cfg.Telemetry)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config", err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/traces.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.database", "trace_pprof")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_conns", 10)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.prefix", "profiles")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.domain", "myqcloud.com")
	v.SetDefault("storage.scheme", "https")

	// Export defaults
	v.SetDefault("export.compression", "gzip")
	v.SetDefault("export.workers", 0)
	v.SetDefault("export.validate", true)
	v.SetDefault("export.output_dir", "./out")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")

	// Telemetry defaults
	tel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.enabled", tel.Enabled)
	v.SetDefault("telemetry.service_name", tel.ServiceName)
	v.SetDefault("telemetry.service_version", tel.ServiceVersion)
	v.SetDefault("telemetry.endpoint", tel.Endpoint)
	v.SetDefault("telemetry.protocol", tel.Protocol)
	v.SetDefault("telemetry.insecure", tel.Insecure)
	v.SetDefault("telemetry.sampler", tel.Sampler)
	v.SetDefault("telemetry.sampler_arg", tel.SamplerArg)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return apperrors.New(apperrors.CodeConfigError, "sqlite database path is required")
		}
	case "postgres", "postgresql", "mysql":
		if c.Database.Host == "" {
			return apperrors.New(apperrors.CodeConfigError, "database host is required")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported database type: %s", c.Database.Type)
	}

	// Storage backend details are validated by the storage package.
	if c.Storage.Type != "" && c.Storage.Type != "local" && c.Storage.Type != "cos" {
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", c.Storage.Type)
	}

	if _, err := compression.ParseType(c.Export.Compression); err != nil {
		return apperrors.Wrap(apperrors.CodeConfigError, "invalid export compression", err)
	}
	if c.Export.Workers < 0 {
		return apperrors.New(apperrors.CodeConfigError, "export workers must not be negative")
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http", "http/protobuf":
		default:
			return apperrors.Newf(apperrors.CodeConfigError, "unsupported telemetry protocol: %s", c.Telemetry.Protocol)
		}
	}

	return nil
}

// String renders the configuration with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Database.Password != "" {
		masked.Database.Password = "***"
	}
	if masked.Storage.SecretKey != "" {
		masked.Storage.SecretKey = "***"
	}
	return fmt.Sprintf("%+v", masked)
}
