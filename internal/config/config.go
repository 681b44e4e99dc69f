// Package config loads pluginctl configuration from defaults, an optional
// YAML file and PLUGINHOST_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/mod/semver"

	"github.com/pteroca-com/pluginhost/internal/adapters/logging"
	"github.com/pteroca-com/pluginhost/internal/domain/security"
	"github.com/pteroca-com/pluginhost/internal/domain/upload"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// EnvPrefix prefixes every environment override, for example
// PLUGINHOST_STORAGE_DRIVER.
const EnvPrefix = "PLUGINHOST"

// Storage drivers.
const (
	StorageFile  = "file"
	StorageMySQL = "mysql"
)

// Cache drivers.
const (
	CacheDir   = "dir"
	CacheRedis = "redis"
)

// Event drivers.
const (
	EventsLog  = "log"
	EventsAMQP = "amqp"
)

// Config is the complete pluginctl configuration.
type Config struct {
	PluginsDir  string          `mapstructure:"plugins_dir"`
	HostVersion string          `mapstructure:"host_version"`
	StateFile   string          `mapstructure:"state_file"`
	CacheDir    string          `mapstructure:"cache_dir"`
	PublicDir   string          `mapstructure:"public_dir"`
	Log         LogConfig       `mapstructure:"log"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Events      EventsConfig    `mapstructure:"events"`
	AMQP        AMQPConfig      `mapstructure:"amqp"`
	Upload      UploadConfig    `mapstructure:"upload"`
	Security    SecurityConfig  `mapstructure:"security"`
	Installer   InstallerConfig `mapstructure:"installer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type CacheConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type EventsConfig struct {
	Driver string `mapstructure:"driver"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type UploadConfig struct {
	MaxSize         int64  `mapstructure:"max_size"`
	MaxUncompressed int64  `mapstructure:"max_uncompressed"`
	TempDir         string `mapstructure:"temp_dir"`
	SecurityScan    bool   `mapstructure:"security_scan"`
}

// SecurityConfig mirrors security.Config.
type SecurityConfig struct {
	DangerousFunctions      []string `mapstructure:"dangerous_functions"`
	CheckDangerousFunctions bool     `mapstructure:"check_dangerous_functions"`
	CheckPathTraversal      bool     `mapstructure:"check_path_traversal"`
	CheckSQLInjection       bool     `mapstructure:"check_sql_injection"`
	CheckXSS                bool     `mapstructure:"check_xss"`
	CheckFilePermissions    bool     `mapstructure:"check_file_permissions"`
	ExcludedDirs            []string `mapstructure:"excluded_dirs"`
}

type InstallerConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	sec := security.DefaultConfig()

	v.SetDefault("plugins_dir", "plugins")
	v.SetDefault("host_version", "0.6.0")
	v.SetDefault("state_file", "var/plugins.yaml")
	v.SetDefault("cache_dir", "var/cache")
	v.SetDefault("public_dir", "public/plugins")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.driver", StorageFile)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("cache.driver", CacheDir)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "pteroca:cache:")
	v.SetDefault("events.driver", EventsLog)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "pteroca.plugins")
	v.SetDefault("upload.max_size", upload.DefaultMaxSize)
	v.SetDefault("upload.max_uncompressed", upload.DefaultMaxUncompressed)
	v.SetDefault("upload.temp_dir", "")
	v.SetDefault("upload.security_scan", true)
	v.SetDefault("security.dangerous_functions", sec.DangerousFunctions)
	v.SetDefault("security.check_dangerous_functions", sec.CheckDangerousFunctions)
	v.SetDefault("security.check_path_traversal", sec.CheckPathTraversal)
	v.SetDefault("security.check_sql_injection", sec.CheckSQLInjection)
	v.SetDefault("security.check_xss", sec.CheckXSS)
	v.SetDefault("security.check_file_permissions", sec.CheckFilePermissions)
	v.SetDefault("security.excluded_dirs", sec.ExcludedDirs)
	v.SetDefault("installer.command", "composer")
	v.SetDefault("installer.timeout", 300*time.Second)
}

// Load reads the configuration. An empty path uses defaults and the
// environment only; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.PluginsDir) == "" {
		errs = append(errs, errors.New("plugins_dir cannot be empty"))
	}
	if !semver.IsValid("v" + strings.TrimPrefix(c.HostVersion, "v")) {
		errs = append(errs, fmt.Errorf("host_version %q is not a semantic version", c.HostVersion))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch logging.Format(strings.ToLower(c.Log.Format)) {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	switch c.Storage.Driver {
	case StorageFile:
		if c.StateFile == "" {
			errs = append(errs, errors.New("state_file cannot be empty with the file storage driver"))
		}
	case StorageMySQL:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required with the mysql storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Cache.Driver {
	case CacheDir, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown cache.driver %q", c.Cache.Driver))
	}

	switch c.Events.Driver {
	case EventsLog:
	case EventsAMQP:
		if c.AMQP.URL == "" {
			errs = append(errs, errors.New("amqp.url is required with the amqp events driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events.driver %q", c.Events.Driver))
	}

	if c.Upload.MaxSize <= 0 || c.Upload.MaxUncompressed <= 0 {
		errs = append(errs, errors.New("upload limits must be positive"))
	}
	if c.Installer.Timeout <= 0 {
		errs = append(errs, errors.New("installer.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// LogLevel returns the configured level.
func (c *Config) LogLevel() ports.Level {
	return ports.ParseLevel(strings.ToLower(c.Log.Level))
}

// SecurityValidatorConfig converts the settings to a scanner configuration.
func (c *Config) SecurityValidatorConfig() security.Config {
	cfg := security.DefaultConfig()
	cfg.DangerousFunctions = c.Security.DangerousFunctions
	cfg.CheckDangerousFunctions = c.Security.CheckDangerousFunctions
	cfg.CheckPathTraversal = c.Security.CheckPathTraversal
	cfg.CheckSQLInjection = c.Security.CheckSQLInjection
	cfg.CheckXSS = c.Security.CheckXSS
	cfg.CheckFilePermissions = c.Security.CheckFilePermissions
	cfg.ExcludedDirs = c.Security.ExcludedDirs
	return cfg
}

// UploadServiceConfig converts the settings to an upload service configuration.
func (c *Config) UploadServiceConfig() upload.Config {
	cfg := upload.DefaultConfig(c.PluginsDir)
	cfg.MaxSize = c.Upload.MaxSize
	cfg.MaxUncompressed = c.Upload.MaxUncompressed
	cfg.SecurityScan = c.Upload.SecurityScan
	if c.Upload.TempDir != "" {
		cfg.TempDir = c.Upload.TempDir
	}
	return cfg
}
