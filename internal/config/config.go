// Package config loads obra settings from an optional obra.yaml, a .env file
// and OBRA_* environment variables, in increasing order of precedence.
//
// Example obra.yaml:
//
//	data_dir: ~/.obracontrol
//	remote:
//	  driver: libsql
//	  url: libsql://obra-control.turso.io
//	assist:
//	  model: claude-3-5-haiku-latest
//	serve:
//	  port: 8080
//
// Every key can be overridden from the environment, for example
// OBRA_REMOTE_URL or OBRA_ASSIST_API_KEY.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OBRA"

// Remote drivers.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverLibSQL = "libsql"
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config is the full application configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	AppID   string `mapstructure:"app_id"`

	Log    LogConfig    `mapstructure:"log"`
	Remote RemoteConfig `mapstructure:"remote"`
	Notify NotifyConfig `mapstructure:"notify"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Assist AssistConfig `mapstructure:"assist"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Serve  ServeConfig  `mapstructure:"serve"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LogConfig controls log output.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Verbose    bool   `mapstructure:"verbose"`
}

// RemoteConfig selects the remote document store.
type RemoteConfig struct {
	Driver       string        `mapstructure:"driver"`
	URL          string        `mapstructure:"url"`
	AuthToken    string        `mapstructure:"auth_token"`
	Database     string        `mapstructure:"database"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// NotifyConfig configures cross-process change notifications.
type NotifyConfig struct {
	RedisURL string `mapstructure:"redis_url"`
}

// AuthConfig configures the session identity. With no token and no secret
// the remote store is disabled.
type AuthConfig struct {
	Token  string `mapstructure:"token"`
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// AssistConfig configures the generative assistant.
type AssistConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	MaxTokens     int64         `mapstructure:"max_tokens"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
}

// SyncConfig tunes the persistence gateway.
type SyncConfig struct {
	StaleWriteGuard bool          `mapstructure:"stale_write_guard"`
	FlushTimeout    time.Duration `mapstructure:"flush_timeout"`

	// FirstSyncTimeout bounds the wait for the remote document when a
	// workspace is opened. Negative disables the wait.
	FirstSyncTimeout time.Duration `mapstructure:"first_sync_timeout"`
}

// ServeConfig configures `obra serve`.
type ServeConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	// AllowedOrigins lists browser origin hosts, besides the dashboard's
	// own, that may use the API and the WebSocket.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	BackupInterval time.Duration `mapstructure:"backup_interval"`
	BackupDir      string        `mapstructure:"backup_dir"`
	BackupKeep     int           `mapstructure:"backup_keep"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. Empty searches the default paths.
	File string

	// EnvFile is loaded into the environment first. Missing files are
	// ignored. Empty means ".env".
	EnvFile string

	// SearchPaths overrides the directories searched for obra.yaml.
	SearchPaths []string
}

// DefaultDataDir returns ~/.obracontrol, or .obracontrol when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".obracontrol"
	}
	return filepath.Join(home, ".obracontrol")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("app_id", "obra-control-prod")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.verbose", false)

	v.SetDefault("remote.driver", DriverNone)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.auth_token", "")
	v.SetDefault("remote.database", "obracontrol")
	v.SetDefault("remote.poll_interval", 2*time.Second)

	v.SetDefault("notify.redis_url", "")

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "obracontrol")

	v.SetDefault("assist.api_key", "")
	v.SetDefault("assist.model", "claude-3-5-haiku-latest")
	v.SetDefault("assist.max_tokens", 1024)
	v.SetDefault("assist.cache_ttl", 10*time.Minute)
	v.SetDefault("assist.rate_per_minute", 10)

	v.SetDefault("sync.stale_write_guard", true)
	v.SetDefault("sync.flush_timeout", 10*time.Second)
	v.SetDefault("sync.first_sync_timeout", 10*time.Second)

	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.allowed_origins", []string{})
	v.SetDefault("serve.backup_interval", time.Duration(0))
	v.SetDefault("serve.backup_dir", "")
	v.SetDefault("serve.backup_keep", 14)
}

// Load reads configuration. A missing config file is not an error.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("obra")
		v.SetConfigType("yaml")
		paths := opts.SearchPaths
		if paths == nil {
			paths = []string{".", DefaultDataDir()}
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)
	cfg.Serve.BackupDir = expandHome(cfg.Serve.BackupDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	switch c.Remote.Driver {
	case DriverNone, DriverMemory, DriverLibSQL, DriverSQLite, DriverMongo:
	default:
		return fmt.Errorf("invalid remote.driver %q", c.Remote.Driver)
	}
	if c.Remote.Driver != DriverNone && c.Remote.Driver != DriverMemory && c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required for driver %s", c.Remote.Driver)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("invalid serve.port %d", c.Serve.Port)
	}
	if c.Remote.PollInterval <= 0 {
		return fmt.Errorf("remote.poll_interval must be positive")
	}
	return nil
}

// DBPath returns the local database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, DBName)
}

// DBName is the local database file inside the data directory.
const DBName = "obra.db"

// BackupDir returns the backup directory, defaulting to data_dir/backups.
func (c *Config) BackupDir() string {
	if c.Serve.BackupDir != "" {
		return c.Serve.BackupDir
	}
	return filepath.Join(c.DataDir, "backups")
}

// RemoteEnabled reports whether a remote driver is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote.Driver != DriverNone
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
