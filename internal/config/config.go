package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Storage      StorageConfig      `mapstructure:"storage"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Transport    TransportConfig    `mapstructure:"transport"`
	Tiles        TilesConfig        `mapstructure:"tiles"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// StorageConfig selects the key-value backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "bolt", "sqlite" or "memory"
	Dir    string `mapstructure:"dir"`
}

// SyncConfig tunes the mutation queue
type SyncConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// ConnectivityConfig drives the reachability prober
type ConnectivityConfig struct {
	ProbeURL string        `mapstructure:"probe_url"` // empty = assume online
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TransportConfig holds HTTP client settings
type TransportConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// TilesConfig holds tile download defaults
type TilesConfig struct {
	Root         string   `mapstructure:"root"`
	Concurrency  int      `mapstructure:"concurrency"`
	BudgetPolicy string   `mapstructure:"budget_policy"` // "soft" or "hard"
	Template     string   `mapstructure:"template"`
	Subdomains   []string `mapstructure:"subdomains"`
}

// FeedConfig holds the progress feed listener
type FeedConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Loader reads configuration from file and environment.
type Loader struct {
	v        *viper.Viper
	explicit bool
}

// NewLoader prepares a loader. An empty configFile searches the default
// config directory and the working directory for config.yaml.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. OFFGRID_SYNC_MAX_PARALLEL
	v.SetEnvPrefix("OFFGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, explicit: configFile != ""}
}

// Load reads the config file if present and decodes it over the defaults
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the config file whenever it changes on disk and hands the
// result to fn. Decode failures are reported through fn's error argument.
// It does nothing when no config file was loaded.
func (l *Loader) Watch(fn func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(l.decode())
	})
	l.v.WatchConfig()
}

// ConfigFile returns the file in use, or "" when running on defaults
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load is shorthand for NewLoader(configFile).Load()
func Load(configFile string) (*Config, error) {
	return NewLoader(configFile).Load()
}

// ExpandPath replaces a leading ~ with the user's home directory
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func setDefaults(v *viper.Viper) {
	dataDir := defaultDataPath()

	v.SetDefault("storage.driver", "bolt")
	v.SetDefault("storage.dir", dataDir)

	v.SetDefault("sync.max_parallel", 2)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.initial_backoff", time.Second)

	v.SetDefault("connectivity.probe_url", "")
	v.SetDefault("connectivity.interval", 15*time.Second)
	v.SetDefault("connectivity.timeout", 5*time.Second)

	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.user_agent", "offgrid/1.0")

	v.SetDefault("tiles.root", filepath.Join(dataDir, "tiles"))
	v.SetDefault("tiles.concurrency", 4)
	v.SetDefault("tiles.budget_policy", "soft")
	v.SetDefault("tiles.template", "")
	v.SetDefault("tiles.subdomains", []string{})

	v.SetDefault("feed.addr", "127.0.0.1:8787")

	v.SetDefault("logging.file", filepath.Join(dataDir, "offgrid.log"))
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "offgrid")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "offgrid")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "offgrid")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "offgrid")
	}
}
