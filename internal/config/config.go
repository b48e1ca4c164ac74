// Package config loads fetchkit's viper-backed configuration: queue
// concurrency, mirror retry budget, retriable HTTP status codes, cache
// and permanent storage directories, and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once   sync.Once
	config *Config
)

// Config represents the application configuration.
type Config struct {
	viper   *viper.Viper
	Version string       `mapstructure:"version"`
	Queue   QueueConfig  `mapstructure:"queue"`
	Mirror  MirrorConfig `mapstructure:"mirror"`
	Cache   CacheConfig  `mapstructure:"cache"`
	Log     LogConfig    `mapstructure:"log"`
}

// QueueConfig controls the download queue's concurrency.
type QueueConfig struct {
	SimultaneousDownloads int `mapstructure:"simultaneous_downloads"`
	PriorityCapacity      int `mapstructure:"priority_capacity"` // 0 disables the priority queue
}

// MirrorConfig controls mirror selection and retry behavior.
type MirrorConfig struct {
	RetryBudget          int   `mapstructure:"retry_budget"`
	RetriableStatusCodes []int `mapstructure:"retriable_status_codes"`
	RequestsPerSecond    int   `mapstructure:"requests_per_second"`
	Burst                int   `mapstructure:"burst"`
}

// CacheConfig controls where downloaded files land.
type CacheConfig struct {
	Directory          string `mapstructure:"directory"`           // OS cache dir, 'cached' storage class
	PermanentDirectory string `mapstructure:"permanent_directory"` // application-support-like dir, 'permanent' storage class
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text (pretty)
}

// Load initializes and loads the configuration.
func Load(cfgFile ...string) (*Config, error) {
	once.Do(func() {
		configFile := ""
		if len(cfgFile) > 0 {
			configFile = cfgFile[0]
		}
		initViper(configFile)
	})

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(cfg)
	config = cfg
	return cfg, nil
}

// LoadFromViper loads configuration from a specific viper instance.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{viper: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// Get returns the current configuration, loading it with defaults if
// it has not been loaded yet.
func Get() *Config {
	if config == nil {
		var err error
		config, err = Load("")
		if err != nil {
			config = &Config{}
			setDefaults(config)
		}
	}
	return config
}

// Save writes the current configuration to file.
func Save() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}

	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return viper.WriteConfigAs(configFile)
}

func initViper(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			viper.AddConfigPath(".fetchkit")
		} else {
			viper.AddConfigPath(filepath.Join(home, ".fetchkit"))
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("FETCHKIT")
	viper.AutomaticEnv()

	setViperDefaults()

	viper.ReadInConfig()
}

func setViperDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	viper.SetDefault("queue.simultaneous_downloads", 4)
	viper.SetDefault("queue.priority_capacity", 2)

	viper.SetDefault("mirror.retry_budget", 3)
	viper.SetDefault("mirror.retriable_status_codes", []int{408, 429, 500, 502, 503, 504})
	viper.SetDefault("mirror.requests_per_second", 5)
	viper.SetDefault("mirror.burst", 10)

	viper.SetDefault("cache.directory", filepath.Join(home, ".cache", "fetchkit"))
	viper.SetDefault("cache.permanent_directory", filepath.Join(home, ".local", "share", "fetchkit"))

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("version", "0.1.0")
}

// setDefaults ensures all config fields have sensible defaults, for
// callers that construct a Config without going through viper defaults
// (e.g. tests, or a config file missing a section entirely).
func setDefaults(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	if cfg.Queue.SimultaneousDownloads == 0 {
		cfg.Queue.SimultaneousDownloads = 4
	}

	if cfg.Mirror.RetryBudget == 0 {
		cfg.Mirror.RetryBudget = 3
	}
	if len(cfg.Mirror.RetriableStatusCodes) == 0 {
		cfg.Mirror.RetriableStatusCodes = []int{408, 429, 500, 502, 503, 504}
	}
	if cfg.Mirror.RequestsPerSecond == 0 {
		cfg.Mirror.RequestsPerSecond = 5
	}

	if cfg.Cache.Directory == "" {
		cfg.Cache.Directory = filepath.Join(home, ".cache", "fetchkit")
	}
	if cfg.Cache.PermanentDirectory == "" {
		cfg.Cache.PermanentDirectory = filepath.Join(home, ".local", "share", "fetchkit")
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configFile = filepath.Join(home, ".fetchkit", "config.yaml")
	}
	return configFile
}

// DataDir returns fetchkit's data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fetchkit"
	}
	return filepath.Join(home, ".fetchkit")
}

// GetDataDir returns fetchkit's data directory.
func (c *Config) GetDataDir() string {
	return DataDir()
}

// GetString returns a string value from viper.
func (c *Config) GetString(key string) string {
	if c.viper != nil {
		return c.viper.GetString(key)
	}
	return viper.GetString(key)
}

// GetInt returns an int value from viper.
func (c *Config) GetInt(key string) int {
	if c.viper != nil {
		return c.viper.GetInt(key)
	}
	return viper.GetInt(key)
}

// GetInt64 returns an int64 value from viper.
func (c *Config) GetInt64(key string) int64 {
	if c.viper != nil {
		return c.viper.GetInt64(key)
	}
	return viper.GetInt64(key)
}

// GetFloat64 returns a float64 value from viper.
func (c *Config) GetFloat64(key string) float64 {
	if c.viper != nil {
		return c.viper.GetFloat64(key)
	}
	return viper.GetFloat64(key)
}

// GetDuration returns a duration value from viper, treating the
// stored value as a count of seconds.
func (c *Config) GetDuration(key string) time.Duration {
	var seconds int
	if c.viper != nil {
		seconds = c.viper.GetInt(key)
	} else {
		seconds = viper.GetInt(key)
	}
	return time.Duration(seconds) * time.Second
}

// GetLogLevel returns the log level.
func (c *Config) GetLogLevel() string {
	return c.Log.Level
}
