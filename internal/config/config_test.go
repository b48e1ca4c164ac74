package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultConfig(t *testing.T) {
	viper.Reset()
	cfg, err := Load(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
	require.NoError(t, err, "Load() with non-existent path should not produce an error")
	require.NotNil(t, cfg, "Load() should return a non-nil Config object")

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".cache", "fetchkit"), cfg.Cache.Directory)
	assert.Equal(t, filepath.Join(home, ".local", "share", "fetchkit"), cfg.Cache.PermanentDirectory)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Queue.SimultaneousDownloads)
	assert.Equal(t, 3, cfg.Mirror.RetryBudget)
	assert.ElementsMatch(t, []int{408, 429, 500, 502, 503, 504}, cfg.Mirror.RetriableStatusCodes)
}

func TestLoadFromFile(t *testing.T) {
	v := viper.New()

	tempDir := t.TempDir()
	tempConfigFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
log:
  level: "debug"
queue:
  simultaneous_downloads: 8
mirror:
  retry_budget: 5
`
	err := os.WriteFile(tempConfigFile, []byte(configContent), 0600)
	require.NoError(t, err, "Failed to write temporary config file")

	v.SetConfigFile(tempConfigFile)
	require.NoError(t, v.ReadInConfig())

	v.SetDefault("queue.simultaneous_downloads", 4)
	v.SetDefault("mirror.retry_budget", 3)
	v.SetDefault("log.level", "info")

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Log.Level, "Log.Level should be from file")
	assert.Equal(t, 8, cfg.Queue.SimultaneousDownloads, "Queue.SimultaneousDownloads should be from file")
	assert.Equal(t, 5, cfg.Mirror.RetryBudget, "Mirror.RetryBudget should be from file")
}

func TestLoadWithEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	tempConfigFile := filepath.Join(tempDir, "env_override_config.yaml")

	baseConfigContent := `
log:
  level: "info"
queue:
  simultaneous_downloads: 3
`
	require.NoError(t, os.WriteFile(tempConfigFile, []byte(baseConfigContent), 0600))

	t.Setenv("FETCHKIT_LOG_LEVEL", "debug")
	t.Setenv("FETCHKIT_QUEUE_SIMULTANEOUS_DOWNLOADS", "10")

	v := viper.New()
	v.SetEnvPrefix("FETCHKIT")
	v.AutomaticEnv()

	v.SetDefault("log.level", "default_info")
	v.SetDefault("queue.simultaneous_downloads", 1)

	v.SetConfigFile(tempConfigFile)
	require.NoError(t, v.ReadInConfig())

	require.NoError(t, v.BindEnv("log.level", "FETCHKIT_LOG_LEVEL"))
	require.NoError(t, v.BindEnv("queue.simultaneous_downloads", "FETCHKIT_QUEUE_SIMULTANEOUS_DOWNLOADS"))

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Queue.SimultaneousDownloads)
}

func TestSaveConfig(t *testing.T) {
	viper.Reset()
	tempDir := t.TempDir()
	tempSavePath := filepath.Join(tempDir, "saved_config.yaml")

	viper.Set("log.level", "error")
	viper.Set("queue.simultaneous_downloads", 12)
	viper.SetConfigFile(tempSavePath)

	require.NoError(t, Save())

	_, err := os.Stat(tempSavePath)
	require.NoError(t, err, "Saved config file does not exist")

	readerViper := viper.New()
	readerViper.SetConfigFile(tempSavePath)
	require.NoError(t, readerViper.ReadInConfig())

	assert.Equal(t, "error", readerViper.GetString("log.level"))
	assert.Equal(t, 12, readerViper.GetInt("queue.simultaneous_downloads"))
}

func TestConfigPathAndDataDir(t *testing.T) {
	viper.Reset()
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".fetchkit", "config.yaml"), ConfigPath())

	customConfigPath := filepath.Join(t.TempDir(), "custom_config.yaml")
	viper.SetConfigFile(customConfigPath)
	_ = viper.ReadInConfig()
	assert.Equal(t, customConfigPath, ConfigPath())

	viper.Reset()
	assert.Equal(t, filepath.Join(home, ".fetchkit"), DataDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "another_non_existent_config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".fetchkit"), cfg.GetDataDir())
}

func TestGenericGetters(t *testing.T) {
	v := viper.New()

	v.Set("mykey.string", "testval")
	v.Set("mykey.int", 123)
	v.Set("mykey.durationsec", 5)
	v.Set("mykey.float", 12.34)
	v.Set("mykey.int64", int64(1234567890123))

	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "testval", cfg.GetString("mykey.string"))
	assert.Equal(t, 123, cfg.GetInt("mykey.int"))
	assert.Equal(t, 5*time.Second, cfg.GetDuration("mykey.durationsec"))
	assert.Equal(t, 12.34, cfg.GetFloat64("mykey.float"))
	assert.Equal(t, int64(1234567890123), cfg.GetInt64("mykey.int64"))
}
