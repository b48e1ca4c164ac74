package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchkit/fetchkit/internal/config"
	"github.com/fetchkit/fetchkit/internal/mirror"
	"github.com/fetchkit/fetchkit/internal/resource"
)

func TestAppInitialization(t *testing.T) {
	v := setupTestConfig(t)

	configLoader := func() (*config.Config, error) {
		return config.LoadFromViper(v)
	}

	a, err := New(WithConfigLoader(configLoader))
	require.NoError(t, err)
	assert.NotNil(t, a)

	err = a.Initialize()
	require.NoError(t, err)

	assert.True(t, a.isInitialized)
	assert.NotNil(t, a.logger)
	assert.NotNil(t, a.cache)
	assert.NotNil(t, a.policy)
	assert.NotNil(t, a.config)

	require.NoError(t, a.Stop())
}

func TestAppResourceManagerInitialization(t *testing.T) {
	v := setupTestConfig(t)

	configLoader := func() (*config.Config, error) {
		return config.LoadFromViper(v)
	}

	a, err := New(WithConfigLoader(configLoader))
	require.NoError(t, err)

	require.NoError(t, a.Initialize())

	err = a.InitializeResourceManager(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, a.GetResourceManager())

	require.NoError(t, a.Stop())
}

func TestAppRequestCacheMiss(t *testing.T) {
	v := setupTestConfig(t)

	configLoader := func() (*config.Config, error) {
		return config.LoadFromViper(v)
	}

	a, err := New(WithConfigLoader(configLoader))
	require.NoError(t, err)
	require.NoError(t, a.Initialize())
	defer a.Stop()

	reqs, err := a.Request(context.Background(), []resource.Request{
		{Resource: mirror.Resource{ID: "r1", Main: mirror.Mirror{ID: "main", Location: "https://example.com/r1.bin"}}},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "r1", reqs[0].ResourceID)
}

func TestAppShutdown(t *testing.T) {
	v := setupTestConfig(t)

	configLoader := func() (*config.Config, error) {
		return config.LoadFromViper(v)
	}

	a, err := New(WithConfigLoader(configLoader))
	require.NoError(t, err)

	err = a.Initialize()
	require.NoError(t, err)

	err = a.Stop()
	assert.NoError(t, err)

	// Shutdown should be idempotent.
	err = a.Stop()
	assert.NoError(t, err)
}

func TestAppSignalHandling(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping signal handling test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("Skipping signal test on Windows")
	}

	v := setupTestConfig(t)

	configLoader := func() (*config.Config, error) {
		return config.LoadFromViper(v)
	}

	a, err := New(WithConfigLoader(configLoader))
	require.NoError(t, err)

	err = a.Initialize()
	require.NoError(t, err)
	defer a.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		wg.Done()
		a.handleSignals(cancel)
	}()

	wg.Wait()

	err = syscall.Kill(os.Getpid(), syscall.SIGINT)
	require.NoError(t, err)

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal handler did not cancel context within timeout")
	}
}

// Helper functions

func setupTestConfig(t *testing.T) *viper.Viper {
	t.Helper()

	tempDir := t.TempDir()

	v := viper.New()
	v.Set("version", "test")
	v.Set("log.level", "debug")
	v.Set("log.format", "text")

	v.Set("queue.simultaneous_downloads", 2)
	v.Set("queue.priority_capacity", 1)

	v.Set("mirror.retry_budget", 3)
	v.Set("mirror.retriable_status_codes", []int{408, 429, 500, 502, 503, 504})
	v.Set("mirror.requests_per_second", 5)
	v.Set("mirror.burst", 10)

	v.Set("cache.directory", filepath.Join(tempDir, "cache"))
	v.Set("cache.permanent_directory", filepath.Join(tempDir, "permanent"))

	return v
}
