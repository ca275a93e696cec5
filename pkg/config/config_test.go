package config

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"MANGADL_HOME_DIR": "/data/mangadl"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/data/mangadl", "chapter_disk_cache"), cfg.CacheDir)
	assert.Equal(t, filepath.Join("/data/mangadl", "mangadl.db"), cfg.DatabasePath)
	assert.Equal(t, "duckdb", cfg.Store)
	assert.Equal(t, 4, cfg.PreloadSize)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 4, cfg.PageConcurrency)
	assert.Equal(t, 2.0, cfg.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"MANGADL_HOME_DIR":     "/data/mangadl",
		"MANGADL_CACHE_DIR":    "/tmp/cache",
		"MANGADL_STORE":        "redis",
		"MANGADL_PRELOAD_SIZE": "10",
		"MANGADL_HTTP_TIMEOUT": "5s",
		"MANGADL_LOG_FORMAT":   "json",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cache", cfg.CacheDir)
	assert.Equal(t, "redis", cfg.Store)
	assert.Equal(t, 10, cfg.PreloadSize)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown store":    {"MANGADL_STORE": "sqlite"},
		"zero preload":     {"MANGADL_PRELOAD_SIZE": "0"},
		"not a number":     {"MANGADL_CONCURRENCY": "many"},
		"negative rate":    {"MANGADL_REQUESTS_PER_SECOND": "-1"},
		"zero concurrency": {"MANGADL_PAGE_CONCURRENCY": "0"},
	}

	for name, environ := range tests {
		t.Run(name, func(t *testing.T) {
			environ["MANGADL_HOME_DIR"] = "/data/mangadl"
			_, err := LoadFrom(environ)
			assert.Error(t, err)
		})
	}
}

type memoryPrefs struct {
	values map[string]int
	err    error
}

func (m *memoryPrefs) GetIntPreference(_ context.Context, key string, def int) (int, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *memoryPrefs) SetIntPreference(_ context.Context, key string, value int) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestPreferencesPreloadSize(t *testing.T) {
	store := &memoryPrefs{values: map[string]int{PreloadSizeKey: 6}}
	prefs := NewPreferences(store, 4)
	ctx := context.Background()

	require.NoError(t, prefs.Load(ctx))
	assert.Equal(t, 6, prefs.PreloadSize())

	var seen []int
	cancel := prefs.OnPreloadSizeChange(func(n int) { seen = append(seen, n) })

	require.NoError(t, prefs.SetPreloadSize(ctx, 10))
	require.NoError(t, prefs.SetPreloadSize(ctx, 10))
	assert.Equal(t, []int{10}, seen, "unchanged values are not announced")
	assert.Equal(t, 10, store.values[PreloadSizeKey])

	cancel()
	require.NoError(t, prefs.SetPreloadSize(ctx, 20))
	assert.Equal(t, []int{10}, seen)

	assert.Error(t, prefs.SetPreloadSize(ctx, 0))
	assert.Equal(t, 20, prefs.PreloadSize())
}

func TestPreferencesStoreFailure(t *testing.T) {
	store := &memoryPrefs{values: map[string]int{}, err: errors.New("disk full")}
	prefs := NewPreferences(store, 4)

	called := false
	prefs.OnPreloadSizeChange(func(int) { called = true })

	assert.Error(t, prefs.SetPreloadSize(context.Background(), 8))
	assert.Equal(t, 4, prefs.PreloadSize())
	assert.False(t, called)
}
