package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ClearConfigCache()
	SetConfigPath(path)
	t.Cleanup(ClearConfigCache)
	return LoadConfig()
}

func TestLoadConfigParsesDurations(t *testing.T) {
	cfg := loadFixture(t, `{
		"listenPort": 9090,
		"stallWindow": "20s",
		"reconnectBaseDelay": "2s",
		"reconnectMaxDelay": "1m",
		"maxRetries": 5,
		"overlayQuiescence": "4s",
		"sources": [
			{"name": "main", "kind": "xtream", "url": "http://provider", "username": "u", "password": "p"}
		]
	}`)

	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, 20*time.Second, cfg.StallWindow)
	assert.Equal(t, 2*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, time.Minute, cfg.ReconnectMaxDelay)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 4*time.Second, cfg.OverlayQuiescence)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "xtream", cfg.Sources[0].Kind)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := loadFixture(t, `{}`)

	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, 15*time.Second, cfg.StallWindow)
	assert.Equal(t, 5*time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.OverlayQuiescence)
	assert.NotEmpty(t, cfg.LogoDirectoryURL)
	assert.NotEmpty(t, cfg.LogoFallbackURL)
	assert.Positive(t, cfg.WorkerThreads)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	ClearConfigCache()
	SetConfigPath(filepath.Join(t.TempDir(), "nope.json"))
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	assert.Equal(t, 8080, cfg.ListenPort)
}

func TestMaxDelayClampedToBase(t *testing.T) {
	cfg := loadFixture(t, `{
		"reconnectBaseDelay": "10s",
		"reconnectMaxDelay": "1s"
	}`)
	assert.GreaterOrEqual(t, cfg.ReconnectMaxDelay, cfg.ReconnectBaseDelay)
}

func TestSourceKindDefaultsToXtream(t *testing.T) {
	cfg := loadFixture(t, `{
		"sources": [
			{"name": "weird", "kind": "whatever", "url": "http://x"},
			{"name": "list", "kind": "m3u", "url": "http://y"}
		]
	}`)
	assert.Equal(t, "xtream", cfg.Sources[0].Kind)
	assert.Equal(t, "m3u", cfg.Sources[1].Kind)
}

func TestGetSourceByName(t *testing.T) {
	cfg := loadFixture(t, `{
		"sources": [{"name": "main", "kind": "m3u", "url": "http://x"}]
	}`)

	src := cfg.GetSourceByName("main")
	require.NotNil(t, src)
	assert.Equal(t, "http://x", src.URL)
	assert.Nil(t, cfg.GetSourceByName("missing"))
}

func TestCreateExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	ClearConfigCache()
	SetConfigPath(path)
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	assert.NotEmpty(t, cfg.Sources, "example config ships with a sample source")
}
