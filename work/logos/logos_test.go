package logos

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-session/work/client"
	"iptv-session/work/config"
)

const fallbackURL = "/logos/fallback.png"

func testResolver(t *testing.T, directoryURL string) *Resolver {
	t.Helper()
	cfg := &config.Config{
		LogoDirectoryURL:    directoryURL,
		LogoCachePath:       filepath.Join(t.TempDir(), "logos.json"),
		LogoFallbackURL:     fallbackURL,
		LogoRefreshInterval: time.Hour,
		BadLogoTTL:          50 * time.Millisecond,
	}
	return NewResolver(cfg, client.NewHeaderSettingClient())
}

func directoryServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveHitAndMiss(t *testing.T) {
	srv := directoryServer(t, `[
		{"name": "ESPN HD", "logo": "http://img/espn.png"},
		{"name": "Globo SP", "logo": "http://img/globo.png"}
	]`)

	r := testResolver(t, srv.URL)
	require.NoError(t, r.Build(context.Background()))
	assert.Equal(t, 2, r.Size())

	// Variants of the same name all land on the indexed entry.
	assert.Equal(t, "http://img/espn.png", r.Resolve("ESPN HD"))
	assert.Equal(t, "http://img/espn.png", r.Resolve("espn"))
	assert.Equal(t, "http://img/espn.png", r.Resolve("Éspn 4K"))

	assert.Equal(t, fallbackURL, r.Resolve("Channel Nobody Has"))
	assert.Equal(t, fallbackURL, r.Resolve(""))
	assert.Equal(t, fallbackURL, r.Resolve("   "))
}

func TestLastWriteWinsOnCollision(t *testing.T) {
	srv := directoryServer(t, `[
		{"name": "ESPN", "logo": "http://img/first.png"},
		{"name": "ESPN HD", "logo": "http://img/second.png"}
	]`)

	r := testResolver(t, srv.URL)
	require.NoError(t, r.Build(context.Background()))
	assert.Equal(t, "http://img/second.png", r.Resolve("espn"))
}

func TestDirectoryFetchFailureDegradesToFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := testResolver(t, srv.URL)
	assert.Error(t, r.Build(context.Background()))

	// Resolve itself never fails: every name gets the fallback.
	assert.Equal(t, fallbackURL, r.Resolve("ESPN"))
	assert.Equal(t, fallbackURL, r.Resolve("anything"))
}

func TestDiskCacheSurvivesDirectoryOutage(t *testing.T) {
	srv := directoryServer(t, `[{"name": "ESPN", "logo": "http://img/espn.png"}]`)

	first := testResolver(t, srv.URL)
	require.NoError(t, first.Build(context.Background()))
	cachePath := first.cfg.LogoCachePath

	// A second resolver sharing the cache path builds from disk when the
	// directory is gone.
	srv.Close()
	cfg := &config.Config{
		LogoDirectoryURL: srv.URL,
		LogoCachePath:    cachePath,
		LogoFallbackURL:  fallbackURL,
		BadLogoTTL:       time.Hour,
	}
	second := NewResolver(cfg, client.NewHeaderSettingClient())
	require.NoError(t, second.Build(context.Background()))
	assert.Equal(t, "http://img/espn.png", second.Resolve("espn"))
}

func TestCorruptDiskCacheIsRejected(t *testing.T) {
	r := testResolver(t, "")
	require.NoError(t, os.WriteFile(r.cfg.LogoCachePath, []byte("not json"), 0o644))
	assert.Error(t, r.Build(context.Background()))
	assert.Equal(t, fallbackURL, r.Resolve("espn"))
}

func TestMarkFailedPinsToFallbackUntilTTL(t *testing.T) {
	srv := directoryServer(t, `[{"name": "ESPN", "logo": "http://img/espn.png"}]`)

	r := testResolver(t, srv.URL)
	require.NoError(t, r.Build(context.Background()))
	require.Equal(t, "http://img/espn.png", r.Resolve("espn"))

	r.MarkFailed("http://img/espn.png")
	assert.Equal(t, fallbackURL, r.Resolve("espn"))

	// After the TTL the original URL is eligible again.
	deadline := time.Now().Add(2 * time.Second)
	for r.Resolve("espn") == fallbackURL && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "http://img/espn.png", r.Resolve("espn"))
}

func TestEntriesWithoutNameOrLogoAreSkipped(t *testing.T) {
	srv := directoryServer(t, `[
		{"name": "", "logo": "http://img/orphan.png"},
		{"name": "No Logo Channel", "logo": ""},
		{"name": "HD 4K", "logo": "http://img/tags-only.png"},
		{"name": "Real", "logo": "http://img/real.png"}
	]`)

	r := testResolver(t, srv.URL)
	require.NoError(t, r.Build(context.Background()))
	assert.Equal(t, 1, r.Size())
	assert.Equal(t, "http://img/real.png", r.Resolve("Real"))
}
