package logos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"

	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/logger"
	"iptv-session/work/metrics"
	"iptv-session/work/normalize"
)

// DirectoryEntry is one record of the remote channel directory.
type DirectoryEntry struct {
	Name string `json:"name"`
	Logo string `json:"logo"`
}

// Resolver maps free-text channel names to logo URLs. The table is built
// from the remote directory (or its on-disk cache), keyed by normalized
// name, and read-only between rebuilds. Resolve never fails: any miss,
// empty key, or build failure degrades to the configured fallback URL.
type Resolver struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient

	mu    sync.RWMutex
	table map[string]string

	// Render-failed logo URLs are pinned to the fallback for a TTL so the
	// UI swaps exactly once instead of re-trying a dead image.
	badLogos *otter.Cache[string, struct{}]

	refreshing atomic.Bool
	stopChan   chan struct{}
}

// NewResolver builds an empty resolver. Call Build before serving lookups;
// until then every name resolves to the fallback.
func NewResolver(cfg *config.Config, httpClient *client.HeaderSettingClient) *Resolver {
	badLogos := otter.Must(&otter.Options[string, struct{}]{
		MaximumSize:      4096,
		ExpiryCalculator: otter.ExpiryWriting[string, struct{}](cfg.BadLogoTTL),
	})
	return &Resolver{
		cfg:        cfg,
		httpClient: httpClient,
		table:      make(map[string]string),
		badLogos:   badLogos,
	}
}

// Build populates the table from the remote directory, falling back to the
// on-disk cache when the fetch fails. A total failure leaves the table
// empty, which means every lookup returns the fallback; the error is for
// the caller's log line only, lookups never see it.
func (r *Resolver) Build(ctx context.Context) error {
	entries, err := r.fetchDirectory(ctx)
	if err != nil {
		logger.Warn("[LOGOS] directory fetch failed, trying disk cache: %v", err)
		entries, err = r.loadDiskCache()
		if err != nil {
			logger.Warn("[LOGOS] no usable logo directory, every lookup will return the fallback: %v", err)
			return err
		}
	} else {
		r.saveDiskCache(entries)
	}

	table := make(map[string]string, len(entries))
	for _, entry := range entries {
		key := normalize.Key(entry.Name)
		if key == "" || entry.Logo == "" {
			continue
		}
		// Colliding names: the later directory entry wins.
		table[key] = entry.Logo
	}

	r.mu.Lock()
	r.table = table
	r.mu.Unlock()

	logger.Info("[LOGOS] indexed %d logos from %d directory entries", len(table), len(entries))
	return nil
}

// Resolve returns the logo URL for a channel name, or the fallback. The
// fallback also covers URLs recently reported failed via MarkFailed.
func (r *Resolver) Resolve(channelName string) string {
	key := normalize.Key(channelName)
	if key == "" {
		metrics.LogoLookups.WithLabelValues("empty").Inc()
		return r.cfg.LogoFallbackURL
	}

	r.mu.RLock()
	logoURL, ok := r.table[key]
	r.mu.RUnlock()

	if !ok {
		metrics.LogoLookups.WithLabelValues("miss").Inc()
		return r.cfg.LogoFallbackURL
	}
	if _, failed := r.badLogos.GetIfPresent(logoURL); failed {
		metrics.LogoLookups.WithLabelValues("failed").Inc()
		return r.cfg.LogoFallbackURL
	}

	metrics.LogoLookups.WithLabelValues("hit").Inc()
	return logoURL
}

// MarkFailed records that a resolved URL errored at render time. Later
// lookups hitting the same URL return the fallback until the TTL lapses.
func (r *Resolver) MarkFailed(logoURL string) {
	if logoURL == "" || logoURL == r.cfg.LogoFallbackURL {
		return
	}
	r.badLogos.Set(logoURL, struct{}{})
	logger.Debug("[LOGOS] pinned failed logo to fallback: %s", logoURL)
}

// Size reports how many logos are indexed.
func (r *Resolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

// StartRefresh begins periodic directory rebuilds. Safe to call once;
// subsequent calls are no-ops until StopRefresh.
func (r *Resolver) StartRefresh() {
	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}
	r.stopChan = make(chan struct{})

	go func() {
		ticker := time.NewTicker(r.cfg.LogoRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if err := r.Build(ctx); err != nil {
					logger.Warn("[LOGOS] periodic refresh failed: %v", err)
				}
				cancel()
			case <-r.stopChan:
				return
			}
		}
	}()
	logger.Debug("[LOGOS] refresh loop started, interval %s", r.cfg.LogoRefreshInterval)
}

// StopRefresh stops the periodic rebuild loop.
func (r *Resolver) StopRefresh() {
	if !r.refreshing.CompareAndSwap(true, false) {
		return
	}
	close(r.stopChan)
}

func (r *Resolver) fetchDirectory(ctx context.Context) ([]DirectoryEntry, error) {
	if r.cfg.LogoDirectoryURL == "" {
		return nil, fmt.Errorf("no logo directory configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.LogoDirectoryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("bad directory URL: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("directory returned HTTP %d", resp.StatusCode)
	}

	var entries []DirectoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("directory decode failed: %w", err)
	}
	return entries, nil
}

func (r *Resolver) loadDiskCache() ([]DirectoryEntry, error) {
	if r.cfg.LogoCachePath == "" {
		return nil, fmt.Errorf("no logo cache path configured")
	}
	data, err := os.ReadFile(r.cfg.LogoCachePath)
	if err != nil {
		return nil, fmt.Errorf("logo cache unreadable: %w", err)
	}
	var entries []DirectoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("logo cache corrupt: %w", err)
	}
	logger.Info("[LOGOS] loaded %d entries from disk cache", len(entries))
	return entries, nil
}

// saveDiskCache is best-effort: a failed write only costs the next cold
// start a refetch.
func (r *Resolver) saveDiskCache(entries []DirectoryEntry) {
	if r.cfg.LogoCachePath == "" {
		return
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.cfg.LogoCachePath), 0o755); err != nil {
		logger.Warn("[LOGOS] cannot create cache dir: %v", err)
		return
	}
	if err := os.WriteFile(r.cfg.LogoCachePath, data, 0o644); err != nil {
		logger.Warn("[LOGOS] cache write failed: %v", err)
	}
}
