package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"iptv-session/work/catalog"
	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/logger"
)

// Result is the outcome of the most recent reachability probe for one
// catalog item.
type Result struct {
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Checker probes catalog items with HEAD requests so the grid can badge
// unreachable channels before the user tries to play them. Probes are
// advisory: playback never consults them, the session controller has its
// own error handling.
type Checker struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	pool       *ants.Pool

	results *xsync.MapOf[string, Result]
}

// NewChecker builds a checker backed by the shared worker pool.
func NewChecker(cfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool) *Checker {
	return &Checker{
		cfg:        cfg,
		httpClient: httpClient,
		pool:       pool,
		results:    xsync.NewMapOf[string, Result](),
	}
}

// Probe checks every given item concurrently and blocks until all probes
// finish or the context is cancelled.
func (c *Checker) Probe(ctx context.Context, items []catalog.Item) {
	var wg sync.WaitGroup
	healthy := 0
	var countMu sync.Mutex

	for _, item := range items {
		if item.MediaURL == "" {
			continue
		}
		item := item
		wg.Add(1)

		task := func() {
			defer wg.Done()
			result := c.probeOne(ctx, item.MediaURL)
			c.results.Store(item.ID, result)
			if result.Healthy {
				countMu.Lock()
				healthy++
				countMu.Unlock()
			}
		}
		if err := c.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	logger.Info("[HEALTH] probed %d items, %d healthy", len(items), healthy)
}

// Get returns the latest probe result for an item, if one exists.
func (c *Checker) Get(itemID string) (Result, bool) {
	return c.results.Load(itemID)
}

// Results returns a snapshot of every known probe result keyed by item id.
func (c *Checker) Results() map[string]Result {
	out := make(map[string]Result, c.results.Size())
	c.results.Range(func(id string, r Result) bool {
		out[id] = r
		return true
	})
	return out
}

// probeOne issues one HEAD request. Some providers reject HEAD; a 405 is
// treated as reachable.
func (c *Checker) probeOne(ctx context.Context, mediaURL string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	result := Result{CheckedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Healthy = (resp.StatusCode >= 200 && resp.StatusCode < 400) || resp.StatusCode == http.StatusMethodNotAllowed
	return result
}
