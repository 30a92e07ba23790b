package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-session/work/catalog"
	"iptv-session/work/client"
	"iptv-session/work/config"
)

func testChecker(t *testing.T) *Checker {
	t.Helper()
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	cfg := &config.Config{ProbeTimeout: 2 * time.Second}
	return NewChecker(cfg, client.NewHeaderSettingClient(), pool)
}

func TestProbeClassifiesReachability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/ok.m3u8":
			w.WriteHeader(http.StatusOK)
		case "/no-head.m3u8":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	checker := testChecker(t)
	items := []catalog.Item{
		{ID: "a", MediaURL: srv.URL + "/ok.m3u8"},
		{ID: "b", MediaURL: srv.URL + "/no-head.m3u8"},
		{ID: "c", MediaURL: srv.URL + "/gone.m3u8"},
		{ID: "d"}, // no media URL, skipped
	}
	checker.Probe(context.Background(), items)

	a, ok := checker.Get("a")
	require.True(t, ok)
	assert.True(t, a.Healthy)
	assert.Equal(t, http.StatusOK, a.StatusCode)

	b, _ := checker.Get("b")
	assert.True(t, b.Healthy, "providers rejecting HEAD still count as reachable")

	c, _ := checker.Get("c")
	assert.False(t, c.Healthy)

	_, ok = checker.Get("d")
	assert.False(t, ok)

	assert.Len(t, checker.Results(), 3)
}

func TestProbeRecordsConnectionFailure(t *testing.T) {
	checker := testChecker(t)
	checker.Probe(context.Background(), []catalog.Item{
		{ID: "dead", MediaURL: "http://127.0.0.1:1/stream.m3u8"},
	})

	r, ok := checker.Get("dead")
	require.True(t, ok)
	assert.False(t, r.Healthy)
	assert.NotEmpty(t, r.Error)
}
