package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-session/work/client"
	"iptv-session/work/config"
	"iptv-session/work/surface"
)

func TestSelect(t *testing.T) {
	full := FullSupport()

	tests := []struct {
		name string
		url  string
		sup  Support
		want Kind
	}{
		{"hls manifest", "http://example.com/live/stream.m3u8", full, KindHLS},
		{"hls uppercase with query", "http://example.com/live/STREAM.M3U8?token=1", full, KindHLS},
		{"dash manifest", "http://example.com/live/stream.mpd", full, KindDASH},
		{"mp4 container", "http://example.com/vod/movie.mp4", full, KindNative},
		{"webm container", "http://example.com/vod/clip.webm", full, KindNative},
		{"ogg container", "http://example.com/vod/audio.ogg", full, KindNative},
		{"unknown extension", "http://example.com/live/stream.ts", full, KindFallback},
		{"no extension", "http://example.com/live/stream", full, KindFallback},
		{"hls unsupported falls through", "http://example.com/live/stream.m3u8", Support{Native: true}, KindFallback},
		{"dash unsupported falls through", "http://example.com/live/stream.mpd", Support{HLS: true, Native: true}, KindFallback},
		{"native unsupported falls through", "http://example.com/vod/movie.mp4", Support{HLS: true, DASH: true}, KindFallback},
		{"fragment ignored", "http://example.com/live/stream.m3u8#start", full, KindHLS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(tt.url, tt.sup))
		})
	}
}

func TestSelectIsPure(t *testing.T) {
	// Same inputs always give the same answer, no hidden state.
	for i := 0; i < 5; i++ {
		assert.Equal(t, KindHLS, Select("http://example.com/a.m3u8", FullSupport()))
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, ClassUnsupported, classifyStatus(http.StatusUnsupportedMediaType))
	assert.Equal(t, ClassNetwork, classifyStatus(http.StatusNotFound))
	assert.Equal(t, ClassNetwork, classifyStatus(http.StatusInternalServerError))
	assert.Equal(t, ClassNetwork, classifyStatus(http.StatusForbidden))
}

func TestSegmentTracker(t *testing.T) {
	tr := newSegmentTracker(3)

	tr.mark("a")
	tr.mark("b")
	tr.mark("c")
	assert.True(t, tr.has("a"))
	assert.True(t, tr.has("c"))

	// Marking a fourth evicts the oldest.
	tr.mark("d")
	assert.False(t, tr.has("a"))
	assert.True(t, tr.has("b"))
	assert.True(t, tr.has("d"))

	// Re-marking an existing entry does not grow the window.
	tr.mark("d")
	assert.True(t, tr.has("b"))
}

func TestResolveURL(t *testing.T) {
	got, err := resolveURL("http://example.com/live/master.m3u8", "chunk_720.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/live/chunk_720.m3u8", got)

	got, err = resolveURL("http://example.com/live/master.m3u8", "http://cdn.example.com/abs.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.example.com/abs.m3u8", got)

	got, err = resolveURL("http://example.com/live/master.m3u8", "/root/chunk.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/root/chunk.m3u8", got)
}

func TestErrEventClassification(t *testing.T) {
	ev := errEvent(classified(ClassUnsupported, fmt.Errorf("declined")))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, ClassUnsupported, ev.Class)

	// Unclassified errors default to the network class.
	ev = errEvent(fmt.Errorf("plain failure"))
	assert.Equal(t, ClassNetwork, ev.Class)
}

// eventCollector gathers engine events for assertion.
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) sink(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected event never arrived; got %v", c.snapshot())
	return Event{}
}

func testDeps(t *testing.T) (Deps, *surface.VideoSurface) {
	t.Helper()
	s := surface.New("test_surface", 1<<16)
	require.NoError(t, s.Attach())
	t.Cleanup(s.Detach)
	return Deps{
		Surface: s,
		Client:  client.NewHeaderSettingClient(),
		Config:  &config.Config{},
	}, s
}

func TestHLSResolvesHighestBandwidthVariant(t *testing.T) {
	var requested sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested.Store(r.URL.Path, true)
		switch r.URL.Path {
		case "/master.m3u8":
			fmt.Fprintf(w, "#EXTM3U\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360\nlow.m3u8\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=4000000,RESOLUTION=1920x1080\nhigh.m3u8\n")
		case "/high.m3u8":
			fmt.Fprintf(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n"+
				"#EXTINF:4.0,\nseg0.ts\n#EXT-X-ENDLIST\n")
		case "/seg0.ts":
			w.Write([]byte("segmentdata"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newHLSEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/master.m3u8"))

	col.waitFor(t, func(ev Event) bool { return ev.Type == EventEnded })
	_, hitHigh := requested.Load("/high.m3u8")
	_, hitLow := requested.Load("/low.m3u8")
	assert.True(t, hitHigh, "highest-bandwidth variant should be fetched")
	assert.False(t, hitLow, "lower variant should be skipped")

	events := col.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, EventReady, events[0].Type, "ready must precede data events")
	col.waitFor(t, func(ev Event) bool { return ev.Type == EventPlaying })
}

func TestHLSUnparseableManifestIsUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>definitely not a playlist</html>")
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newHLSEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/master.m3u8"))
	ev := col.waitFor(t, func(ev Event) bool { return ev.Type == EventError })
	assert.Equal(t, ClassUnsupported, ev.Class)
}

func TestHLSFetchFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newHLSEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/gone.m3u8"))
	ev := col.waitFor(t, func(ev Event) bool { return ev.Type == EventError })
	assert.Equal(t, ClassNetwork, ev.Class)
}

func TestDASHPicksHighestBandwidthRepresentation(t *testing.T) {
	var fetched sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched.Store(r.URL.Path, true)
		switch r.URL.Path {
		case "/manifest.mpd":
			fmt.Fprint(w, `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <Representation id="low" bandwidth="500000"><BaseURL>low.mp4</BaseURL></Representation>
      <Representation id="high" bandwidth="3000000"><BaseURL>high.mp4</BaseURL></Representation>
    </AdaptationSet>
  </Period>
</MPD>`)
		case "/high.mp4":
			w.Write([]byte("mp4data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newDASHEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/manifest.mpd"))
	col.waitFor(t, func(ev Event) bool { return ev.Type == EventEnded })

	_, hitHigh := fetched.Load("/high.mp4")
	_, hitLow := fetched.Load("/low.mp4")
	assert.True(t, hitHigh)
	assert.False(t, hitLow)
}

func TestDASHManifestParseFailureIsUnsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not xml at all <<<")
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newDASHEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/manifest.mpd"))
	ev := col.waitFor(t, func(ev Event) bool { return ev.Type == EventError })
	assert.Equal(t, ClassUnsupported, ev.Class)
}

func TestProgressiveStrictContentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>error page pretending to be video</html>")
	}))
	defer srv.Close()

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newNativeEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/movie.mp4"))
	ev := col.waitFor(t, func(ev Event) bool { return ev.Type == EventError })
	assert.Equal(t, ClassUnsupported, ev.Class)
}

func TestProgressiveFallbackAcceptsAnyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("rawstreamdata"))
	}))
	defer srv.Close()

	deps, s := testDeps(t)
	col := &eventCollector{}
	eng := newFallbackEngine(deps, col.sink)
	defer eng.Destroy()

	require.NoError(t, eng.Load(srv.URL+"/stream"))
	col.waitFor(t, func(ev Event) bool { return ev.Type == EventEnded })
	col.waitFor(t, func(ev Event) bool { return ev.Type == EventPlaying })
	assert.Greater(t, s.Sink().WritePosition(), int64(0))
}

func TestEngineLoadRejectsEmptyURL(t *testing.T) {
	deps, _ := testDeps(t)
	col := &eventCollector{}

	for _, kind := range []Kind{KindNative, KindHLS, KindDASH, KindFallback} {
		eng := DefaultFactory()(kind, deps, col.sink)
		assert.Error(t, eng.Load(""), "kind %s", kind)
		eng.Destroy()
	}
}

func TestDestroySilencesEngine(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		http.NotFound(w, r)
	}))
	defer srv.Close()
	defer close(release)

	deps, _ := testDeps(t)
	col := &eventCollector{}
	eng := newHLSEngine(deps, col.sink)

	require.NoError(t, eng.Load(srv.URL+"/slow.m3u8"))
	eng.Destroy()

	time.Sleep(100 * time.Millisecond)
	for _, ev := range col.snapshot() {
		assert.NotEqual(t, EventError, ev.Type, "destroyed engine must not report errors")
	}
}
