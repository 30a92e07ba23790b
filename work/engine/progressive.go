package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"iptv-session/work/logger"
	"iptv-session/work/utils"
)

// progressiveEngine streams a single HTTP resource straight into the surface
// sink. It backs both the native engine (strict about container types) and
// the generic fallback engine (accepts anything with a 2xx).
type progressiveEngine struct {
	deps Deps
	sink Sink
	kind Kind

	// strictContent rejects obviously non-media payloads (HTML error pages
	// served with a 200) as unsupported instead of feeding them to the sink.
	strictContent bool

	mu       sync.Mutex
	mediaURL string
	cancel   context.CancelFunc
}

func newNativeEngine(deps Deps, sink Sink) Engine {
	return &progressiveEngine{deps: deps, sink: sink, kind: KindNative, strictContent: true}
}

func newFallbackEngine(deps Deps, sink Sink) Engine {
	return &progressiveEngine{deps: deps, sink: sink, kind: KindFallback}
}

func (e *progressiveEngine) Kind() Kind { return e.kind }

// Load begins asynchronous progressive loading of mediaURL.
func (e *progressiveEngine) Load(mediaURL string) error {
	if mediaURL == "" {
		return fmt.Errorf("%s engine: empty media URL", e.kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.mediaURL = mediaURL

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx, mediaURL)
	return nil
}

// Recover restarts network loading of the current source without a session
// teardown. Used for stall soft recovery and the media self-heal attempt.
func (e *progressiveEngine) Recover() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mediaURL == "" {
		return
	}

	e.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx, e.mediaURL)
}

// Destroy stops the loader. Late events from an already-running fetch are
// tolerated; the controller discards them via its session-identity guard.
func (e *progressiveEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *progressiveEngine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *progressiveEngine) run(ctx context.Context, mediaURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		e.emit(ctx, Event{Type: EventError, Class: ClassUnsupported, Err: fmt.Errorf("bad media URL: %w", err)})
		return
	}

	resp, err := e.deps.Client.DoWithHeaders(req, e.deps.UserAgent, "", "")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.emit(ctx, Event{Type: EventError, Class: ClassNetwork, Err: fmt.Errorf("fetch failed: %w", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.emit(ctx, Event{Type: EventError, Class: classifyStatus(resp.StatusCode),
			Err: fmt.Errorf("source returned HTTP %d", resp.StatusCode)})
		return
	}

	if e.strictContent {
		ct := resp.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "application/json") {
			e.emit(ctx, Event{Type: EventError, Class: ClassUnsupported,
				Err: fmt.Errorf("source served non-media content type %q", ct)})
			return
		}
	}

	logger.Debug("[ENGINE] %s: loading %s", e.kind, utils.LogURL(e.deps.Config, mediaURL))
	e.emit(ctx, Event{Type: EventReady})

	e.pump(ctx, resp.Body)
}

// pump copies the body into the surface sink, emitting Playing on first data
// and throttled Progress afterwards.
func (e *progressiveEngine) pump(ctx context.Context, body io.Reader) {
	buf := make([]byte, 32*1024)
	started := false
	lastProgress := time.Time{}

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := e.deps.Surface.Write(buf[:n]); werr != nil {
				// Surface detached under us: the session is being torn down.
				return
			}
			if !started {
				started = true
				e.emit(ctx, Event{Type: EventPlaying})
				lastProgress = time.Now()
			} else if time.Since(lastProgress) >= progressInterval {
				e.emit(ctx, Event{Type: EventProgress})
				lastProgress = time.Now()
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				e.emit(ctx, Event{Type: EventEnded})
				return
			}
			e.emit(ctx, Event{Type: EventError, Class: ClassNetwork, Err: fmt.Errorf("read failed: %w", err)})
			return
		}
	}
}

// progressInterval throttles EventProgress so the controller is not flooded
// on fast links.
const progressInterval = 500 * time.Millisecond

func (e *progressiveEngine) emit(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	e.sink(ev)
}
