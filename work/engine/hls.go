package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grafov/m3u8"

	"iptv-session/work/logger"
	"iptv-session/work/utils"
)

// hlsEngine drives adaptive HLS playback: it resolves master playlists to a
// variant, then polls the media playlist and feeds new segments into the
// surface sink. The segment tracker prevents re-delivery of segments that
// stay in the live playlist window across refreshes.
type hlsEngine struct {
	deps Deps
	sink Sink

	mu       sync.Mutex
	mediaURL string
	cancel   context.CancelFunc
}

func newHLSEngine(deps Deps, sink Sink) Engine {
	return &hlsEngine{deps: deps, sink: sink}
}

func (e *hlsEngine) Kind() Kind { return KindHLS }

// Load begins asynchronous manifest loading and segment delivery.
func (e *hlsEngine) Load(mediaURL string) error {
	if mediaURL == "" {
		return fmt.Errorf("hls engine: empty media URL")
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

// Recover restarts loading from the live edge. The fresh segment tracker
// means recovery rejoins the stream rather than replaying the old window.
func (e *hlsEngine) Recover() {
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

// Destroy stops the loader.
func (e *hlsEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *hlsEngine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *hlsEngine) run(ctx context.Context, manifestURL string) {
	mediaURL, err := e.resolveVariant(ctx, manifestURL)
	if err != nil {
		if ctx.Err() == nil {
			e.sink(errEvent(err))
		}
		return
	}

	logger.Debug("[ENGINE] hls: playing variant %s", utils.LogURL(e.deps.Config, mediaURL))
	e.sink(Event{Type: EventReady})

	e.pumpSegments(ctx, mediaURL)
}

// resolveVariant fetches the manifest; for a master playlist it picks the
// highest-bandwidth variant and returns its media playlist URL.
func (e *hlsEngine) resolveVariant(ctx context.Context, manifestURL string) (string, error) {
	playlist, listType, err := e.fetchPlaylist(ctx, manifestURL)
	if err != nil {
		return "", err
	}

	if listType == m3u8.MEDIA {
		return manifestURL, nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || len(master.Variants) == 0 {
		return "", classified(ClassUnsupported, fmt.Errorf("master playlist has no variants"))
	}

	best := master.Variants[0]
	for _, v := range master.Variants {
		if v != nil && v.Bandwidth > best.Bandwidth {
			best = v
		}
	}

	resolved, err := resolveURL(manifestURL, best.URI)
	if err != nil {
		return "", classified(ClassMedia, fmt.Errorf("variant URI unresolvable: %w", err))
	}
	return resolved, nil
}

// pumpSegments polls the media playlist and streams unseen segments.
func (e *hlsEngine) pumpSegments(ctx context.Context, mediaURL string) {
	seen := newSegmentTracker(32)
	started := false
	refreshWait := 2 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		playlist, listType, err := e.fetchPlaylist(ctx, mediaURL)
		if err != nil {
			if ctx.Err() == nil {
				e.sink(errEvent(err))
			}
			return
		}
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if listType != m3u8.MEDIA || !ok {
			e.sink(errEvent(classified(ClassMedia, fmt.Errorf("expected media playlist"))))
			return
		}

		if media.TargetDuration > 0 {
			refreshWait = time.Duration(media.TargetDuration * float64(time.Second) / 2)
			if refreshWait < time.Second {
				refreshWait = time.Second
			}
		}

		delivered := 0
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			segURL, err := resolveURL(mediaURL, seg.URI)
			if err != nil || seen.has(segURL) {
				continue
			}

			if ctx.Err() != nil {
				return
			}

			if err := e.streamSegment(ctx, segURL); err != nil {
				if ctx.Err() == nil {
					e.sink(errEvent(err))
				}
				return
			}

			seen.mark(segURL)
			delivered++

			if !started {
				started = true
				e.sink(Event{Type: EventPlaying})
			} else {
				e.sink(Event{Type: EventProgress})
			}
		}

		if media.Closed && delivered == 0 {
			// VOD playlist fully consumed.
			e.sink(Event{Type: EventEnded})
			return
		}

		if delivered == 0 {
			// Live edge: nothing new this refresh. Signal buffering so the
			// controller can arm its stall watchdog.
			e.sink(Event{Type: EventWaiting})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(refreshWait):
		}
	}
}

// streamSegment fetches one segment and writes it to the surface sink.
func (e *hlsEngine) streamSegment(ctx context.Context, segURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return classified(ClassMedia, fmt.Errorf("bad segment URL: %w", err))
	}

	resp, err := e.deps.Client.DoWithHeaders(req, e.deps.UserAgent, "", "")
	if err != nil {
		return classified(ClassNetwork, fmt.Errorf("segment fetch failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classified(classifyStatus(resp.StatusCode), fmt.Errorf("segment returned HTTP %d", resp.StatusCode))
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := e.deps.Surface.Write(buf[:n]); werr != nil {
				return classified(ClassMedia, werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return classified(ClassNetwork, fmt.Errorf("segment read failed: %w", err))
		}
	}
}

// fetchPlaylist fetches and decodes an HLS playlist. Network failures carry
// ClassNetwork; malformed playlists mean the engine cannot drive this source
// and carry ClassUnsupported.
func (e *hlsEngine) fetchPlaylist(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, 0, classified(ClassUnsupported, fmt.Errorf("bad playlist URL: %w", err))
	}

	resp, err := e.deps.Client.DoWithHeaders(req, e.deps.UserAgent, "", "")
	if err != nil {
		return nil, 0, classified(ClassNetwork, fmt.Errorf("playlist fetch failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, classified(classifyStatus(resp.StatusCode), fmt.Errorf("playlist returned HTTP %d", resp.StatusCode))
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return nil, 0, classified(ClassUnsupported, fmt.Errorf("playlist decode failed: %w", err))
	}
	return playlist, listType, nil
}

// resolveURL resolves ref against base, passing absolute refs through.
func resolveURL(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// segmentTracker remembers recently delivered segment URLs with bounded
// memory, evicting oldest-first.
type segmentTracker struct {
	order []string
	set   map[string]bool
	max   int
}

func newSegmentTracker(max int) *segmentTracker {
	return &segmentTracker{set: make(map[string]bool), max: max}
}

func (t *segmentTracker) has(u string) bool { return t.set[u] }

func (t *segmentTracker) mark(u string) {
	if t.set[u] {
		return
	}
	t.set[u] = true
	t.order = append(t.order, u)
	if len(t.order) > t.max {
		delete(t.set, t.order[0])
		t.order = t.order[1:]
	}
}

// classifiedError pairs an error with its controller-facing class so engine
// internals can return plain errors and emit once at the boundary.
type classifiedError struct {
	class ErrorClass
	err   error
}

func (c *classifiedError) Error() string { return c.err.Error() }
func (c *classifiedError) Unwrap() error { return c.err }

func classified(class ErrorClass, err error) error {
	return &classifiedError{class: class, err: err}
}

// errEvent converts a (possibly classified) error into an EventError.
// Unclassified errors default to the network class.
func errEvent(err error) Event {
	class := ClassNetwork
	var ce *classifiedError
	if errors.As(err, &ce) {
		class = ce.class
	}
	return Event{Type: EventError, Class: class, Err: err}
}
