package engine

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"iptv-session/work/logger"
	"iptv-session/work/utils"
)

// mpd is the minimal subset of a DASH manifest this engine understands:
// enough to locate the best single-file Representation. Segmented
// representations without a BaseURL are declined as unsupported.
type mpd struct {
	XMLName xml.Name    `xml:"MPD"`
	BaseURL string      `xml:"BaseURL"`
	Periods []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	MimeType        string              `xml:"mimeType,attr"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID        string `xml:"id,attr"`
	Bandwidth uint64 `xml:"bandwidth,attr"`
	MimeType  string `xml:"mimeType,attr"`
	BaseURL   string `xml:"BaseURL"`
}

// dashEngine parses a DASH MPD manifest, picks the highest-bandwidth video
// representation that exposes a BaseURL, and streams it progressively.
type dashEngine struct {
	deps Deps
	sink Sink

	mu       sync.Mutex
	mediaURL string
	cancel   context.CancelFunc
}

func newDASHEngine(deps Deps, sink Sink) Engine {
	return &dashEngine{deps: deps, sink: sink}
}

func (e *dashEngine) Kind() Kind { return KindDASH }

func (e *dashEngine) Load(mediaURL string) error {
	if mediaURL == "" {
		return fmt.Errorf("dash engine: empty media URL")
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

func (e *dashEngine) Recover() {
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

func (e *dashEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *dashEngine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *dashEngine) run(ctx context.Context, manifestURL string) {
	streamURL, err := e.resolveRepresentation(ctx, manifestURL)
	if err != nil {
		if ctx.Err() == nil {
			e.sink(errEvent(err))
		}
		return
	}

	logger.Debug("[ENGINE] dash: playing representation %s", utils.LogURL(e.deps.Config, streamURL))
	e.sink(Event{Type: EventReady})

	e.stream(ctx, streamURL)
}

// resolveRepresentation fetches and parses the MPD, then picks the best
// representation URL. Unparseable manifests are unsupported; a manifest
// whose representations all lack BaseURLs is likewise beyond this engine.
func (e *dashEngine) resolveRepresentation(ctx context.Context, manifestURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", classified(ClassUnsupported, fmt.Errorf("bad manifest URL: %w", err))
	}

	resp, err := e.deps.Client.DoWithHeaders(req, e.deps.UserAgent, "", "")
	if err != nil {
		return "", classified(ClassNetwork, fmt.Errorf("manifest fetch failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classified(classifyStatus(resp.StatusCode), fmt.Errorf("manifest returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", classified(ClassNetwork, fmt.Errorf("manifest read failed: %w", err))
	}

	var manifest mpd
	if err := xml.Unmarshal(body, &manifest); err != nil {
		return "", classified(ClassUnsupported, fmt.Errorf("manifest parse failed: %w", err))
	}

	var best *mpdRepresentation
	var bestPeriod *mpdPeriod
	for pi := range manifest.Periods {
		period := &manifest.Periods[pi]
		for ai := range period.AdaptationSets {
			set := &period.AdaptationSets[ai]
			for ri := range set.Representations {
				rep := &set.Representations[ri]
				if rep.BaseURL == "" {
					continue
				}
				if best == nil || rep.Bandwidth > best.Bandwidth {
					best = rep
					bestPeriod = period
				}
			}
		}
	}
	if best == nil {
		return "", classified(ClassUnsupported, fmt.Errorf("no representation with a resolvable BaseURL"))
	}

	// BaseURL elements nest: manifest location, then MPD-level, then
	// period-level, then the representation's own.
	resolved := manifestURL
	for _, ref := range []string{manifest.BaseURL, bestPeriod.BaseURL, best.BaseURL} {
		if ref == "" {
			continue
		}
		resolved, err = resolveURL(resolved, ref)
		if err != nil {
			return "", classified(ClassMedia, fmt.Errorf("representation URL unresolvable: %w", err))
		}
	}
	return resolved, nil
}

// stream pumps the chosen representation into the surface sink.
func (e *dashEngine) stream(ctx context.Context, streamURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		e.sink(errEvent(classified(ClassMedia, fmt.Errorf("bad representation URL: %w", err))))
		return
	}

	resp, err := e.deps.Client.DoWithHeaders(req, e.deps.UserAgent, "", "")
	if err != nil {
		if ctx.Err() == nil {
			e.sink(errEvent(classified(ClassNetwork, fmt.Errorf("representation fetch failed: %w", err))))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.sink(errEvent(classified(classifyStatus(resp.StatusCode), fmt.Errorf("representation returned HTTP %d", resp.StatusCode))))
		return
	}

	started := false
	lastProgress := time.Now()
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := e.deps.Surface.Write(buf[:n]); werr != nil {
				if ctx.Err() == nil {
					e.sink(errEvent(classified(ClassMedia, werr)))
				}
				return
			}
			if !started {
				started = true
				e.sink(Event{Type: EventPlaying})
			} else if time.Since(lastProgress) >= progressInterval {
				lastProgress = time.Now()
				e.sink(Event{Type: EventProgress})
			}
		}
		if err == io.EOF {
			e.sink(Event{Type: EventEnded})
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				e.sink(errEvent(classified(ClassNetwork, fmt.Errorf("representation read failed: %w", err))))
			}
			return
		}
	}
}
