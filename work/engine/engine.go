package engine

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"iptv-session/work/config"
	"iptv-session/work/surface"

	"iptv-session/work/client"
)

// Kind identifies the playback technology a session drives. The kind is
// chosen once per playback request and never re-evaluated mid-session.
type Kind int

const (
	KindNative   Kind = iota // Progressive download of a native container (mp4, webm, ogg)
	KindHLS                  // Adaptive HLS: manifest plus segment loading
	KindDASH                 // Adaptive DASH: MPD manifest driven loading
	KindFallback             // Generic last-resort progressive reader
)

// String returns the lowercase engine name used in logs and API payloads.
func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindHLS:
		return "hls"
	case KindDASH:
		return "dash"
	default:
		return "fallback"
	}
}

// ErrorClass is the controller-facing classification of engine failures.
// Each engine adapter maps its own failure modes into these three classes;
// the controller decides recovery purely from the class.
type ErrorClass int

const (
	ClassNetwork     ErrorClass = iota // Fetch failure, timeout, reset: recoverable via reconnect
	ClassMedia                         // Corrupt or incompatible stream data: one self-heal, then fall back
	ClassUnsupported                   // Engine declines the source entirely: immediate fallback
)

// String returns the lowercase class name used in logs and metrics labels.
func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassMedia:
		return "media"
	default:
		return "unsupported"
	}
}

// EventType enumerates the signals an engine emits toward the controller.
type EventType int

const (
	EventReady    EventType = iota // Manifest parsed / headers accepted: playback can begin
	EventPlaying                   // Media bytes are flowing to the surface
	EventWaiting                   // Engine is buffering: arms the stall watchdog
	EventProgress                  // Data progressed: disarms the stall watchdog
	EventEnded                     // Source finished cleanly
	EventError                     // Classified failure, see Class and Err
)

// Event is one engine signal. Err and Class are meaningful only for
// EventError.
type Event struct {
	Type  EventType
	Class ErrorClass
	Err   error
}

// Sink receives engine events. The controller wraps the sink with a
// session-identity guard, so engines may keep emitting after Destroy without
// corrupting a newer session.
type Sink func(Event)

// Engine is one playback adapter bound to a surface for a single session.
// Load begins asynchronous loading; Recover is the engine's self-heal hook
// (restart network loading without a full session teardown); Destroy
// releases all engine resources and stops event emission best-effort.
type Engine interface {
	Kind() Kind
	Load(mediaURL string) error
	Recover()
	Destroy()
}

// Deps carries the collaborators every engine adapter needs.
type Deps struct {
	Surface   *surface.VideoSurface
	Client    *client.HeaderSettingClient
	Config    *config.Config
	UserAgent string // outbound User-Agent; empty means the client default
}

// Factory builds an engine of the requested kind. Injected into the session
// controller so tests can substitute scripted fakes.
type Factory func(kind Kind, deps Deps, sink Sink) Engine

// DefaultFactory returns the production factory covering all four kinds.
func DefaultFactory() Factory {
	return func(kind Kind, deps Deps, sink Sink) Engine {
		switch kind {
		case KindHLS:
			return newHLSEngine(deps, sink)
		case KindDASH:
			return newDASHEngine(deps, sink)
		case KindNative:
			return newNativeEngine(deps, sink)
		default:
			return newFallbackEngine(deps, sink)
		}
	}
}

// Support declares which engine kinds the runtime environment can drive.
// A disabled kind makes Select fall through to the next rule.
type Support struct {
	HLS    bool
	DASH   bool
	Native bool
}

// FullSupport reports every engine kind as available.
func FullSupport() Support {
	return Support{HLS: true, DASH: true, Native: true}
}

// nativeExtensions are containers the native engine plays directly.
var nativeExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".ogg":  true,
}

// Select decides which engine kind should attempt playback of mediaURL.
// The decision is a pure function of the URL path extension (case
// insensitive, query string ignored) and the support flags; first match
// wins, any failed support check falls through, anything unmatched lands on
// the generic fallback.
func Select(mediaURL string, sup Support) Kind {
	ext := urlExtension(mediaURL)

	if ext == ".m3u8" && sup.HLS {
		return KindHLS
	}
	if ext == ".mpd" && sup.DASH {
		return KindDASH
	}
	if nativeExtensions[ext] && sup.Native {
		return KindNative
	}
	return KindFallback
}

// urlExtension extracts the lowercased path extension, tolerating query
// strings, fragments, and bare path inputs.
func urlExtension(mediaURL string) string {
	u, err := url.Parse(mediaURL)
	if err != nil {
		// Fall back to treating the whole string as a path.
		return strings.ToLower(path.Ext(stripQuery(mediaURL)))
	}
	return strings.ToLower(path.Ext(u.Path))
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

// classifyStatus maps an HTTP response status to an error class. 415 is the
// server explicitly declining the format; everything else non-2xx is treated
// as a network-class failure eligible for reconnect.
func classifyStatus(code int) ErrorClass {
	if code == http.StatusUnsupportedMediaType {
		return ClassUnsupported
	}
	return ClassNetwork
}
