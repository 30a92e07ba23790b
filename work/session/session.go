package session

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"iptv-session/work/config"
	"iptv-session/work/engine"
	"iptv-session/work/logger"
	"iptv-session/work/metrics"
	"iptv-session/work/surface"
	"iptv-session/work/utils"
)

// Status is the externally visible lifecycle state of a playback session.
type Status int

const (
	StatusInitializing Status = iota // Engine attaching and loading the source
	StatusPlaying                    // Media bytes are progressing
	StatusPaused                     // User-initiated pause
	StatusStalled                    // Watchdog fired: no progress within the stall window
	StatusReconnecting               // Backoff timer pending after a network failure
	StatusFatalError                 // Terminal: retries exhausted or no further fallback
	StatusClosed                     // Terminal: explicit teardown
)

// String returns the lowercase status name used in logs, metrics labels,
// and API payloads.
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStalled:
		return "stalled"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFatalError:
		return "fatal_error"
	default:
		return "closed"
	}
}

// Terminal reports whether the status accepts no further engine callbacks.
func (s Status) Terminal() bool {
	return s == StatusFatalError || s == StatusClosed
}

// PlaybackRequest describes one playback attempt. Requests are immutable:
// a new selection supersedes the old request, it never mutates it.
type PlaybackRequest struct {
	MediaURL       string `json:"mediaUrl"`
	DisplayName    string `json:"displayName"`
	DisplayLogoURL string `json:"displayLogoUrl,omitempty"`
}

// Snapshot is the state the UI needs to render: status, engine choice,
// retry progress, and the last error when one exists.
type Snapshot struct {
	Status     Status      `json:"-"`
	StatusName string      `json:"status"`
	Engine     engine.Kind `json:"-"`
	EngineName string      `json:"engine"`
	RetryCount int         `json:"retryCount"`
	LastError  string      `json:"lastError,omitempty"`
	Muted      bool        `json:"muted"`
	Volume     float64     `json:"volume"`
}

// UpdateFunc receives a snapshot on every state transition. It is invoked
// with no controller locks held.
type UpdateFunc func(Snapshot)

// playbackSession is the mutable per-request state. It lives behind the
// controller mutex; the id is the stale-callback guard: events carrying any
// other id are discarded without touching state.
type playbackSession struct {
	id   uint64
	req  PlaybackRequest
	kind engine.Kind
	eng  engine.Engine

	status       Status
	retryCount   int
	stallStrikes int
	mediaHealed  bool
	lastError    error

	retryTimer    *time.Timer
	stallTimer    *time.Timer
	stallArmedPos int64
}

// Controller owns exactly one live playback session bound to one video
// surface. All engine callbacks funnel through handleEvent under the
// controller mutex, so status is only ever written from one place.
type Controller struct {
	cfg     *config.Config
	surf    *surface.VideoSurface
	factory engine.Factory
	deps    engine.Deps
	support engine.Support
	notify  UpdateFunc

	mu   sync.Mutex
	sess *playbackSession
	seq  uint64
}

// NewController binds a controller to a surface. The factory is injectable
// so tests can script engine behavior; production callers pass
// engine.DefaultFactory().
func NewController(cfg *config.Config, surf *surface.VideoSurface, deps engine.Deps, factory engine.Factory, support engine.Support, notify UpdateFunc) *Controller {
	if notify == nil {
		notify = func(Snapshot) {}
	}
	deps.Surface = surf
	deps.Config = cfg
	return &Controller{
		cfg:     cfg,
		surf:    surf,
		factory: factory,
		deps:    deps,
		support: support,
		notify:  notify,
	}
}

// Play starts playback for a new request, tearing down any live session
// first. The old engine is fully destroyed before the new engine loads, so
// the surface never has two writers. An empty or malformed media URL is
// rejected before any engine is touched.
func (c *Controller) Play(req PlaybackRequest) error {
	if req.MediaURL == "" {
		return fmt.Errorf("playback request has empty media URL")
	}
	if _, err := url.ParseRequestURI(req.MediaURL); err != nil {
		return fmt.Errorf("playback request has malformed media URL: %w", err)
	}

	c.mu.Lock()

	c.teardownLocked()
	c.surf.Sink().Reset()

	c.seq++
	id := c.seq
	kind := engine.Select(req.MediaURL, c.support)

	sess := &playbackSession{
		id:     id,
		req:    req,
		kind:   kind,
		status: StatusInitializing,
	}
	sess.eng = c.factory(kind, c.deps, func(ev engine.Event) {
		c.handleEvent(id, ev)
	})
	c.sess = sess

	logger.Info("[SESSION] %s: starting %q via %s engine (%s)",
		c.surf.ID(), req.DisplayName, kind, utils.LogURL(c.cfg, req.MediaURL))
	metrics.SessionsActive.WithLabelValues(c.surf.ID()).Set(1)
	metrics.SessionTransitions.WithLabelValues(c.surf.ID(), sess.status.String()).Inc()

	if err := sess.eng.Load(req.MediaURL); err != nil {
		sess.status = StatusFatalError
		sess.lastError = err
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return err
	}

	c.surf.Play()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// Retry re-issues the live session's request, resetting the retry budget.
// It is the manual affordance behind the UI's retry action.
func (c *Controller) Retry() error {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return fmt.Errorf("no session to retry")
	}
	req := c.sess.req
	c.mu.Unlock()
	return c.Play(req)
}

// Close tears the live session down. Late engine callbacks after Close are
// discarded by the session-identity guard.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	metrics.SessionsActive.WithLabelValues(c.surf.ID()).Set(0)
	metrics.SessionTransitions.WithLabelValues(c.surf.ID(), StatusClosed.String()).Inc()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// TogglePlay flips between Playing and Paused. It is a no-op in any other
// state.
func (c *Controller) TogglePlay() {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return
	}
	var snap Snapshot
	switch sess.status {
	case StatusPlaying:
		c.surf.Pause()
		c.setStatusLocked(sess, StatusPaused)
		snap = c.snapshotLocked()
	case StatusPaused:
		c.surf.Play()
		c.setStatusLocked(sess, StatusPlaying)
		snap = c.snapshotLocked()
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.notify(snap)
}

// SetVolume applies volume directly to the surface. Volume is a live
// property, not a lifecycle transition: it never changes status and never
// reloads the engine.
func (c *Controller) SetVolume(v float64) {
	c.surf.SetVolume(v)
}

// SetMuted applies mute directly to the surface, same contract as
// SetVolume.
func (c *Controller) SetMuted(m bool) {
	c.surf.SetMuted(m)
}

// Snapshot returns the current session state for status endpoints.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Surface exposes the bound video surface for data delivery endpoints.
func (c *Controller) Surface() *surface.VideoSurface {
	return c.surf
}

// handleEvent is the single entry point for engine callbacks. Events whose
// id does not match the live session are stale and silently discarded, as
// are events arriving after a terminal status.
func (c *Controller) handleEvent(id uint64, ev engine.Event) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || sess.id != id || sess.status.Terminal() {
		c.mu.Unlock()
		logger.Debug("[SESSION] %s: discarding stale event %d for session %d", c.surf.ID(), ev.Type, id)
		return
	}

	notify := false
	switch ev.Type {
	case engine.EventReady:
		// Manifest accepted; stay in Initializing until data flows.
		c.disarmStallLocked(sess)

	case engine.EventPlaying:
		c.disarmStallLocked(sess)
		sess.mediaHealed = false
		if sess.status != StatusPlaying {
			c.setStatusLocked(sess, StatusPlaying)
			notify = true
		}

	case engine.EventProgress:
		c.disarmStallLocked(sess)
		if sess.status == StatusStalled || sess.status == StatusInitializing {
			c.setStatusLocked(sess, StatusPlaying)
			notify = true
		}

	case engine.EventWaiting:
		c.armStallLocked(sess)

	case engine.EventEnded:
		logger.Info("[SESSION] %s: source ended", c.surf.ID())
		c.teardownLocked()
		metrics.SessionsActive.WithLabelValues(c.surf.ID()).Set(0)
		metrics.SessionTransitions.WithLabelValues(c.surf.ID(), StatusClosed.String()).Inc()
		notify = true

	case engine.EventError:
		notify = c.handleErrorLocked(sess, ev)
	}

	var snap Snapshot
	if notify {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()
	if notify {
		c.notify(snap)
	}
}

// handleErrorLocked routes a classified failure. Network errors reconnect
// with backoff; media errors get one engine self-heal then fall back;
// unsupported means the engine declined the source and falls back
// immediately. Reports whether the UI should be notified.
func (c *Controller) handleErrorLocked(sess *playbackSession, ev engine.Event) bool {
	sess.lastError = ev.Err
	metrics.SessionErrors.WithLabelValues(c.surf.ID(), ev.Class.String()).Inc()
	logger.Warn("[SESSION] %s: %s error from %s engine: %v", c.surf.ID(), ev.Class, sess.kind, ev.Err)

	switch ev.Class {
	case engine.ClassNetwork:
		return c.enterReconnectLocked(sess)

	case engine.ClassMedia:
		if !sess.mediaHealed {
			sess.mediaHealed = true
			logger.Info("[SESSION] %s: media error, asking %s engine to self-heal", c.surf.ID(), sess.kind)
			sess.eng.Recover()
			return false
		}
		return c.fallbackLocked(sess, ev.Err)

	default: // engine.ClassUnsupported
		return c.fallbackLocked(sess, ev.Err)
	}
}

// enterReconnectLocked schedules a retry after backoff, or gives up when
// the retry budget is spent.
func (c *Controller) enterReconnectLocked(sess *playbackSession) bool {
	sess.retryCount++
	if sess.retryCount > c.cfg.MaxRetries {
		logger.Error("[SESSION] %s: retries exhausted (%d), giving up: %v", c.surf.ID(), c.cfg.MaxRetries, sess.lastError)
		c.fatalLocked(sess)
		return true
	}

	delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, sess.retryCount)
	c.setStatusLocked(sess, StatusReconnecting)
	metrics.ReconnectAttempts.WithLabelValues(c.surf.ID()).Inc()
	logger.Info("[SESSION] %s: reconnect attempt %d/%d in %s", c.surf.ID(), sess.retryCount, c.cfg.MaxRetries, delay)

	id := sess.id
	sess.retryTimer = time.AfterFunc(delay, func() {
		c.retryFire(id)
	})
	return true
}

// retryFire runs when the backoff timer elapses: reload the same engine
// with the same URL, unless the session has moved on.
func (c *Controller) retryFire(id uint64) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || sess.id != id || sess.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	sess.retryTimer = nil
	c.setStatusLocked(sess, StatusInitializing)

	if err := sess.eng.Load(sess.req.MediaURL); err != nil {
		sess.lastError = err
		c.fatalLocked(sess)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// fallbackLocked swaps the session to the generic engine. A failure on the
// fallback engine itself is terminal: there is nowhere left to go.
func (c *Controller) fallbackLocked(sess *playbackSession, cause error) bool {
	if sess.kind == engine.KindFallback {
		logger.Error("[SESSION] %s: fallback engine failed, no further fallback: %v", c.surf.ID(), cause)
		c.fatalLocked(sess)
		return true
	}

	logger.Info("[SESSION] %s: falling back from %s to generic engine", c.surf.ID(), sess.kind)
	c.disarmStallLocked(sess)
	sess.eng.Destroy()
	c.surf.Sink().Reset()

	// New generation id: an event racing out of the destroyed engine after
	// its Destroy returned must not be attributed to the fallback engine.
	c.seq++
	sess.id = c.seq
	id := sess.id

	sess.kind = engine.KindFallback
	sess.mediaHealed = false
	sess.eng = c.factory(engine.KindFallback, c.deps, func(ev engine.Event) {
		c.handleEvent(id, ev)
	})
	c.setStatusLocked(sess, StatusInitializing)

	if err := sess.eng.Load(sess.req.MediaURL); err != nil {
		sess.lastError = err
		c.fatalLocked(sess)
	}
	return true
}

// fatalLocked ends the session without closing it: the request sticks
// around so Retry can re-issue it.
func (c *Controller) fatalLocked(sess *playbackSession) {
	c.stopTimersLocked(sess)
	if sess.eng != nil {
		sess.eng.Destroy()
	}
	sess.status = StatusFatalError
	metrics.SessionTransitions.WithLabelValues(c.surf.ID(), StatusFatalError.String()).Inc()
	metrics.SessionsActive.WithLabelValues(c.surf.ID()).Set(0)
}

// armStallLocked starts the stall watchdog for the live session. Re-arming
// on every waiting signal keeps the window measured from the most recent
// buffering report.
func (c *Controller) armStallLocked(sess *playbackSession) {
	if sess.stallTimer != nil {
		sess.stallTimer.Stop()
	}
	sess.stallArmedPos = c.surf.Sink().WritePosition()
	id := sess.id
	sess.stallTimer = time.AfterFunc(c.cfg.StallWindow, func() {
		c.stallFire(id)
	})
}

func (c *Controller) disarmStallLocked(sess *playbackSession) {
	if sess.stallTimer != nil {
		sess.stallTimer.Stop()
		sess.stallTimer = nil
	}
}

// stallFire runs when no progress arrived within the stall window. The
// first few stalls get a soft recovery that does not touch the retry
// budget; recurring stalls are promoted to a network failure.
func (c *Controller) stallFire(id uint64) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || sess.id != id || sess.status.Terminal() {
		c.mu.Unlock()
		return
	}
	sess.stallTimer = nil

	// Second opinion from the decoder sink: if bytes kept arriving while
	// the engine stayed quiet about it, playback is not actually stalled.
	if c.surf.Sink().WritePosition() > sess.stallArmedPos {
		logger.Debug("[SESSION] %s: watchdog fired but sink progressed, re-arming", c.surf.ID())
		c.armStallLocked(sess)
		c.mu.Unlock()
		return
	}
	sess.stallStrikes++

	var snap Snapshot
	if sess.stallStrikes > c.cfg.StallPromoteAfter {
		logger.Warn("[SESSION] %s: stall recurred %d times, promoting to network failure", c.surf.ID(), sess.stallStrikes)
		sess.lastError = fmt.Errorf("playback stalled %d times", sess.stallStrikes)
		metrics.SessionErrors.WithLabelValues(c.surf.ID(), engine.ClassNetwork.String()).Inc()
		c.setStatusLocked(sess, StatusStalled)
		c.enterReconnectLocked(sess)
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	logger.Info("[SESSION] %s: stalled (strike %d), attempting soft recovery", c.surf.ID(), sess.stallStrikes)
	c.setStatusLocked(sess, StatusStalled)
	metrics.StallRecoveries.WithLabelValues(c.surf.ID()).Inc()
	sess.eng.Recover()
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// teardownLocked releases the live session's resources: timers cleared,
// engine destroyed. It is the single teardown path for every exit route.
func (c *Controller) teardownLocked() {
	sess := c.sess
	if sess == nil {
		return
	}
	c.stopTimersLocked(sess)
	if sess.eng != nil {
		sess.eng.Destroy()
		sess.eng = nil
	}
	// Mark terminal so in-flight callbacks holding the old id bail out.
	if !sess.status.Terminal() {
		sess.status = StatusClosed
	}
	c.sess = nil
}

func (c *Controller) stopTimersLocked(sess *playbackSession) {
	if sess.retryTimer != nil {
		sess.retryTimer.Stop()
		sess.retryTimer = nil
	}
	if sess.stallTimer != nil {
		sess.stallTimer.Stop()
		sess.stallTimer = nil
	}
}

func (c *Controller) setStatusLocked(sess *playbackSession, s Status) {
	if sess.status == s {
		return
	}
	sess.status = s
	metrics.SessionTransitions.WithLabelValues(c.surf.ID(), s.String()).Inc()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status: StatusClosed,
		Muted:  c.surf.Muted(),
		Volume: c.surf.Volume(),
	}
	if c.sess != nil {
		snap.Status = c.sess.status
		snap.Engine = c.sess.kind
		snap.RetryCount = c.sess.retryCount
		if c.sess.lastError != nil {
			snap.LastError = c.sess.lastError.Error()
		}
	}
	snap.StatusName = snap.Status.String()
	snap.EngineName = snap.Engine.String()
	return snap
}

// backoffDelay computes the reconnect delay for the given attempt number,
// growing linearly from base and capped at max. Attempt numbers start at 1.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if d > max {
		return max
	}
	return d
}
