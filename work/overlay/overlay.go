package overlay

import (
	"sync"
	"time"
)

// VisibilityFunc is called with the new visibility whenever it changes.
// Invoked with no timer locks held.
type VisibilityFunc func(visible bool)

// InactivityTimer auto-hides playback controls for one surface. Pointer
// activity shows the controls and pushes the hide deadline out by the
// quiescence window; pointer leave hides them immediately. The timer is
// purely presentational and carries no playback semantics.
type InactivityTimer struct {
	quiescence time.Duration
	onChange   VisibilityFunc

	mu       sync.Mutex
	visible  bool
	deadline time.Time
	hide     *time.Timer
}

// NewInactivityTimer builds a timer with the given quiescence window. The
// controls start hidden; the first activity signal shows them.
func NewInactivityTimer(quiescence time.Duration, onChange VisibilityFunc) *InactivityTimer {
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &InactivityTimer{
		quiescence: quiescence,
		onChange:   onChange,
	}
}

// OnActivity records pointer movement: controls become visible and the
// hide deadline resets to now plus the quiescence window.
func (t *InactivityTimer) OnActivity() {
	t.mu.Lock()
	t.deadline = time.Now().Add(t.quiescence)

	if t.hide != nil {
		t.hide.Stop()
	}
	t.hide = time.AfterFunc(t.quiescence, t.deadlineElapsed)

	changed := !t.visible
	t.visible = true
	t.mu.Unlock()

	if changed {
		t.onChange(true)
	}
}

// OnLeave records the pointer leaving the surface area: controls hide
// immediately regardless of the pending deadline.
func (t *InactivityTimer) OnLeave() {
	t.mu.Lock()
	if t.hide != nil {
		t.hide.Stop()
		t.hide = nil
	}
	changed := t.visible
	t.visible = false
	t.mu.Unlock()

	if changed {
		t.onChange(false)
	}
}

// Visible reports the current controls visibility.
func (t *InactivityTimer) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Stop cancels the pending hide. Visibility is left as-is; callers
// stopping a timer are tearing the surface down anyway.
func (t *InactivityTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hide != nil {
		t.hide.Stop()
		t.hide = nil
	}
}

// deadlineElapsed fires when the quiescence window passes with no
// activity. A reset that raced the timer moves the deadline forward, in
// which case the stale fire is ignored.
func (t *InactivityTimer) deadlineElapsed() {
	t.mu.Lock()
	if time.Now().Before(t.deadline) || !t.visible {
		t.mu.Unlock()
		return
	}
	t.hide = nil
	t.visible = false
	t.mu.Unlock()

	t.onChange(false)
}
