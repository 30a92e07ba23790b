package surface

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"iptv-session/work/buffer"
)

// VideoSurface is the presentation target one playback session renders into.
// It owns a ring buffer as its decoder sink and projects play/pause, volume,
// and mute state. Exactly one engine may be attached at a time; the session
// controller is the sole writer to the playback-related properties.
type VideoSurface struct {
	id   string
	sink *buffer.RingBuffer

	mu       sync.Mutex
	attached bool

	playing atomic.Bool
	muted   atomic.Bool
	volBits atomic.Uint64 // float64 bits, range [0,1]
}

// New creates a surface with a decoder sink of the given size in bytes.
func New(id string, sinkSize int64) *VideoSurface {
	s := &VideoSurface{
		id:   id,
		sink: buffer.NewRingBuffer(sinkSize),
	}
	s.volBits.Store(math.Float64bits(1.0))
	return s
}

// ID returns the surface identifier.
func (s *VideoSurface) ID() string { return s.id }

// Attach claims exclusive ownership of the surface for one engine.
// Returns an error if another engine is still attached; the caller must
// detach the previous engine first so two decoders never share the sink.
func (s *VideoSurface) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return fmt.Errorf("surface %s: already attached", s.id)
	}
	s.attached = true
	return nil
}

// Detach releases the surface and clears the decoder sink so no stale media
// bytes survive into the next session.
func (s *VideoSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	s.playing.Store(false)
	s.sink.Reset()
}

// Write delivers media bytes from the attached engine into the decoder sink.
// Writes from a detached engine are dropped.
func (s *VideoSurface) Write(p []byte) (int, error) {
	s.mu.Lock()
	attached := s.attached
	s.mu.Unlock()
	if !attached {
		return 0, fmt.Errorf("surface %s: write while detached", s.id)
	}
	s.sink.Write(p)
	return len(p), nil
}

// Sink exposes the decoder sink for readers (viewers, watchdog sampling).
func (s *VideoSurface) Sink() *buffer.RingBuffer { return s.sink }

// Play marks the surface as actively presenting.
func (s *VideoSurface) Play() { s.playing.Store(true) }

// Pause marks the surface as paused.
func (s *VideoSurface) Pause() { s.playing.Store(false) }

// Playing reports whether the surface is presenting.
func (s *VideoSurface) Playing() bool { return s.playing.Load() }

// SetVolume clamps v into [0,1] and applies it. Volume changes are
// independent of the session lifecycle and never touch the sink.
func (s *VideoSurface) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.volBits.Store(math.Float64bits(v))
}

// Volume returns the current volume in [0,1].
func (s *VideoSurface) Volume() float64 {
	return math.Float64frombits(s.volBits.Load())
}

// SetMuted applies the mute flag.
func (s *VideoSurface) SetMuted(m bool) { s.muted.Store(m) }

// Muted reports the mute flag.
func (s *VideoSurface) Muted() bool { return s.muted.Load() }
