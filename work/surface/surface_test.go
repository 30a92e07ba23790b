package surface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachIsExclusive(t *testing.T) {
	s := New("surface_attach", 1<<10)

	require.NoError(t, s.Attach())
	assert.Error(t, s.Attach(), "second attach must be refused while the first engine holds the surface")

	s.Detach()
	assert.NoError(t, s.Attach())
}

func TestWriteRequiresAttachedEngine(t *testing.T) {
	s := New("surface_write", 1<<10)

	_, err := s.Write([]byte("media"))
	assert.Error(t, err)

	require.NoError(t, s.Attach())
	n, err := s.Write([]byte("media"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), s.Sink().WritePosition())

	s.Detach()
	_, err = s.Write([]byte("late"))
	assert.Error(t, err)
}

func TestDetachClearsSinkAndStopsPlayback(t *testing.T) {
	s := New("surface_detach", 1<<10)
	require.NoError(t, s.Attach())

	_, err := s.Write([]byte("media"))
	require.NoError(t, err)
	s.Play()
	require.True(t, s.Playing())

	s.Detach()
	assert.False(t, s.Playing())
	assert.Equal(t, int64(0), s.Sink().WritePosition())
}

func TestVolumeClampedToUnitRange(t *testing.T) {
	s := New("surface_volume", 1<<10)

	assert.Equal(t, 1.0, s.Volume())

	s.SetVolume(0.5)
	assert.Equal(t, 0.5, s.Volume())

	s.SetVolume(-3)
	assert.Equal(t, 0.0, s.Volume())

	s.SetVolume(42)
	assert.Equal(t, 1.0, s.Volume())
}

func TestMuteAndPlayStateAreIndependent(t *testing.T) {
	s := New("surface_mute", 1<<10)

	assert.False(t, s.Muted())
	s.SetMuted(true)
	assert.True(t, s.Muted())

	s.Play()
	assert.True(t, s.Playing())
	assert.True(t, s.Muted(), "playback transitions never touch the mute flag")

	s.Pause()
	assert.False(t, s.Playing())
	s.SetMuted(false)
	assert.False(t, s.Muted())
}
