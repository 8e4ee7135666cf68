package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterClockCountsOnlyWhileRunning(t *testing.T) {
	c := NewMasterClock(48000)

	c.OnAudioCallback(1024)
	assert.Equal(t, uint64(0), c.TotalAudioSamples(), "stopped clock must not count")

	c.Start(120)
	c.OnAudioCallback(1024)
	c.OnAudioCallback(1024)
	assert.Equal(t, uint64(2048), c.TotalAudioSamples())

	c.Stop()
	c.OnAudioCallback(1024)
	assert.Equal(t, uint64(2048), c.TotalAudioSamples())
}

func TestMasterClockLatencyCompensation(t *testing.T) {
	c := NewMasterClock(48000)
	c.Start(120) // 120ms => 5760 samples

	// Less produced than the latency estimate: listener has heard nothing.
	c.OnAudioCallback(4096)
	assert.Equal(t, 0.0, c.AudioTimeSeconds())

	// One second produced: audible time is one second minus latency.
	for c.TotalAudioSamples() < 48000 {
		c.OnAudioCallback(4096)
	}
	got := c.AudioTimeSeconds()
	want := (49152.0 - 5760.0) / 48000.0
	assert.InDelta(t, want, got, 1e-9)
}

func TestMasterClockState(t *testing.T) {
	c := NewMasterClock(44100)
	c.Start(0)
	c.OnAudioCallback(44100)

	st := c.State()
	assert.True(t, st.Running)
	assert.Equal(t, 44100, st.SampleRate)
	assert.Equal(t, uint64(44100), st.AudioSamplesTotal)
	assert.InDelta(t, 1.0, st.AudioTimeSeconds(), 1e-9)
	assert.Greater(t, st.MonotonicTime, 0.0)
}

func TestMasterClockConversions(t *testing.T) {
	c := NewMasterClock(48000)
	assert.Equal(t, uint64(96000), c.SecondsToSamples(2.0))
	assert.InDelta(t, 2.0, c.SamplesToSeconds(96000), 1e-12)
	assert.Equal(t, uint64(0), c.SecondsToSamples(-1))
}

func TestAudioClockFollowsMaster(t *testing.T) {
	m := NewMasterClock(48000)
	m.Start(0)
	a := NewAudioClock(m)

	require.True(t, a.Paused())
	assert.Equal(t, uint64(0), a.PositionSamples())

	a.PlayFromSamples(1000)
	m.OnAudioCallback(4800)
	assert.Equal(t, uint64(5800), a.PositionSamples())
	assert.InDelta(t, 5800.0/48000.0, a.NowSeconds(), 1e-12)

	a.Pause()
	m.OnAudioCallback(4800) // master keeps going, deck does not
	assert.Equal(t, uint64(5800), a.PositionSamples())
}

func TestAudioClockRate(t *testing.T) {
	m := NewMasterClock(48000)
	m.Start(0)
	a := NewAudioClock(m)

	a.PlayFromSamples(0)
	a.SetRate(0.5)
	m.OnAudioCallback(48000)
	// Half-speed playback consumes half the source per output frame.
	assert.Equal(t, uint64(24000), a.PositionSamples())

	// Rate change re-anchors: prior progress is preserved.
	a.SetRate(2.0)
	m.OnAudioCallback(1000)
	assert.Equal(t, uint64(26000), a.PositionSamples())
}

func TestAudioClockResetAfterSeek(t *testing.T) {
	m := NewMasterClock(48000)
	m.Start(0)
	a := NewAudioClock(m)

	a.PlayFromSamples(0)
	m.OnAudioCallback(2048)
	a.PlayFromSamples(96000) // seek re-anchors
	m.OnAudioCallback(1024)
	assert.Equal(t, uint64(97024), a.PositionSamples())

	a.Reset()
	assert.True(t, a.Paused())
	assert.Equal(t, uint64(0), a.PositionSamples())
}
