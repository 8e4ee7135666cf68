package audio

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/deckmix/pkg/deck"
)

func loadClick(t *testing.T, d *deck.Deck, dir, name string, bpm float64, seconds float64) {
	t.Helper()
	path := filepath.Join(dir, name)
	samples := GenerateClickTrack(ClickOptions{BPM: bpm, Seconds: seconds, SampleRate: 48000})
	require.NoError(t, WriteWAVFile(path, samples, 48000))
	require.NoError(t, d.LoadTrack(path))
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.fillDefaults()
	assert.Equal(t, 48000, c.SampleRate)
	assert.Equal(t, 4096, c.BlockSize)
	assert.Equal(t, 120.0, c.LatencyMS)
	assert.Equal(t, 3.0, c.RingCapacitySeconds)
	assert.Equal(t, -14.0, c.AutoNormalizeRMSDBFS)
	assert.Equal(t, 0.95, c.LimiterCeiling)
	assert.Equal(t, 20.0, c.SyncUpdateHz)
	assert.Equal(t, 1.2, c.PLLGains.KP)
	assert.Equal(t, 0.005, c.MaxSyncCorrection)
}

// One second of pulled audio moves the playing deck one second in while
// the idle deck stays parked.
func TestEngineScenarioPlayOneSecond(t *testing.T) {
	e := NewEngine(Config{SampleRate: 48000, BlockSize: 2048, LatencyMS: 120, DisableAnalysis: true})
	t.Cleanup(e.Close)
	e.Clock().Start(120)

	dir := t.TempDir()
	loadClick(t, e.DeckA(), dir, "a.wav", 120, 3)
	loadClick(t, e.DeckB(), dir, "b.wav", 128, 3)

	require.NoError(t, e.DeckA().Play())

	out := make([]float32, 2048*2)
	consumed := 0
	for consumed < 48000 {
		n := 2000
		if rem := 48000 - consumed; n > rem {
			n = rem
		}
		deadline := time.Now().Add(2 * time.Second)
		for e.DeckA().RenderPositionSamples() < uint64(consumed+n+2048) {
			require.True(t, time.Now().Before(deadline), "fill worker starved")
			time.Sleep(time.Millisecond)
		}
		e.Mixer().ReadBlock(out[:n*2], n)
		consumed += n
	}

	pos := e.DeckA().PositionSamples()
	assert.GreaterOrEqual(t, pos, uint64(47000))
	assert.LessOrEqual(t, pos, uint64(49000))
	assert.Equal(t, uint64(0), e.DeckB().PositionSamples())
	assert.Equal(t, uint64(0), e.DeckA().Underruns())
}

func TestEnableSyncRequiresBPM(t *testing.T) {
	e := NewEngine(Config{DisableAnalysis: true})
	t.Cleanup(e.Close)

	err := e.EnableSync(e.DeckA(), e.DeckB())
	assert.Error(t, err, "sync fails closed without bpm")
	assert.Nil(t, e.Sync())
}

func TestEnableDisableSync(t *testing.T) {
	e := NewEngine(Config{DisableAnalysis: true, SyncUpdateHz: 100})
	t.Cleanup(e.Close)
	e.Clock().Start(0)

	dir := t.TempDir()
	loadClick(t, e.DeckA(), dir, "a.wav", 120, 1)
	loadClick(t, e.DeckB(), dir, "b.wav", 120, 1)
	e.DeckA().OnBPMDetected(120, 1, "test", e.DeckA().LoadToken())
	e.DeckB().OnBPMDetected(120, 1, "test", e.DeckB().LoadToken())

	require.NoError(t, e.EnableSync(e.DeckA(), e.DeckB()))
	assert.Error(t, e.EnableSync(e.DeckA(), e.DeckB()), "second session refused")

	ctrl := e.Sync()
	require.NotNil(t, ctrl)
	time.Sleep(50 * time.Millisecond) // a few 10 ms ticks
	assert.True(t, ctrl.Enabled())

	e.DisableSync()
	assert.Nil(t, e.Sync())
	assert.Equal(t, 1.0, e.DeckB().Stretch.Correction(), "correction released")
}

func TestTelemetrySnapshot(t *testing.T) {
	e := NewEngine(Config{DisableAnalysis: true})
	t.Cleanup(e.Close)
	e.Clock().Start(120)

	dir := t.TempDir()
	loadClick(t, e.DeckA(), dir, "a.wav", 120, 1)
	e.DeckA().OnBPMDetected(120, 0.9, "test", e.DeckA().LoadToken())
	e.Mixer().SetCrossfader(-0.25)

	s := e.Telemetry()
	assert.Equal(t, 48000, s.SampleRate)
	assert.Equal(t, 4096, s.BlockSize)
	assert.Equal(t, 120.0, s.LatencyMS)
	assert.Equal(t, -0.25, s.Crossfader)
	assert.Equal(t, "ready", s.DeckA.Status)
	assert.Equal(t, "a.wav", s.DeckA.TrackName)
	assert.Equal(t, 120.0, s.DeckA.DetectedBPM)
	assert.Equal(t, 1.0, s.DeckA.EffectiveRatio)
	assert.Equal(t, "empty", s.DeckB.Status)
	assert.False(t, s.SyncEnabled)
	assert.True(t, s.Clock.Running)
}

func TestStopLeavesDeckStateIntact(t *testing.T) {
	e := NewEngine(Config{DisableAnalysis: true})
	t.Cleanup(e.Close)
	e.Clock().Start(0)

	dir := t.TempDir()
	loadClick(t, e.DeckA(), dir, "a.wav", 120, 1)

	e.Stop()
	assert.False(t, e.Clock().Running())
	assert.NotNil(t, e.DeckA().Track(), "device loss keeps engine state")
	assert.Equal(t, deck.StatusReady, e.DeckA().Status())
}
