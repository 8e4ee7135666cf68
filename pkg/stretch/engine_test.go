package stretch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineBlock(frames int, freq float64, sr int, phase0 float64) ([]float32, float64) {
	out := make([]float32, frames*2)
	ph := phase0
	inc := 2 * math.Pi * freq / float64(sr)
	for i := 0; i < frames; i++ {
		s := float32(math.Sin(ph))
		out[i*2] = s
		out[i*2+1] = s
		ph += inc
	}
	return out, ph
}

func TestUnityRatioPassthrough(t *testing.T) {
	e := NewEngine(48000)
	in, _ := sineBlock(256, 440, 48000, 0)
	out := e.Process(in)
	assert.Equal(t, in, out)
}

func TestResampleOutputLength(t *testing.T) {
	e := NewEngine(48000)
	for _, ratio := range []float64{0.5, 0.9375, 1.25, 2.0} {
		e.Reset()
		e.SetTempo(ratio)
		in, _ := sineBlock(1024, 440, 48000, 0)
		out := e.Process(in)
		assert.Equal(t, int(1024.0/ratio), len(out)/2, "ratio %v", ratio)
	}
}

func TestResamplePhaseContinuityAcrossBlocks(t *testing.T) {
	e := NewEngine(48000)
	e.SetTempo(1.25)

	// Feed a rising ramp in two adjacent blocks. The resampled output must
	// stay monotonic with bounded steps across the block junction; a reset
	// of the fractional phase would show up as a backward jump.
	const slope = 0.001
	ramp := func(from, frames int) []float32 {
		out := make([]float32, frames*2)
		for i := 0; i < frames; i++ {
			v := float32(float64(from+i) * slope)
			out[i*2] = v
			out[i*2+1] = v
		}
		return out
	}
	o1 := e.Process(ramp(0, 512))
	o2 := e.Process(ramp(512, 512))
	require.NotEmpty(t, o1)
	require.NotEmpty(t, o2)

	joined := append(append([]float32(nil), o1...), o2...)
	maxStep := float32(4 * 1.25 * slope)
	for i := 2; i < len(joined); i += 2 {
		step := joined[i] - joined[i-2]
		require.GreaterOrEqual(t, step, float32(0), "output must stay monotonic at sample %d", i/2)
		require.Less(t, step, maxStep, "bounded step at sample %d", i/2)
	}
}

func TestVocoderOutputLengthDeterministic(t *testing.T) {
	e := NewEngine(48000)
	e.SetKeyLock(true)
	require.True(t, e.KeyLockEnabled())
	e.SetTempo(1.25)

	total := 0
	fed := 0
	for i := 0; i < 8; i++ {
		in, _ := sineBlock(1024, 440, 48000, 0)
		out := e.Process(in)
		fed += 1024
		total += len(out) / 2
	}
	// Output is proportional to input/ratio, within one frame of slack.
	want := float64(fed) / 1.25
	assert.InDelta(t, want, float64(total), 2)
}

func TestVocoderProducesSignalAfterWarmup(t *testing.T) {
	e := NewEngine(48000)
	e.SetKeyLock(true)
	e.SetTempo(1.1)

	var peak float32
	ph := 0.0
	var in []float32
	for i := 0; i < 16; i++ {
		in, ph = sineBlock(1024, 440, 48000, ph)
		out := e.Process(in)
		for _, s := range out {
			if a := float32(math.Abs(float64(s))); a > peak {
				peak = a
			}
		}
	}
	assert.Greater(t, peak, float32(0.2), "stretched sine should keep energy")
}

func TestKeyLockFallbackWithoutHighQuality(t *testing.T) {
	e := NewEngine(48000, WithoutHighQuality())
	assert.False(t, e.HighQualityAvailable())

	e.SetKeyLock(true)
	assert.False(t, e.KeyLockEnabled(), "silent fallback keeps key lock off")

	e.SetTempo(2.0)
	in, _ := sineBlock(512, 440, 48000, 0)
	out := e.Process(in)
	assert.Equal(t, 256, len(out)/2, "falls back to the resample path")
}

func TestTempoClampAndCorrection(t *testing.T) {
	e := NewEngine(48000)
	e.SetTempo(100)
	assert.Equal(t, maxRatio, e.Tempo())
	e.SetTempo(0.0001)
	assert.Equal(t, minRatio, e.Tempo())

	e.SetTempo(1.0)
	e.SetCorrection(1.002)
	assert.InDelta(t, 1.002, e.EffectiveTempo(), 1e-12)
	e.SetCorrection(0) // invalid resets to unity
	assert.Equal(t, 1.0, e.Correction())
}

func TestSourceFramesNeeded(t *testing.T) {
	e := NewEngine(48000)
	e.SetTempo(1.0)
	blockSize := 1024
	assert.GreaterOrEqual(t, e.SourceFramesNeeded(1024), int(float64(blockSize)*1.1))
}

func TestResetClearsState(t *testing.T) {
	e := NewEngine(48000)
	e.SetTempo(1.25)
	in, _ := sineBlock(1024, 440, 48000, 0)
	e.Process(in)
	e.Reset()

	// After a reset the first output frame starts at phase zero again.
	out1 := e.Process(in)
	e.Reset()
	out2 := e.Process(in)
	assert.Equal(t, out1, out2)
}
