package analysis

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clickTrack synthesizes mono audio with short bursts on every beat.
func clickTrack(bpm float64, seconds, sampleRate int) []float32 {
	out := make([]float32, seconds*sampleRate)
	beatSamples := int(60.0 / bpm * float64(sampleRate))
	clickLen := sampleRate / 100 // 10ms bursts
	for pos := 0; pos < len(out); pos += beatSamples {
		for i := 0; i < clickLen && pos+i < len(out); i++ {
			out[pos+i] = float32(0.9 * math.Sin(2*math.Pi*1000*float64(i)/float64(sampleRate)))
		}
	}
	return out
}

func TestTrackUID(t *testing.T) {
	now := time.Now()
	a := TrackUID("/music/a.wav", 1000, now)
	b := TrackUID("/music/a.wav", 1000, now)
	c := TrackUID("/music/a.wav", 1000, now.Add(time.Second))
	d := TrackUID("/music/b.wav", 1000, now)

	assert.Len(t, a, 32, "128 bits of hex")
	assert.Equal(t, a, b, "deterministic")
	assert.NotEqual(t, a, c, "mtime changes the uid")
	assert.NotEqual(t, a, d, "path changes the uid")
}

func TestDetectBPMClickTrack(t *testing.T) {
	mono := clickTrack(120, 20, AnalysisRate)
	res, err := DetectBPM(context.Background(), mono, AnalysisRate)
	require.NoError(t, err)
	// The lag quantization of the coarse trackers bounds the error.
	assert.InDelta(t, 120.0, res.BPM, 5.0)
	assert.Greater(t, res.Confidence, 0.1)
	assert.NotEmpty(t, res.Method)
}

func TestDetectBPMRejectsSilence(t *testing.T) {
	mono := make([]float32, AnalysisRate*5)
	_, err := DetectBPM(context.Background(), mono, AnalysisRate)
	assert.ErrorIs(t, err, ErrLowSignal)
}

func TestDetectBPMHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DetectBPM(ctx, clickTrack(120, 5, AnalysisRate), AnalysisRate)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNormalizeBPM(t *testing.T) {
	bpm, conf, ok := NormalizeBPM(60, 1.0)
	assert.True(t, ok)
	assert.Equal(t, 120.0, bpm)
	assert.InDelta(t, 0.8, conf, 1e-9)

	bpm, conf, ok = NormalizeBPM(170, 0.5)
	assert.True(t, ok)
	assert.Equal(t, 85.0, bpm)
	assert.InDelta(t, 0.4, conf, 1e-9)

	bpm, _, ok = NormalizeBPM(100, 1.0)
	assert.True(t, ok)
	assert.Equal(t, 100.0, bpm, "in-range detections are untouched")

	_, _, ok = NormalizeBPM(30, 1.0)
	assert.False(t, ok, "implausible detections are rejected")
	_, _, ok = NormalizeBPM(250, 1.0)
	assert.False(t, ok)
}

func TestTrimSilence(t *testing.T) {
	mono := make([]float32, 1000)
	for i := 400; i < 600; i++ {
		mono[i] = 0.5
	}
	got := TrimSilence(mono, -30)
	assert.Len(t, got, 200)
}

func TestBestKeyFromSyntheticChroma(t *testing.T) {
	// A chroma that is the major profile rooted at G must detect G major.
	var chroma [12]float64
	root := 7 // G
	for m := 0; m < 12; m++ {
		chroma[m] = majorProfile[((m-root)%12+12)%12]
	}
	name, corr := bestKey(chroma)
	assert.Equal(t, "G major", name)
	assert.InDelta(t, 1.0, corr, 1e-9)

	// Same for a minor rooted at A.
	root = 9 // A
	for m := 0; m < 12; m++ {
		chroma[m] = minorProfile[((m-root)%12+12)%12]
	}
	name, _ = bestKey(chroma)
	assert.Equal(t, "A minor", name)
}

func TestCamelotWheelCoversAllKeys(t *testing.T) {
	for i, n := range majorNames {
		assert.Contains(t, camelotWheel, n+" major", "major root %d", i)
	}
	for i, n := range minorNames {
		assert.Contains(t, camelotWheel, n+" minor", "minor root %d", i)
	}
	assert.Equal(t, "8A", camelotWheel["A minor"])
	assert.Equal(t, "8B", camelotWheel["C major"])
}

func TestDetectKeyOnHarmonicMaterial(t *testing.T) {
	// A C major scale of pure tones; the detector should land on a key and
	// report a usable confidence.
	sr := AnalysisRate
	mono := make([]float32, sr*8)
	midiNotes := []int{60, 62, 64, 65, 67, 69, 71, 72}
	for n, midi := range midiNotes {
		freq := 440.0 * math.Pow(2, float64(midi-69)/12.0)
		start := n * sr
		for i := 0; i < sr && start+i < len(mono); i++ {
			mono[start+i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sr)))
		}
	}
	res, err := DetectKey(context.Background(), mono, sr)
	require.NoError(t, err)
	assert.NotEmpty(t, res.KeyName)
	assert.NotEmpty(t, res.Camelot)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestPitchShiftCents(t *testing.T) {
	assert.InDelta(t, 0.0, PitchShiftCents(1.0), 1e-9)
	assert.InDelta(t, 1200.0, PitchShiftCents(2.0), 1e-9)
	assert.InDelta(t, -1200.0, PitchShiftCents(0.5), 1e-9)
}

func TestCacheMerge(t *testing.T) {
	c := NewCache(nil)
	c.Store(Result{UID: "u1", BPM: 128, Confidence: 0.9, Method: "onset-ensemble"})
	c.Store(Result{UID: "u1", KeyName: "A minor", Camelot: "8A", KeyConfidence: 0.7})

	got, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 128.0, got.BPM, "key-only update preserves bpm")
	assert.Equal(t, "A minor", got.KeyName)
	assert.Equal(t, "onset-ensemble", got.Method)

	c.SetGridOffset("u1", -0.25)
	got, _ = c.Get("u1")
	assert.Equal(t, -0.25, got.GridOffsetBeats)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestComputePeaks(t *testing.T) {
	mono := make([]float32, 1000)
	mono[10] = 0.8
	mono[500] = -0.6
	p := ComputePeaks(mono, 48000, 256)

	assert.Equal(t, 4, p.Cols)
	assert.Equal(t, 1000, p.TotalFrames)
	assert.Equal(t, float32(0.8), p.Bins[0][1])
	assert.Equal(t, float32(-0.6), p.Bins[1][0])
	assert.Equal(t, 0, p.BinForSample(100))
	assert.Equal(t, 3, p.BinForSample(5000), "clamped to the last bin")
}
