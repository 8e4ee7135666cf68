// Package audio implements the engine root: the two-deck mixer callback,
// the output device, telemetry snapshots and the offline render helpers.
package audio

import (
	"math"
	"sync/atomic"

	"github.com/anthropics/deckmix/pkg/clock"
	"github.com/anthropics/deckmix/pkg/deck"
)

// PeakLevels is one block's peak-hold meter reading.
type PeakLevels struct {
	DeckAL, DeckAR   float64
	DeckBL, DeckBR   float64
	MasterL, MasterR float64
}

// Mixer is the audio callback. ReadBlock runs on the device's real-time
// thread: it never allocates, never blocks, and touches shared state only
// through atomics and the decks' SPSC rings.
type Mixer struct {
	master    *clock.MasterClock
	a, b      *deck.Deck
	blockSize int
	ceiling   float32

	crossBits   atomic.Uint64
	masterBits  atomic.Uint64
	gainABits   atomic.Uint64
	gainBBits   atomic.Uint64

	peakAL, peakAR atomic.Uint64
	peakBL, peakBR atomic.Uint64
	peakML, peakMR atomic.Uint64

	bufA, bufB []float32
}

// NewMixer wires the two decks to the master clock.
func NewMixer(master *clock.MasterClock, a, b *deck.Deck, blockSize int, limiterCeiling float64) *Mixer {
	m := &Mixer{
		master:    master,
		a:         a,
		b:         b,
		blockSize: blockSize,
		ceiling:   float32(limiterCeiling),
		bufA:      make([]float32, blockSize*2),
		bufB:      make([]float32, blockSize*2),
	}
	m.masterBits.Store(math.Float64bits(0.8))
	m.gainABits.Store(math.Float64bits(1.0))
	m.gainBBits.Store(math.Float64bits(1.0))
	return m
}

// FaderGain maps a 0..100 fader position through the log curve: 0 is
// silence, 50 is unity, 100 is +12 dB. Linear gain is (pos/50)^2.
func FaderGain(pos float64) float64 {
	if pos <= 0 {
		return 0
	}
	if pos > 100 {
		pos = 100
	}
	g := pos / 50.0
	return g * g
}

// CrossfaderWeights returns the equal-power deck weights for a crossfader
// position x in [-1, 1] (-1 = deck A only, +1 = deck B only).
func CrossfaderWeights(x float64) (float64, float64) {
	if x < -1 {
		x = -1
	}
	if x > 1 {
		x = 1
	}
	a := math.Sqrt(math.Max(0, 1-math.Max(0, x)))
	b := math.Sqrt(math.Max(0, 1+math.Min(0, x)))
	return a, b
}

// SetCrossfader sets the crossfader position in [-1, 1].
func (m *Mixer) SetCrossfader(x float64) {
	if x < -1 {
		x = -1
	}
	if x > 1 {
		x = 1
	}
	m.crossBits.Store(math.Float64bits(x))
}

// Crossfader returns the crossfader position.
func (m *Mixer) Crossfader() float64 { return math.Float64frombits(m.crossBits.Load()) }

// SetMasterGain sets the master linear gain.
func (m *Mixer) SetMasterGain(g float64) {
	if g < 0 {
		g = 0
	}
	m.masterBits.Store(math.Float64bits(g))
}

// MasterGain returns the master linear gain.
func (m *Mixer) MasterGain() float64 { return math.Float64frombits(m.masterBits.Load()) }

// SetDeckGain sets a deck's linear channel gain ('a' or 'b').
func (m *Mixer) SetDeckGain(which byte, gain float64) {
	if gain < 0 {
		gain = 0
	}
	switch which {
	case 'a', 'A':
		m.gainABits.Store(math.Float64bits(gain))
	case 'b', 'B':
		m.gainBBits.Store(math.Float64bits(gain))
	}
}

// SetDeckFader maps a 0..100 fader position to a deck gain.
func (m *Mixer) SetDeckFader(which byte, pos float64) {
	m.SetDeckGain(which, FaderGain(pos))
}

// DeckGain returns a deck's linear gain.
func (m *Mixer) DeckGain(which byte) float64 {
	switch which {
	case 'a', 'A':
		return math.Float64frombits(m.gainABits.Load())
	default:
		return math.Float64frombits(m.gainBBits.Load())
	}
}

// BlockSize returns the mixer's maximum block length in frames.
func (m *Mixer) BlockSize() int { return m.blockSize }

// Ceiling returns the limiter ceiling.
func (m *Mixer) Ceiling() float64 { return float64(m.ceiling) }

// PeakLevels returns the last block's peak meters.
func (m *Mixer) PeakLevels() PeakLevels {
	return PeakLevels{
		DeckAL:  math.Float64frombits(m.peakAL.Load()),
		DeckAR:  math.Float64frombits(m.peakAR.Load()),
		DeckBL:  math.Float64frombits(m.peakBL.Load()),
		DeckBR:  math.Float64frombits(m.peakBR.Load()),
		MasterL: math.Float64frombits(m.peakML.Load()),
		MasterR: math.Float64frombits(m.peakMR.Load()),
	}
}

// ReadBlock renders one block of mixed output into out (interleaved
// stereo, frames <= BlockSize). This is the audio callback body: clock
// first, then deck pulls, gains, crossfade, master gain, limiter, meters.
func (m *Mixer) ReadBlock(out []float32, frames int) {
	if frames > m.blockSize {
		frames = m.blockSize
	}
	if frames <= 0 {
		return
	}
	m.master.OnAudioCallback(frames)

	bufA := m.bufA[:frames*2]
	bufB := m.bufB[:frames*2]
	m.a.Pull(bufA, frames)
	m.b.Pull(bufB, frames)

	gainA := float32(math.Float64frombits(m.gainABits.Load()))
	gainB := float32(math.Float64frombits(m.gainBBits.Load()))
	wA64, wB64 := CrossfaderWeights(math.Float64frombits(m.crossBits.Load()))
	wA, wB := float32(wA64), float32(wB64)
	masterGain := float32(math.Float64frombits(m.masterBits.Load()))

	var pAL, pAR, pBL, pBR, pML, pMR float32
	for i := 0; i < frames; i++ {
		al := bufA[i*2] * gainA
		ar := bufA[i*2+1] * gainA
		bl := bufB[i*2] * gainB
		br := bufB[i*2+1] * gainB

		if v := abs32(al); v > pAL {
			pAL = v
		}
		if v := abs32(ar); v > pAR {
			pAR = v
		}
		if v := abs32(bl); v > pBL {
			pBL = v
		}
		if v := abs32(br); v > pBR {
			pBR = v
		}

		l := (al*wA + bl*wB) * masterGain
		r := (ar*wA + br*wB) * masterGain

		if l > m.ceiling {
			l = m.ceiling
		} else if l < -m.ceiling {
			l = -m.ceiling
		}
		if r > m.ceiling {
			r = m.ceiling
		} else if r < -m.ceiling {
			r = -m.ceiling
		}

		if v := abs32(l); v > pML {
			pML = v
		}
		if v := abs32(r); v > pMR {
			pMR = v
		}
		out[i*2] = l
		out[i*2+1] = r
	}

	m.peakAL.Store(math.Float64bits(float64(pAL)))
	m.peakAR.Store(math.Float64bits(float64(pAR)))
	m.peakBL.Store(math.Float64bits(float64(pBL)))
	m.peakBR.Store(math.Float64bits(float64(pBR)))
	m.peakML.Store(math.Float64bits(float64(pML)))
	m.peakMR.Store(math.Float64bits(float64(pMR)))
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
