// Package stretch implements the per-deck time manipulation stage: a
// linear-interpolation varispeed path (pitch follows tempo) and a phase
// vocoder (key lock), behind one engine with an atomically readable tempo.
package stretch

import (
	"math"
	"sync"
	"sync/atomic"
)

// Tempo ratios outside this range are clamped; the widest pitch range the
// decks expose is ±50%.
const (
	minRatio = 0.25
	maxRatio = 4.0
)

// Engine applies variable-rate resampling or pitch-preserving time-stretch
// to stereo float32 blocks. Tempo and the sync correction are atomic floats
// so the fill path and telemetry read them without locks; Process itself is
// called only by the owning deck's fill worker.
type Engine struct {
	sampleRate int
	hq         bool

	tempoBits atomic.Uint64 // user tempo ratio
	corrBits  atomic.Uint64 // phase-sync correction multiplier
	keyLock   atomic.Bool

	mu  sync.Mutex // guards the DSP state below
	res resampler
	voc *vocoder
}

// Option configures an Engine.
type Option func(*Engine)

// WithoutHighQuality disables the phase-vocoder path, forcing the silent
// fallback to resampling when key lock is requested.
func WithoutHighQuality() Option {
	return func(e *Engine) { e.hq = false }
}

// NewEngine creates an engine at unity tempo.
func NewEngine(sampleRate int, opts ...Option) *Engine {
	e := &Engine{sampleRate: sampleRate, hq: true}
	e.tempoBits.Store(math.Float64bits(1.0))
	e.corrBits.Store(math.Float64bits(1.0))
	for _, o := range opts {
		o(e)
	}
	e.voc = newVocoder()
	return e
}

// SetTempo sets the tempo ratio (1.0 = source rate).
func (e *Engine) SetTempo(ratio float64) {
	if ratio < minRatio {
		ratio = minRatio
	}
	if ratio > maxRatio {
		ratio = maxRatio
	}
	e.tempoBits.Store(math.Float64bits(ratio))
}

// Tempo returns the user tempo ratio.
func (e *Engine) Tempo() float64 {
	return math.Float64frombits(e.tempoBits.Load())
}

// SetCorrection sets the phase-sync multiplier. It composes with the user
// tempo without touching it.
func (e *Engine) SetCorrection(c float64) {
	if c <= 0 {
		c = 1.0
	}
	e.corrBits.Store(math.Float64bits(c))
}

// Correction returns the current phase-sync multiplier.
func (e *Engine) Correction() float64 {
	return math.Float64frombits(e.corrBits.Load())
}

// EffectiveTempo returns tempo x correction, the rate actually applied.
func (e *Engine) EffectiveTempo() float64 {
	return e.Tempo() * e.Correction()
}

// SetKeyLock enables pitch-preserving stretch. When the vocoder is
// unavailable this silently degrades to resampling.
func (e *Engine) SetKeyLock(enabled bool) {
	e.keyLock.Store(enabled && e.hq)
}

// KeyLockEnabled reports whether the stretch path is active.
func (e *Engine) KeyLockEnabled() bool { return e.keyLock.Load() }

// HighQualityAvailable reports whether the vocoder path exists.
func (e *Engine) HighQualityAvailable() bool { return e.hq }

// SourceFramesNeeded returns how many source frames to feed Process to
// yield roughly target output frames, with the fill worker's 10% margin.
func (e *Engine) SourceFramesNeeded(target int) int {
	return int(math.Ceil(float64(target)*e.EffectiveTempo()*1.1)) + 2
}

// Process runs interleaved stereo input through the active path at the
// effective tempo. Output length is deterministic given input length and
// ratio. Near-unity ratios pass through untouched.
func (e *Engine) Process(in []float32) []float32 {
	ratio := e.EffectiveTempo()
	if math.Abs(ratio-1.0) < 0.001 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keyLock.Load() {
		return e.voc.process(in, ratio)
	}
	return e.res.process(in, ratio)
}

// Reset clears all internal buffers. Call on track change or seek.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.res.reset()
	e.voc.reset()
}
