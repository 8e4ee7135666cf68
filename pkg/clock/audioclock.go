package clock

import "sync"

// AudioClock tracks one deck's audible position in its source material. It
// does not count time itself: while playing, the position is derived from
// the MasterClock's sample total, so both decks share one time reference
// even across xruns.
type AudioClock struct {
	master *MasterClock
	sr     int

	mu                 sync.Mutex
	baseSamples        uint64
	samplesPlayed      uint64
	paused             bool
	startMasterSamples uint64
	rate               float64 // source frames consumed per output frame
}

// NewAudioClock creates a paused clock anchored to master.
func NewAudioClock(master *MasterClock) *AudioClock {
	return &AudioClock{
		master: master,
		sr:     master.SampleRate(),
		paused: true,
		rate:   1.0,
	}
}

// Reset returns the clock to its initial paused state at position zero.
func (a *AudioClock) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseSamples = 0
	a.samplesPlayed = 0
	a.paused = true
	a.startMasterSamples = 0
	a.rate = 1.0
}

// PlayFromSamples starts the clock at the given source position, anchoring
// it to the current MasterClock sample total.
func (a *AudioClock) PlayFromSamples(startSamples uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseSamples = startSamples
	a.samplesPlayed = 0
	a.paused = false
	a.startMasterSamples = a.master.TotalAudioSamples()
}

// Pause latches the last computed position.
func (a *AudioClock) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		a.samplesPlayed = a.elapsedSourceSamples()
		a.paused = true
	}
}

// SetRate sets the effective playback ratio used to map output frames to
// source frames. Re-anchors so already-elapsed time keeps the old rate.
func (a *AudioClock) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		a.baseSamples += a.elapsedSourceSamples()
		a.samplesPlayed = 0
		a.startMasterSamples = a.master.TotalAudioSamples()
	}
	a.rate = rate
}

// elapsedSourceSamples returns source frames consumed since the anchor.
// Caller holds mu.
func (a *AudioClock) elapsedSourceSamples() uint64 {
	out := a.master.TotalAudioSamples() - a.startMasterSamples
	return uint64(float64(out) * a.rate)
}

// PositionSamples returns the current audible position in source samples.
func (a *AudioClock) PositionSamples() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return a.baseSamples + a.samplesPlayed
	}
	return a.baseSamples + a.elapsedSourceSamples()
}

// NowSeconds returns the current audible position in seconds.
func (a *AudioClock) NowSeconds() float64 {
	return float64(a.PositionSamples()) / float64(a.sr)
}

// Paused reports whether the clock is latched.
func (a *AudioClock) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}
