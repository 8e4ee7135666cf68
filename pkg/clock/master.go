// Package clock implements the engine's time references: a process-wide
// MasterClock counted in audio samples, and per-deck AudioClocks anchored
// to it.
package clock

import (
	"sync/atomic"
	"time"
)

// MasterClockState is a snapshot of the master clock at one moment.
type MasterClockState struct {
	MonotonicTime     float64 // seconds from a monotonic source
	AudioSamplesTotal uint64  // total frames pushed to the device
	SampleRate        int
	Running           bool
}

// AudioTimeSeconds returns the audio time implied by the sample count.
func (s MasterClockState) AudioTimeSeconds() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.AudioSamplesTotal) / float64(s.SampleRate)
}

// MasterClock is the single source of truth for time. AudioSamplesTotal is
// advanced only by OnAudioCallback on the audio thread; every other method
// is safe from any thread and does not block.
type MasterClock struct {
	sampleRate int
	epoch      time.Time

	samplesTotal   atomic.Uint64
	running        atomic.Bool
	latencySamples atomic.Uint64
	latencyMS      atomic.Uint64 // float64 bits
}

// NewMasterClock creates a stopped master clock at the given sample rate.
func NewMasterClock(sampleRate int) *MasterClock {
	return &MasterClock{
		sampleRate: sampleRate,
		epoch:      time.Now(),
	}
}

// SampleRate returns the fixed sample rate of the clock.
func (c *MasterClock) SampleRate() int { return c.sampleRate }

// Start resets the sample counter and begins counting. estimatedLatencyMS is
// the expected output latency, used to compensate reported audio time.
func (c *MasterClock) Start(estimatedLatencyMS float64) {
	c.samplesTotal.Store(0)
	c.SetLatencyCompensation(estimatedLatencyMS)
	c.running.Store(true)
}

// Stop halts the clock. The sample counter keeps its value.
func (c *MasterClock) Stop() {
	c.running.Store(false)
}

// Reset zeroes the sample counter without changing the running state.
func (c *MasterClock) Reset() {
	c.samplesTotal.Store(0)
}

// OnAudioCallback advances the clock after a block of frames has been
// produced. Must be called from the audio thread, once per block.
func (c *MasterClock) OnAudioCallback(frames int) {
	if !c.running.Load() {
		return
	}
	c.samplesTotal.Add(uint64(frames))
}

// State returns a consistent snapshot of the clock.
func (c *MasterClock) State() MasterClockState {
	return MasterClockState{
		MonotonicTime:     c.MonotonicTime(),
		AudioSamplesTotal: c.samplesTotal.Load(),
		SampleRate:        c.sampleRate,
		Running:           c.running.Load(),
	}
}

// MonotonicTime returns seconds elapsed on a monotonic source since the
// clock was constructed.
func (c *MasterClock) MonotonicTime() float64 {
	return time.Since(c.epoch).Seconds()
}

// AudioTimeSeconds returns the latency-compensated audio position: the time
// the listener hears, not the time the engine wrote.
func (c *MasterClock) AudioTimeSeconds() float64 {
	if !c.running.Load() {
		return 0
	}
	total := c.samplesTotal.Load()
	lat := c.latencySamples.Load()
	if total <= lat {
		return 0
	}
	return float64(total-lat) / float64(c.sampleRate)
}

// TotalAudioSamples returns the raw produced-sample count.
func (c *MasterClock) TotalAudioSamples() uint64 {
	return c.samplesTotal.Load()
}

// Running reports whether the clock is counting.
func (c *MasterClock) Running() bool { return c.running.Load() }

// SetLatencyCompensation updates the latency estimate, typically after the
// device reports its actual latency.
func (c *MasterClock) SetLatencyCompensation(latencyMS float64) {
	if latencyMS < 0 {
		latencyMS = 0
	}
	c.latencyMS.Store(floatBits(latencyMS))
	c.latencySamples.Store(uint64(latencyMS * float64(c.sampleRate) / 1000.0))
}

// LatencyMS returns the current latency compensation in milliseconds.
func (c *MasterClock) LatencyMS() float64 {
	return floatFromBits(c.latencyMS.Load())
}

// SamplesToSeconds converts a frame count to seconds at the clock's rate.
func (c *MasterClock) SamplesToSeconds(samples uint64) float64 {
	return float64(samples) / float64(c.sampleRate)
}

// SecondsToSamples converts seconds to a frame count at the clock's rate.
func (c *MasterClock) SecondsToSamples(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(seconds * float64(c.sampleRate))
}
