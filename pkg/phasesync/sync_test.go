package phasesync

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simDeck is a virtual deck whose clock the test advances by hand.
type simDeck struct {
	time   float64
	bpm    float64
	ratio  float64
	offset float64
	cor    float64
}

func (d *simDeck) NowSeconds() float64           { return d.time }
func (d *simDeck) DetectedBPM() float64          { return d.bpm }
func (d *simDeck) EffectiveRatio() float64       { return d.ratio }
func (d *simDeck) BeatOffsetSeconds() float64    { return d.offset }
func (d *simDeck) ApplySyncCorrection(f float64) { d.cor = f }

func newPair(masterBPM, slaveBPM float64) (*simDeck, *simDeck) {
	return &simDeck{bpm: masterBPM, ratio: 1, cor: 1},
		&simDeck{bpm: slaveBPM, ratio: 1, cor: 1}
}

// step advances the simulated world by dt: the master runs free, the slave
// runs at its current correction factor.
func step(master, slave *simDeck, dt float64) {
	master.time += dt
	slave.time += dt * slave.cor
}

func TestWrapHalf(t *testing.T) {
	assert.InDelta(t, 0.25, wrapHalf(0.25), 1e-12)
	assert.InDelta(t, -0.25, wrapHalf(0.75), 1e-12, "nearest phase difference")
	assert.InDelta(t, -0.25, wrapHalf(-0.25), 1e-12)
	assert.InDelta(t, 0.1, wrapHalf(3.1), 1e-9)
	assert.InDelta(t, -0.5, wrapHalf(0.5), 1e-12)
}

func TestEnableRequiresBPM(t *testing.T) {
	master, slave := newPair(120, 0)
	c := New(master, slave, DefaultGains, 0)
	assert.ErrorIs(t, c.Enable(), ErrMissingBPM)

	slave.bpm = 120
	assert.NoError(t, c.Enable())
	assert.True(t, c.Enabled())
}

func TestUpdateIdleWhenDisabled(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, 0)
	assert.False(t, c.Update())
}

func TestDisableReleasesCorrection(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, 0)
	require.NoError(t, c.Enable())

	// Induce a large error so some correction engages.
	slave.time = -0.1
	for i := 0; i < 40; i++ {
		c.Update()
		step(master, slave, 0.05)
	}
	c.Disable()
	assert.Equal(t, 1.0, slave.cor)
	assert.False(t, c.Enabled())
	assert.Equal(t, QualityPoor, c.Quality())
}

func TestPhaseErrorMeasurement(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, 0)
	require.NoError(t, c.Enable())

	// 120 BPM: 0.5 s/beat. Slave 0.05 s behind = 0.1 beats.
	master.time = 10.0
	slave.time = 9.95
	c.Update()
	assert.InDelta(t, 0.1, c.PhaseError(), 1e-9)
}

func TestSmallErrorsStayInDeadZone(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, 0)
	require.NoError(t, c.Enable())

	// Perfectly aligned decks produce no correction at all.
	for i := 0; i < 100; i++ {
		c.Update()
		step(master, slave, 0.05)
	}
	assert.Equal(t, 1.0, slave.cor)
	assert.InDelta(t, 0.0, c.PhaseError(), 1e-9)
}

func TestCorrectionBounded(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, DefaultMaxCorrection)
	require.NoError(t, c.Enable())

	// A huge, persistent error must never push the correction past the
	// configured maximum.
	slave.time = -0.2 // 0.4 beats behind
	for i := 0; i < 200; i++ {
		c.Update()
		assert.LessOrEqual(t, math.Abs(slave.cor-1.0), DefaultMaxCorrection+1e-9)
		step(master, slave, 0.05)
	}
}

// The headline property: an induced phase offset is pulled below 0.02
// beats and the loop then holds it there.
func TestConvergenceFromInducedOffset(t *testing.T) {
	const dt = 0.05
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, DefaultMaxCorrection)
	require.NoError(t, c.Enable())

	// Nudge the slave 0.05 beats (25 ms at 120 BPM) behind the master.
	slave.time = -0.025

	converged := -1.0
	for i := 0; i < 300; i++ { // 15 s
		c.Update()
		step(master, slave, dt)
		if converged < 0 && math.Abs(c.PhaseError()) < 0.02 {
			converged = float64(i) * dt
		}
	}
	require.GreaterOrEqual(t, converged, 0.0, "loop never pulled the error below 0.02 beats within 15 s")

	// Keep running; the error must never grow back toward the induced
	// offset while the integral unwinds.
	var worst float64
	for i := 0; i < 1200; i++ { // 60 more seconds
		c.Update()
		step(master, slave, dt)
		if a := math.Abs(c.PhaseError()); a > worst {
			worst = a
		}
	}
	assert.Less(t, worst, 0.05, "lock must hold after convergence")
}

// Five simulated minutes with aligned decks: drift stays inside 0.01
// beats and the quality grade reaches excellent.
func TestLongRunDriftBounded(t *testing.T) {
	const dt = 0.05
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, DefaultMaxCorrection)
	require.NoError(t, c.Enable())

	var worst float64
	steps := int(5 * 60 / dt)
	for i := 0; i < steps; i++ {
		c.Update()
		step(master, slave, dt)
		if a := math.Abs(c.PhaseError()); a > worst {
			worst = a
		}
	}
	assert.Less(t, worst, 0.01)
	assert.Equal(t, QualityExcellent, c.Quality())
}

func TestQualityGrading(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, 0)
	require.NoError(t, c.Enable())

	c.mu.Lock()
	c.history = []float64{0.001, -0.001, 0.002, -0.002, 0.001, 0.0, 0.001, -0.001, 0.0, 0.001}
	c.updateQualityLocked()
	q := c.quality
	c.mu.Unlock()
	assert.Equal(t, QualityExcellent, q)

	c.mu.Lock()
	c.history = []float64{0.1, -0.1, 0.12, -0.09, 0.11, 0.1, -0.12, 0.1, -0.1, 0.11}
	c.updateQualityLocked()
	q = c.quality
	c.mu.Unlock()
	assert.Equal(t, QualityPoor, q)

	assert.Equal(t, "excellent", QualityExcellent.String())
	assert.Equal(t, "poor", QualityPoor.String())
}

func TestHysteresisIgnoresTinyCorrections(t *testing.T) {
	master, slave := newPair(120, 120)
	c := New(master, slave, DefaultGains, 0)
	require.NoError(t, c.Enable())

	c.mu.Lock()
	got := c.shapeLocked(1.0005) // below the engage threshold
	c.mu.Unlock()
	assert.Equal(t, 1.0, got)

	c.mu.Lock()
	got = c.shapeLocked(1.01) // engages, slewed from 1.0
	active := c.active
	c.mu.Unlock()
	assert.True(t, active)
	assert.Greater(t, got, 1.0)
	assert.Less(t, got, 1.01, "slew limits the first step")
}
