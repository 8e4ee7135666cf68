// Package phasesync implements the tempo/phase-lock controller: a discrete
// PID loop that drives a slave deck's stretch-engine tempo so its beat
// phase locks to a master deck. The controller borrows the two decks for
// the duration of a sync session only; the decks know nothing about it.
package phasesync

import (
	"errors"
	"math"
	"sync"
)

// ErrMissingBPM is returned when either deck has no tempo estimate.
var ErrMissingBPM = errors.New("sync needs bpm on both decks")

// DeckView is what the controller reads from each deck.
type DeckView interface {
	NowSeconds() float64
	DetectedBPM() float64
	EffectiveRatio() float64
	BeatOffsetSeconds() float64
}

// SlaveDeck additionally accepts the tempo correction. The correction
// multiplies the stretch engine's tempo and never touches the user's
// tempo slider.
type SlaveDeck interface {
	DeckView
	ApplySyncCorrection(factor float64)
}

// Quality grades how tightly the loop is locked.
type Quality int

const (
	QualityPoor Quality = iota
	QualityFair
	QualityGood
	QualityExcellent
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	}
	return "poor"
}

// Gains are the PID coefficients.
type Gains struct {
	KP, KI, KD float64
}

// DefaultGains is the nominal tuning.
var DefaultGains = Gains{KP: 1.2, KI: 0.15, KD: 0.08}

const (
	// DefaultMaxCorrection is the widest tempo correction (±0.5%).
	DefaultMaxCorrection = 0.005

	derivFilterAlpha   = 0.3    // low-pass weight of the new derivative
	deadZone           = 0.01   // PID output below this is halved
	compressKnee       = 0.1    // PID output above this has half slope
	hysteresisEngage   = 1e-3   // correction magnitude that engages
	hysteresisRelease  = 5e-4   // correction magnitude that releases
	minCorrection      = 1e-4   // corrections below this are dropped
	slewAlpha          = 0.95   // weight of the previous correction
	historyLen         = 100
	qualityWindow      = 10
)

// Controller is the PLL. Update is driven by a single timer goroutine;
// telemetry getters are safe from other threads.
type Controller struct {
	master DeckView
	slave  SlaveDeck
	gains  Gains
	maxCor float64

	mu            sync.Mutex
	enabled       bool
	integral      float64
	lastErr       float64
	filteredDeriv float64
	derivPrimed   bool
	history       []float64
	active        bool // hysteresis state
	lastCor       float64
	quality       Quality
	lastPhaseErr  float64
}

// New creates a controller for the given deck pair.
func New(master DeckView, slave SlaveDeck, gains Gains, maxCorrection float64) *Controller {
	if gains == (Gains{}) {
		gains = DefaultGains
	}
	if maxCorrection <= 0 {
		maxCorrection = DefaultMaxCorrection
	}
	return &Controller{
		master:  master,
		slave:   slave,
		gains:   gains,
		maxCor:  maxCorrection,
		lastCor: 1.0,
		quality: QualityPoor,
	}
}

// Enable arms the loop. Both decks must have a BPM estimate.
func (c *Controller) Enable() error {
	if c.master.DetectedBPM() <= 0 || c.slave.DetectedBPM() <= 0 {
		return ErrMissingBPM
	}
	c.mu.Lock()
	c.resetLocked()
	c.enabled = true
	c.mu.Unlock()
	return nil
}

// Disable stops the loop and releases the slave's correction.
func (c *Controller) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.resetLocked()
	c.mu.Unlock()
	c.slave.ApplySyncCorrection(1.0)
}

func (c *Controller) resetLocked() {
	c.integral = 0
	c.lastErr = 0
	c.filteredDeriv = 0
	c.derivPrimed = false
	c.history = c.history[:0]
	c.active = false
	c.lastCor = 1.0
	c.quality = QualityPoor
	c.lastPhaseErr = 0
}

// Enabled reports whether the loop is armed.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Quality returns the current lock grade.
func (c *Controller) Quality() Quality {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quality
}

// PhaseError returns the last measured phase error in beats.
func (c *Controller) PhaseError() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPhaseErr
}

// Correction returns the last applied tempo correction factor.
func (c *Controller) Correction() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCor
}

// wrapHalf folds a beat difference into [-0.5, 0.5).
func wrapHalf(e float64) float64 {
	e = math.Mod(e+0.5, 1.0)
	if e < 0 {
		e += 1.0
	}
	return e - 0.5
}

// phaseError measures the beat-phase difference master minus slave, both
// expressed in the master's playing tempo.
func (c *Controller) phaseError() (float64, bool) {
	masterBPM := c.master.DetectedBPM() * c.master.EffectiveRatio()
	if masterBPM <= 0 {
		return 0, false
	}
	spb := 60.0 / masterBPM
	masterBeat := (c.master.NowSeconds() - c.master.BeatOffsetSeconds()) / spb
	slaveBeat := (c.slave.NowSeconds() - c.slave.BeatOffsetSeconds()) / spb
	return wrapHalf(masterBeat - slaveBeat), true
}

// Update runs one 50 ms controller step: measure the phase error, run the
// PID, shape and limit the output, and push the correction to the slave's
// stretch engine. Returns false when the loop is idle.
func (c *Controller) Update() bool {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return false
	}
	e, ok := c.phaseError()
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.lastPhaseErr = e
	c.history = append(c.history, e)
	if len(c.history) > historyLen {
		c.history = c.history[1:]
	}

	u := c.pidLocked(e)
	cor := c.shapeLocked(1.0 + 0.01*u)
	c.updateQualityLocked()
	cor = c.clampAdaptiveLocked(cor)
	c.lastCor = cor
	c.mu.Unlock()

	c.slave.ApplySyncCorrection(cor)
	return true
}

// pidLocked computes the shaped PID output for one error sample.
func (c *Controller) pidLocked(e float64) float64 {
	p := c.gains.KP * e

	// Integral with anti-windup; large errors halve it instead of feeding.
	if math.Abs(e) > 0.5 {
		c.integral *= 0.5
	} else {
		c.integral += e
	}
	bound := 5.0 / math.Max(c.gains.KI, 0.01)
	c.integral = math.Max(-bound, math.Min(bound, c.integral))
	i := c.gains.KI * c.integral

	rawD := e - c.lastErr
	if c.derivPrimed {
		c.filteredDeriv = (1-derivFilterAlpha)*c.filteredDeriv + derivFilterAlpha*rawD
	} else {
		c.filteredDeriv = rawD
		c.derivPrimed = true
	}
	d := c.gains.KD * c.filteredDeriv
	c.lastErr = e

	u := p + i + d
	switch {
	case math.Abs(u) < deadZone:
		u *= 0.5
	case math.Abs(u) > compressKnee:
		s := math.Copysign(compressKnee, u)
		u = s + 0.5*(u-s)
	}
	return u
}

// shapeLocked applies hysteresis, the slew filter and the minimum
// threshold to a raw correction factor.
func (c *Controller) shapeLocked(cor float64) float64 {
	mag := math.Abs(cor - 1.0)
	if !c.active {
		if mag <= hysteresisEngage {
			return 1.0
		}
		c.active = true
	} else if mag < hysteresisRelease {
		c.active = false
		return 1.0
	}

	cor = c.lastCor*slewAlpha + cor*(1.0-slewAlpha)
	if math.Abs(cor-1.0) < minCorrection {
		return 1.0
	}
	return cor
}

// clampAdaptiveLocked bounds the correction by the current lock quality:
// the tighter the lock, the smaller the allowed correction.
func (c *Controller) clampAdaptiveLocked(cor float64) float64 {
	var lim float64
	switch c.quality {
	case QualityExcellent:
		lim = 0.0005
	case QualityGood:
		lim = 0.001
	case QualityFair:
		lim = 0.002
	default:
		lim = c.maxCor
	}
	return math.Max(1.0-lim, math.Min(1.0+lim, cor))
}

// updateQualityLocked grades the lock from the last ten error samples.
func (c *Controller) updateQualityLocked() {
	if len(c.history) < qualityWindow {
		c.quality = QualityPoor
		return
	}
	recent := c.history[len(c.history)-qualityWindow:]
	var meanAbs, mean float64
	for _, e := range recent {
		meanAbs += math.Abs(e)
		mean += e
	}
	meanAbs /= qualityWindow
	mean /= qualityWindow
	var variance float64
	for _, e := range recent {
		variance += (e - mean) * (e - mean)
	}
	std := math.Sqrt(variance / qualityWindow)

	switch {
	case meanAbs < 0.01 && std < 0.005:
		c.quality = QualityExcellent
	case meanAbs < 0.02 && std < 0.01:
		c.quality = QualityGood
	case meanAbs < 0.05 && std < 0.02:
		c.quality = QualityFair
	default:
		c.quality = QualityPoor
	}
}
