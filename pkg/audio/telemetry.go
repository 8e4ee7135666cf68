package audio

import (
	"github.com/anthropics/deckmix/pkg/clock"
	"github.com/anthropics/deckmix/pkg/deck"
)

// DeckTelemetry is one deck's atomic snapshot.
type DeckTelemetry struct {
	Status          string
	Playing         bool
	PositionSamples uint64
	PositionSeconds float64
	DetectedBPM     float64
	BPMConfidence   float64
	EffectiveRatio  float64
	SyncCorrection  float64
	KeyLock         bool
	Underruns       uint64
	TrackName       string
	Camelot         string
	Duration        float64
}

// Snapshot is the engine's read-only telemetry contract: everything an
// external observer polls every 100 ms, gathered without pausing any
// thread.
type Snapshot struct {
	Clock clock.MasterClockState

	DeckA DeckTelemetry
	DeckB DeckTelemetry

	SyncEnabled      bool
	SyncQuality      string
	PhaseOffsetBeats float64

	Crossfader float64
	MasterGain float64
	Peaks      PeakLevels

	BlockSize           int
	SampleRate          int
	RingCapacitySeconds float64
	LatencyMS           float64
}

func deckTelemetry(d *deck.Deck) DeckTelemetry {
	t := DeckTelemetry{
		Status:          d.Status().String(),
		Playing:         d.Playing(),
		PositionSamples: d.PositionSamples(),
		PositionSeconds: d.PositionSeconds(),
		DetectedBPM:     d.DetectedBPM(),
		BPMConfidence:   d.BPMConfidence(),
		EffectiveRatio:  d.EffectiveRatio(),
		SyncCorrection:  d.Stretch.Correction(),
		KeyLock:         d.KeyLock(),
		Underruns:       d.Underruns(),
		Camelot:         d.Key().Camelot,
	}
	if trk := d.Track(); trk != nil {
		t.TrackName = trk.Name
		t.Duration = trk.Duration
	}
	return t
}

// Telemetry gathers the snapshot.
func (e *Engine) Telemetry() Snapshot {
	s := Snapshot{
		Clock:      e.clk.State(),
		DeckA:      deckTelemetry(e.deckA),
		DeckB:      deckTelemetry(e.deckB),
		Crossfader: e.mixer.Crossfader(),
		MasterGain: e.mixer.MasterGain(),
		Peaks:      e.mixer.PeakLevels(),
		BlockSize:           e.cfg.BlockSize,
		SampleRate:          e.cfg.SampleRate,
		RingCapacitySeconds: e.cfg.RingCapacitySeconds,
		LatencyMS:           e.clk.LatencyMS(),
	}
	if ctrl := e.Sync(); ctrl != nil {
		s.SyncEnabled = ctrl.Enabled()
		s.SyncQuality = ctrl.Quality().String()
		s.PhaseOffsetBeats = ctrl.PhaseError()
	}
	return s
}
