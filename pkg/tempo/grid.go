package tempo

// BeatGrid is a thin facade over a Map: a headline BPM and a beat-zero
// offset for display, with every query delegated to the tempo map.
type BeatGrid struct {
	BPM        float64 // headline (average) BPM
	BeatOffset float64 // seconds of the first beat relative to the audio

	tm *Map
}

// NewBeatGrid wraps an existing map. When tm is nil a constant-BPM map is
// created from the headline values.
func NewBeatGrid(bpm float64, beatOffsetSeconds float64, sampleRate int, tm *Map) (*BeatGrid, error) {
	if tm == nil {
		var err error
		tm, err = FromConstantBPM(bpm, sampleRate, beatOffsetSeconds)
		if err != nil {
			return nil, err
		}
	}
	return &BeatGrid{BPM: bpm, BeatOffset: beatOffsetSeconds, tm: tm}, nil
}

// Map returns the underlying tempo map.
func (g *BeatGrid) Map() *Map { return g.tm }

// SecPerBeat returns the seconds per beat at the headline tempo, using the
// time-weighted average for variable-tempo tracks.
func (g *BeatGrid) SecPerBeat() float64 {
	if g.tm.IsVariableTempo() {
		return 60.0 / g.tm.AverageBPM()
	}
	return 60.0 / g.BPM
}

// TimeOfBeat returns the time in seconds of the given beat index.
func (g *BeatGrid) TimeOfBeat(beat float64) float64 {
	return float64(g.tm.BeatsToSamples(beat)) / float64(g.tm.SampleRate())
}

// BeatAtTime returns the (fractional) beat index at the given time.
func (g *BeatGrid) BeatAtTime(sec float64) float64 {
	if sec < 0 {
		sec = 0
	}
	return g.tm.SamplesToBeats(uint64(sec * float64(g.tm.SampleRate())))
}

// BarAtTime returns the (fractional) bar number at the given time.
func (g *BeatGrid) BarAtTime(sec float64) float64 {
	return g.BeatAtTime(sec) / float64(g.tm.BeatsPerBar())
}

// BPMAtTime returns the local BPM at the given time.
func (g *BeatGrid) BPMAtTime(sec float64) float64 {
	if sec < 0 {
		sec = 0
	}
	return g.tm.BPMAtSample(uint64(sec * float64(g.tm.SampleRate())))
}

// BeatPhase returns the fractional part of the beat position at the given
// time, in [0, 1).
func (g *BeatGrid) BeatPhase(sec float64) float64 {
	b := g.BeatAtTime(sec)
	return b - float64(int64(b))
}
