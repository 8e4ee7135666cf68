package audio

import "math"

// Waveform selects the click oscillator shape.
type Waveform int

const (
	WaveSine Waveform = iota
	WaveSquare
	WaveTriangle
)

// Oscillator generates test waveforms. It is the measurement-signal
// source for click tracks and the sync tests.
type Oscillator struct {
	Type       Waveform
	Phase      float64
	Frequency  float64
	SampleRate float64
}

// NewOscillator creates an oscillator at the given rate.
func NewOscillator(w Waveform, sampleRate float64) *Oscillator {
	return &Oscillator{Type: w, SampleRate: sampleRate}
}

// SetFrequency sets the oscillator frequency.
func (o *Oscillator) SetFrequency(freq float64) {
	o.Frequency = freq
}

// Reset resets the oscillator phase.
func (o *Oscillator) Reset() {
	o.Phase = 0
}

// Sample generates the next sample value (-1.0 to 1.0).
func (o *Oscillator) Sample() float64 {
	if o.Frequency <= 0 {
		return 0
	}
	o.Phase += o.Frequency / o.SampleRate
	if o.Phase >= 1.0 {
		o.Phase -= 1.0
	}
	switch o.Type {
	case WaveSquare:
		if o.Phase < 0.5 {
			return 1.0
		}
		return -1.0
	case WaveTriangle:
		if o.Phase < 0.5 {
			return 4.0*o.Phase - 1.0
		}
		return 3.0 - 4.0*o.Phase
	default:
		return math.Sin(2 * math.Pi * o.Phase)
	}
}

// ClickOptions configures a click track.
type ClickOptions struct {
	BPM         float64
	Seconds     float64
	SampleRate  int
	BeatsPerBar int     // accented downbeats, default 4
	ClickHz     float64 // beat click pitch, default 1000
	AccentHz    float64 // downbeat click pitch, default 1500
	ClickMS     float64 // click length, default 20
	Amplitude   float64 // default 0.8
}

func (o *ClickOptions) fill() {
	if o.BeatsPerBar <= 0 {
		o.BeatsPerBar = 4
	}
	if o.ClickHz <= 0 {
		o.ClickHz = 1000
	}
	if o.AccentHz <= 0 {
		o.AccentHz = 1500
	}
	if o.ClickMS <= 0 {
		o.ClickMS = 20
	}
	if o.Amplitude <= 0 {
		o.Amplitude = 0.8
	}
}

// GenerateClickTrack renders an interleaved stereo click track: a short
// tone burst on every beat, pitched up on the downbeat, with a linear
// decay so the clicks do not thump.
func GenerateClickTrack(opts ClickOptions) []float32 {
	opts.fill()
	sr := opts.SampleRate
	frames := int(opts.Seconds * float64(sr))
	out := make([]float32, frames*2)

	beatFrames := 60.0 / opts.BPM * float64(sr)
	clickFrames := int(opts.ClickMS / 1000.0 * float64(sr))
	osc := NewOscillator(WaveSine, float64(sr))

	beat := 0
	for start := 0.0; int(start) < frames; start += beatFrames {
		freq := opts.ClickHz
		if beat%opts.BeatsPerBar == 0 {
			freq = opts.AccentHz
		}
		osc.SetFrequency(freq)
		osc.Reset()
		base := int(start)
		for i := 0; i < clickFrames && base+i < frames; i++ {
			env := 1.0 - float64(i)/float64(clickFrames)
			s := float32(osc.Sample() * env * opts.Amplitude)
			out[(base+i)*2] = s
			out[(base+i)*2+1] = s
		}
		beat++
	}
	return out
}
