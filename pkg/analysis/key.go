package analysis

import (
	"context"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Krumhansl-Schmuckler key profiles.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// Note spellings matched to the Camelot wheel entries.
var (
	majorNames = [12]string{"C", "Db", "D", "Eb", "E", "F", "F#", "G", "Ab", "A", "Bb", "B"}
	minorNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "Bb", "B"}
)

// camelotWheel maps key names to Camelot wheel labels for harmonic mixing.
var camelotWheel = map[string]string{
	"C major": "8B", "G major": "9B", "D major": "10B", "A major": "11B",
	"E major": "12B", "B major": "1B", "F# major": "2B", "Db major": "3B",
	"Ab major": "4B", "Eb major": "5B", "Bb major": "6B", "F major": "7B",
	"A minor": "8A", "E minor": "9A", "B minor": "10A", "F# minor": "11A",
	"C# minor": "12A", "G# minor": "1A", "D# minor": "2A", "Bb minor": "3A",
	"F minor": "4A", "C minor": "5A", "G minor": "6A", "D minor": "7A",
}

// KeyResult is the outcome of key detection.
type KeyResult struct {
	KeyName    string
	Camelot    string
	Confidence float64
	Method     string
}

const (
	keyFFTSize     = 4096
	keyHopSize     = 512
	keyMaxSeconds  = 90
	keyMinFreqHz   = 80.0
	keyMaxFreqHz   = 2000.0
	midiA4         = 69
	freqA4         = 440.0
)

// chromaProfile accumulates spectral energy into the 12 pitch classes.
func chromaProfile(ctx context.Context, mono []float32, sampleRate int) ([12]float64, error) {
	var chroma [12]float64
	frame := make([]float64, keyFFTSize)
	window := make([]float64, keyFFTSize)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(keyFFTSize))
	}

	frames := 0
	for start := 0; start+keyFFTSize <= len(mono); start += keyHopSize {
		if frames%64 == 0 {
			if err := ctx.Err(); err != nil {
				return chroma, ErrTimeout
			}
		}
		for i := 0; i < keyFFTSize; i++ {
			frame[i] = float64(mono[start+i]) * window[i]
		}
		spec := fft.FFTReal(frame)
		binHz := float64(sampleRate) / float64(keyFFTSize)
		for k := 1; k < keyFFTSize/2; k++ {
			freq := float64(k) * binHz
			if freq < keyMinFreqHz || freq > keyMaxFreqHz {
				continue
			}
			midi := float64(midiA4) + 12*math.Log2(freq/freqA4)
			pc := ((int(math.Round(midi)) % 12) + 12) % 12
			re, im := real(spec[k]), imag(spec[k])
			chroma[pc] += math.Sqrt(re*re + im*im)
		}
		frames++
	}
	var total float64
	for _, v := range chroma {
		total += v
	}
	if frames == 0 || total == 0 {
		return chroma, ErrLowSignal
	}
	for i := range chroma {
		chroma[i] /= total
	}
	return chroma, nil
}

// bestKey correlates the chroma vector against the major and minor
// profiles across all 12 rotations; the highest correlation wins.
func bestKey(chroma [12]float64) (string, float64) {
	bestCorr := -2.0
	bestName := ""
	for shift := 0; shift < 12; shift++ {
		// Rotate so the candidate root lands on profile position zero.
		var shifted [12]float64
		for i := 0; i < 12; i++ {
			shifted[i] = chroma[(i+shift)%12]
		}
		if c := correlate(shifted[:], majorProfile[:]); c > bestCorr {
			bestCorr = c
			bestName = majorNames[shift] + " major"
		}
		if c := correlate(shifted[:], minorProfile[:]); c > bestCorr {
			bestCorr = c
			bestName = minorNames[shift] + " minor"
		}
	}
	return bestName, bestCorr
}

func correlate(a, b []float64) float64 {
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(len(a))
	meanB /= float64(len(b))
	var num, da, db float64
	for i := range a {
		x := a[i] - meanA
		y := b[i] - meanB
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		return 0
	}
	return num / math.Sqrt(da*db)
}

// DetectKey estimates the musical key of mono audio via a chroma profile
// matched against the Krumhansl-Schmuckler templates, mapped to Camelot.
// Only the first 90 seconds are analyzed.
func DetectKey(ctx context.Context, mono []float32, sampleRate int) (KeyResult, error) {
	y := ResampleTo(mono, sampleRate, AnalysisRate)
	if max := keyMaxSeconds * AnalysisRate; len(y) > max {
		y = y[:max]
	}
	chroma, err := chromaProfile(ctx, y, AnalysisRate)
	if err != nil {
		return KeyResult{}, err
	}
	name, corr := bestKey(chroma)
	if name == "" {
		return KeyResult{}, ErrNoCandidates
	}
	camelot := camelotWheel[name]
	return KeyResult{
		KeyName:    name,
		Camelot:    camelot,
		Confidence: clamp(corr, 0, 1),
		Method:     "chroma+krumhansl",
	}, nil
}

// PitchShiftCents converts a playback rate to its pitch offset in cents,
// for showing the sounding key when key lock is off.
func PitchShiftCents(playbackRate float64) float64 {
	if playbackRate <= 0 {
		return 0
	}
	return 1200.0 * math.Log2(playbackRate)
}
