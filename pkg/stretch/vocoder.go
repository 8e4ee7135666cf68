package stretch

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	frameSize = 1024
	hopSize   = 512 // 50% overlap
)

// vocoder is a phase-vocoder time stretcher: tempo changes without pitch
// changes. Small input chunks are buffered until at least two analysis
// frames are available; leftover input is preserved across calls.
type vocoder struct {
	window []float64

	inBuf [2][]float64 // deinterleaved channel buffers
	inPos float64      // fractional analysis read position into inBuf

	prevPhase  [2][]float64
	synthPhase [2][]float64
	primed     [2]bool

	overlap   [2][]float64 // synthesis overlap-add tail
	outBuf    [2][]float64 // completed output samples
	outCredit float64      // fractional output frames owed to the caller
}

func newVocoder() *vocoder {
	v := &vocoder{window: make([]float64, frameSize)}
	for i := range v.window {
		v.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frameSize))
	}
	for ch := 0; ch < 2; ch++ {
		v.prevPhase[ch] = make([]float64, frameSize)
		v.synthPhase[ch] = make([]float64, frameSize)
		v.overlap[ch] = make([]float64, frameSize)
	}
	return v
}

func (v *vocoder) reset() {
	for ch := 0; ch < 2; ch++ {
		v.inBuf[ch] = v.inBuf[ch][:0]
		v.outBuf[ch] = v.outBuf[ch][:0]
		for i := range v.prevPhase[ch] {
			v.prevPhase[ch][i] = 0
			v.synthPhase[ch][i] = 0
			v.overlap[ch][i] = 0
		}
		v.primed[ch] = false
	}
	v.inPos = 0
	v.outCredit = 0
}

func wrapPhase(p float64) float64 {
	return p - 2*math.Pi*math.Round(p/(2*math.Pi))
}

// process buffers the interleaved stereo input and returns output frames
// proportional to len(in)/ratio. When too little input has accumulated the
// shortfall is zero-padded, keeping the output length deterministic.
func (v *vocoder) process(in []float32, ratio float64) []float32 {
	nIn := len(in) / 2
	for i := 0; i < nIn; i++ {
		v.inBuf[0] = append(v.inBuf[0], float64(in[i*2]))
		v.inBuf[1] = append(v.inBuf[1], float64(in[i*2+1]))
	}

	// Analysis hop: source frames consumed per synthesis hop.
	hopA := float64(hopSize) * ratio
	if hopA < 1 {
		hopA = 1
	}

	// Quality gate: hold output until two full frames are buffered.
	if len(v.inBuf[0]) >= frameSize*2 {
		for v.inPos+frameSize <= float64(len(v.inBuf[0])) {
			start := int(v.inPos)
			for ch := 0; ch < 2; ch++ {
				v.analyzeFrame(ch, start, hopA)
			}
			v.inPos += hopA
		}
		v.compactInput()
	}

	v.outCredit += float64(nIn) / ratio
	want := int(v.outCredit)
	v.outCredit -= float64(want)

	out := make([]float32, want*2)
	have := len(v.outBuf[0])
	n := want
	if n > have {
		n = have
	}
	for i := 0; i < n; i++ {
		out[i*2] = float32(v.outBuf[0][i])
		out[i*2+1] = float32(v.outBuf[1][i])
	}
	v.outBuf[0] = v.outBuf[0][n:]
	v.outBuf[1] = v.outBuf[1][n:]
	return out
}

// analyzeFrame runs one analysis/synthesis step for a channel.
func (v *vocoder) analyzeFrame(ch, start int, hopA float64) {
	frame := make([]float64, frameSize)
	src := v.inBuf[ch]
	for i := 0; i < frameSize; i++ {
		frame[i] = src[start+i] * v.window[i]
	}
	spec := fft.FFTReal(frame)

	synth := make([]complex128, len(spec))
	for k := range spec {
		mag := cmplx.Abs(spec[k])
		phase := cmplx.Phase(spec[k])
		omega := 2 * math.Pi * float64(k) / float64(frameSize)

		if !v.primed[ch] {
			v.synthPhase[ch][k] = phase
			v.prevPhase[ch][k] = phase
			synth[k] = spec[k]
			continue
		}

		// Deviation from the expected advance gives the true bin frequency.
		expected := omega * hopA
		delta := wrapPhase(phase - v.prevPhase[ch][k] - expected)
		trueFreq := omega + delta/hopA
		v.prevPhase[ch][k] = phase

		v.synthPhase[ch][k] = wrapPhase(v.synthPhase[ch][k] + trueFreq*float64(hopSize))
		synth[k] = cmplx.Rect(mag, v.synthPhase[ch][k])
	}
	v.primed[ch] = true

	td := fft.IFFT(synth)

	// Overlap-add: the first hop of the accumulator is complete output.
	for i := 0; i < frameSize; i++ {
		v.overlap[ch][i] += real(td[i]) * v.window[i] * (2.0 / 3.0)
	}
	v.outBuf[ch] = append(v.outBuf[ch], v.overlap[ch][:hopSize]...)
	copy(v.overlap[ch], v.overlap[ch][hopSize:])
	for i := frameSize - hopSize; i < frameSize; i++ {
		v.overlap[ch][i] = 0
	}
}

// compactInput drops fully consumed source samples, preserving the frames
// still needed by the analysis window.
func (v *vocoder) compactInput() {
	keepFrom := int(v.inPos)
	if keepFrom <= 0 {
		return
	}
	if keepFrom > len(v.inBuf[0]) {
		keepFrom = len(v.inBuf[0])
	}
	for ch := 0; ch < 2; ch++ {
		n := copy(v.inBuf[ch], v.inBuf[ch][keepFrom:])
		v.inBuf[ch] = v.inBuf[ch][:n]
	}
	v.inPos -= float64(keepFrom)
}
