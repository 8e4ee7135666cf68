package analysis

import (
	"context"
	"math"
	"sort"
)

const (
	// AnalysisRate is the internal rate all analyzers run at.
	AnalysisRate = 44100

	minPlausibleBPM = 40
	maxPlausibleBPM = 200
	foldLowBPM      = 60
	foldHighBPM     = 180

	silenceFloorDB = -30.0
)

// BPMResult is one BPM estimate with its confidence and the method tag that
// ends up in the sidecar.
type BPMResult struct {
	BPM        float64
	Confidence float64
	Method     string
}

// MonoFromStereo downmixes interleaved stereo to mono.
func MonoFromStereo(stereo []float32) []float32 {
	mono := make([]float32, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) * 0.5
	}
	return mono
}

// ResampleTo linearly resamples mono audio to the target rate.
func ResampleTo(mono []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(mono) == 0 {
		return mono
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(mono)) / ratio)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		if i0 > len(mono)-2 {
			i0 = len(mono) - 2
		}
		if i0 < 0 {
			i0 = 0
		}
		f := float32(pos - float64(i0))
		out[i] = mono[i0] + (mono[i0+1]-mono[i0])*f
	}
	return out
}

// TrimSilence cuts leading and trailing material below the dB floor.
func TrimSilence(mono []float32, floorDB float64) []float32 {
	thresh := float32(math.Pow(10, floorDB/20))
	start, end := 0, len(mono)
	for start < end && abs32(mono[start]) < thresh {
		start++
	}
	for end > start && abs32(mono[end-1]) < thresh {
		end--
	}
	return mono[start:end]
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// onsetEnvelope computes half-wave rectified energy flux over fixed
// windows: the rise of RMS energy between adjacent windows.
func onsetEnvelope(mono []float32, window int) []float64 {
	n := len(mono) / window
	if n < 4 {
		return nil
	}
	energy := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < window; j++ {
			s := float64(mono[i*window+j])
			sum += s * s
		}
		energy[i] = math.Sqrt(sum / float64(window))
	}
	flux := make([]float64, n)
	for i := 1; i < n; i++ {
		if d := energy[i] - energy[i-1]; d > 0 {
			flux[i] = d
		}
	}
	return flux
}

// autocorrBPM finds the dominant periodicity of the onset envelope by
// autocorrelation and converts the best lag to BPM.
func autocorrBPM(flux []float64, windowsPerSecond float64) (float64, bool) {
	n := len(flux)
	minLag := int(windowsPerSecond * 60.0 / maxPlausibleBPM)
	maxLag := int(windowsPerSecond * 60.0 / foldLowBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= n/2 {
		maxLag = n/2 - 1
	}
	if minLag >= maxLag {
		return 0, false
	}
	bestLag, bestCorr := minLag, -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		count := 0
		for i := 0; i+lag < n; i++ {
			corr += flux[i] * flux[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestCorr <= 0 {
		return 0, false
	}
	return windowsPerSecond * 60.0 / float64(bestLag), true
}

// onsetIntervalBPM picks onset peaks and estimates BPM from the median
// interval between them.
func onsetIntervalBPM(flux []float64, windowsPerSecond float64) (float64, bool) {
	if len(flux) < 8 {
		return 0, false
	}
	var mean float64
	for _, f := range flux {
		mean += f
	}
	mean /= float64(len(flux))
	thresh := mean * 1.5

	var peaks []int
	for i := 1; i < len(flux)-1; i++ {
		if flux[i] > thresh && flux[i] >= flux[i-1] && flux[i] > flux[i+1] {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) < 4 {
		return 0, false
	}
	intervals := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals = append(intervals, float64(peaks[i]-peaks[i-1]))
	}
	sort.Float64s(intervals)
	median := intervals[len(intervals)/2]
	if median <= 0 {
		return 0, false
	}
	return windowsPerSecond * 60.0 / median, true
}

// foldBPM folds half/double-time estimates into the canonical range.
func foldBPM(v float64) float64 {
	for v < foldLowBPM {
		v *= 2
	}
	for v > foldHighBPM {
		v /= 2
	}
	return v
}

// DetectBPM estimates the tempo of mono audio. The input is resampled to
// 44.1 kHz, peak-normalized and silence-trimmed, then a small ensemble of
// beat trackers votes; the folded candidates are reduced by trimmed median.
func DetectBPM(ctx context.Context, mono []float32, sampleRate int) (BPMResult, error) {
	if err := ctx.Err(); err != nil {
		return BPMResult{}, ErrTimeout
	}
	y := ResampleTo(mono, sampleRate, AnalysisRate)

	var peak float32
	for _, s := range y {
		if a := abs32(s); a > peak {
			peak = a
		}
	}
	if peak < 1e-4 {
		return BPMResult{}, ErrLowSignal
	}
	norm := make([]float32, len(y))
	inv := 1.0 / peak
	for i, s := range y {
		norm[i] = s * inv
	}
	norm = TrimSilence(norm, silenceFloorDB)
	if len(norm) < AnalysisRate {
		return BPMResult{}, ErrLowSignal
	}

	var candidates []float64
	for _, window := range []int{1024, 512} {
		if err := ctx.Err(); err != nil {
			return BPMResult{}, ErrTimeout
		}
		flux := onsetEnvelope(norm, window)
		if flux == nil {
			continue
		}
		wps := float64(AnalysisRate) / float64(window)
		if bpm, ok := autocorrBPM(flux, wps); ok {
			candidates = append(candidates, foldBPM(bpm))
		}
		if bpm, ok := onsetIntervalBPM(flux, wps); ok {
			candidates = append(candidates, foldBPM(bpm))
		}
	}
	if len(candidates) == 0 {
		return BPMResult{}, ErrNoCandidates
	}

	bpm, conf := reduceCandidates(candidates)
	bpm = math.Round(bpm*10) / 10
	return BPMResult{BPM: bpm, Confidence: conf, Method: "onset-ensemble"}, nil
}

// reduceCandidates takes the trimmed median of the folded candidates and
// derives a confidence from their spread, damped by the candidate count.
func reduceCandidates(candidates []float64) (float64, float64) {
	sorted := append([]float64(nil), candidates...)
	sort.Float64s(sorted)

	kept := sorted
	if len(sorted) >= 3 {
		p10 := percentile(sorted, 0.10)
		p90 := percentile(sorted, 0.90)
		trimmed := sorted[:0:0]
		for _, c := range sorted {
			if c >= p10 && c <= p90 {
				trimmed = append(trimmed, c)
			}
		}
		if len(trimmed) > 0 {
			kept = trimmed
		}
	}

	bpm := kept[len(kept)/2]
	if len(kept)%2 == 0 && len(kept) > 1 {
		bpm = (kept[len(kept)/2-1] + kept[len(kept)/2]) / 2
	}

	var conf float64
	switch len(kept) {
	case 1:
		conf = 0.3
	case 2:
		conf = 0.5
	default:
		conf = clamp(1.0-stddev(kept)/20.0, 0.1, 1.0)
	}
	conf *= math.Min(1.0, float64(len(candidates))/5.0)
	return bpm, conf
}

// NormalizeBPM applies the half/double-time sanity correction. Detections
// outside [80,160] are probed at double or half; a value landing inside
// substitutes with a 0.8 confidence penalty. Anything outside [40,200] is
// rejected.
func NormalizeBPM(bpm, confidence float64) (float64, float64, bool) {
	if bpm < 80 {
		if d := bpm * 2; d >= 80 && d <= 160 {
			bpm = d
			confidence *= 0.8
		}
	} else if bpm > 160 {
		if h := bpm / 2; h >= 80 && h <= 160 {
			bpm = h
			confidence *= 0.8
		}
	}
	bpm = math.Round(bpm*10) / 10
	if bpm < minPlausibleBPM || bpm > maxPlausibleBPM {
		return bpm, confidence, false
	}
	return bpm, confidence, true
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	i := int(idx)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	f := idx - float64(i)
	return sorted[i] + (sorted[i+1]-sorted[i])*f
}

func stddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var acc float64
	for _, v := range vals {
		acc += (v - mean) * (v - mean)
	}
	return math.Sqrt(acc / float64(len(vals)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
