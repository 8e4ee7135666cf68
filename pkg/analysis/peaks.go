package analysis

import "fmt"

// DefaultPeakBlock is the default number of samples per peak bin.
const DefaultPeakBlock = 256

// Peaks is the downsampled min/max overview of one track, used by overview
// rendering and persisted as the peaks sidecar.
type Peaks struct {
	Version     string       `json:"version"`
	SampleRate  int          `json:"sample_rate"`
	TotalFrames int          `json:"total_frames"`
	Cols        int          `json:"cols"`
	Bins        [][2]float32 `json:"peaks"`
}

// ComputePeaks builds min/max bins of blockSize samples from mono audio.
// The tail is zero-padded to a whole bin.
func ComputePeaks(mono []float32, sampleRate, blockSize int) Peaks {
	if blockSize < 1 {
		blockSize = DefaultPeakBlock
	}
	nBins := (len(mono) + blockSize - 1) / blockSize
	bins := make([][2]float32, nBins)
	for b := 0; b < nBins; b++ {
		lo, hi := float32(0), float32(0)
		start := b * blockSize
		end := start + blockSize
		if end > len(mono) {
			end = len(mono)
		}
		for i := start; i < end; i++ {
			if i == start {
				lo, hi = mono[i], mono[i]
				continue
			}
			if mono[i] < lo {
				lo = mono[i]
			}
			if mono[i] > hi {
				hi = mono[i]
			}
		}
		bins[b] = [2]float32{lo, hi}
	}
	return Peaks{
		Version:     "1.0",
		SampleRate:  sampleRate,
		TotalFrames: len(mono),
		Cols:        nBins,
		Bins:        bins,
	}
}

// BinForSample returns the bin index holding the given sample.
func (p Peaks) BinForSample(sample int) int {
	if p.Cols == 0 || p.TotalFrames == 0 {
		return 0
	}
	block := (p.TotalFrames + p.Cols - 1) / p.Cols
	b := sample / block
	if b < 0 {
		return 0
	}
	if b >= p.Cols {
		return p.Cols - 1
	}
	return b
}

// WritePeaksSidecar writes audioPath's peaks sidecar.
func WritePeaksSidecar(audioPath string, p Peaks) error {
	return writeJSON(audioPath+PeaksSidecarSuffix, p)
}

// ReadPeaksSidecar loads audioPath's peaks sidecar and refuses stale data:
// a sidecar whose sample rate or frame count disagrees with the decoded
// track yields ErrSidecarConflict rather than a mismatched overview.
func ReadPeaksSidecar(audioPath string, wantSampleRate, wantTotalFrames int) (Peaks, error) {
	var p Peaks
	if err := readJSON(audioPath+PeaksSidecarSuffix, &p); err != nil {
		return p, err
	}
	if len(p.Bins) != p.Cols {
		return p, fmt.Errorf("%w: cols %d != bins %d", ErrCorruptSidecar, p.Cols, len(p.Bins))
	}
	if wantSampleRate > 0 && p.SampleRate != wantSampleRate {
		return p, fmt.Errorf("%w: sample_rate %d != %d", ErrSidecarConflict, p.SampleRate, wantSampleRate)
	}
	if wantTotalFrames > 0 && p.TotalFrames != wantTotalFrames {
		return p, fmt.Errorf("%w: total_frames %d != %d", ErrSidecarConflict, p.TotalFrames, wantTotalFrames)
	}
	return p, nil
}
