// Package analysis implements offline track analysis: BPM estimation, key
// detection, waveform peak precomputation, the sidecar/in-memory caches and
// the batch runner that feeds them.
package analysis

import "errors"

var (
	// ErrTimeout means an analyzer exceeded its wall-clock budget.
	ErrTimeout = errors.New("analysis timed out")
	// ErrLowSignal means the material is too quiet to analyze.
	ErrLowSignal = errors.New("signal too weak for analysis")
	// ErrNoCandidates means no beat tracker produced a usable estimate.
	ErrNoCandidates = errors.New("no bpm candidates")
	// ErrCorruptSidecar means a sidecar file could not be parsed; callers
	// ignore the sidecar and re-analyze, never deleting the audio file.
	ErrCorruptSidecar = errors.New("corrupt sidecar")
	// ErrSidecarConflict means a sidecar's metadata disagrees with the
	// decoded track (sample rate or frame count); treat as stale.
	ErrSidecarConflict = errors.New("sidecar metadata conflict")
)
