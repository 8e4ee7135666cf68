package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropics/deckmix/pkg/tempo"
)

func TestBPMSidecarRoundTrip(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, WriteBPMSidecar(audio, BPMSidecar{BPM: 120, Method: "onset-ensemble", SampleRate: 44100}))

	got, err := ReadBPMSidecar(audio)
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.BPM)
	assert.Equal(t, "onset-ensemble", got.Method)
	assert.NotEmpty(t, got.Timestamp, "write stamps the sidecar")
}

func TestBPMSidecarRejectsInsaneValues(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio+BPMSidecarSuffix, []byte(`{"bpm": 500, "method": "x"}`), 0o644))

	_, err := ReadBPMSidecar(audio)
	assert.ErrorIs(t, err, ErrCorruptSidecar)
}

func TestBPMSidecarCorruptJSON(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio+BPMSidecarSuffix, []byte(`{not json`), 0o644))

	_, err := ReadBPMSidecar(audio)
	assert.ErrorIs(t, err, ErrCorruptSidecar)

	// The audio file itself must never be touched.
	_, statErr := os.Stat(audio + BPMSidecarSuffix)
	assert.NoError(t, statErr)
}

func TestBPMSidecarIgnoresUnknownFields(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(audio+BPMSidecarSuffix,
		[]byte(`{"bpm": 128.0, "method": "aubio", "sr": 44100, "ts": "2025-01-01T00:00:00Z", "future_field": true}`), 0o644))

	got, err := ReadBPMSidecar(audio)
	require.NoError(t, err)
	assert.Equal(t, 128.0, got.BPM)
}

func TestKeySidecarRoundTrip(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, WriteKeySidecar(audio, KeySidecar{KeyName: "A minor", Camelot: "8A", Confidence: 0.8, Method: "chroma+krumhansl"}))

	got, err := ReadKeySidecar(audio)
	require.NoError(t, err)
	assert.Equal(t, "8A", got.Camelot)
}

func TestTempoMapSidecarRoundTrip(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	m, err := tempo.FromConstantBPM(126, 48000, 0.1)
	require.NoError(t, err)
	require.NoError(t, WriteTempoMapSidecar(audio, m))

	got, err := ReadTempoMapSidecar(audio)
	require.NoError(t, err)
	assert.InDelta(t, 126.0, got.AverageBPM(), 1e-9)
}

func TestPeaksSidecarRefusesConflictingMetadata(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "a.wav")
	p := ComputePeaks(make([]float32, 48000), 48000, 256)
	require.NoError(t, WritePeaksSidecar(audio, p))

	_, err := ReadPeaksSidecar(audio, 48000, 48000)
	assert.NoError(t, err)

	_, err = ReadPeaksSidecar(audio, 44100, 48000)
	assert.ErrorIs(t, err, ErrSidecarConflict, "sample rate conflict")

	_, err = ReadPeaksSidecar(audio, 48000, 96000)
	assert.ErrorIs(t, err, ErrSidecarConflict, "frame count conflict")
}
