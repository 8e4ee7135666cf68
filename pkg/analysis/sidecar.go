package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/deckmix/pkg/tempo"
)

// Sidecar file suffixes, appended to the audio file path.
const (
	BPMSidecarSuffix      = ".bpm.json"
	KeySidecarSuffix      = ".key.json"
	TempoMapSidecarSuffix = ".tempo_map.json"
	PeaksSidecarSuffix    = ".peaks.json"
)

// BPMSidecar is the on-disk BPM analysis record.
type BPMSidecar struct {
	BPM        float64 `json:"bpm"`
	Confidence float64 `json:"confidence,omitempty"`
	Method     string  `json:"method"`
	SampleRate int     `json:"sr"`
	Timestamp  string  `json:"ts"`
}

// KeySidecar is the on-disk key analysis record.
type KeySidecar struct {
	KeyName    string  `json:"key_name"`
	Camelot    string  `json:"camelot"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// WriteBPMSidecar writes audioPath's BPM sidecar.
func WriteBPMSidecar(audioPath string, sc BPMSidecar) error {
	if sc.Timestamp == "" {
		sc.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return writeJSON(audioPath+BPMSidecarSuffix, sc)
}

// ReadBPMSidecar loads audioPath's BPM sidecar. A present but unparsable or
// insane file yields ErrCorruptSidecar.
func ReadBPMSidecar(audioPath string) (BPMSidecar, error) {
	var sc BPMSidecar
	if err := readJSON(audioPath+BPMSidecarSuffix, &sc); err != nil {
		return sc, err
	}
	if sc.BPM < minPlausibleBPM || sc.BPM > maxPlausibleBPM {
		return sc, fmt.Errorf("%w: bpm %.1f out of range", ErrCorruptSidecar, sc.BPM)
	}
	return sc, nil
}

// WriteKeySidecar writes audioPath's key sidecar.
func WriteKeySidecar(audioPath string, sc KeySidecar) error {
	return writeJSON(audioPath+KeySidecarSuffix, sc)
}

// ReadKeySidecar loads audioPath's key sidecar.
func ReadKeySidecar(audioPath string) (KeySidecar, error) {
	var sc KeySidecar
	if err := readJSON(audioPath+KeySidecarSuffix, &sc); err != nil {
		return sc, err
	}
	if sc.KeyName == "" || sc.Camelot == "" {
		return sc, fmt.Errorf("%w: missing key fields", ErrCorruptSidecar)
	}
	return sc, nil
}

// WriteTempoMapSidecar writes audioPath's tempo map sidecar.
func WriteTempoMapSidecar(audioPath string, m *tempo.Map) error {
	return m.SaveFile(audioPath + TempoMapSidecarSuffix)
}

// ReadTempoMapSidecar loads audioPath's tempo map sidecar.
func ReadTempoMapSidecar(audioPath string) (*tempo.Map, error) {
	m, err := tempo.LoadFile(audioPath + TempoMapSidecarSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptSidecar, err)
	}
	return m, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSidecar, err)
	}
	return nil
}
