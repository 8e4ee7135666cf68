// Package tempo implements the tempo map: the single source of truth for
// sample<->beat conversion, supporting constant and piecewise-constant BPM
// plus a manual grid offset.
package tempo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
)

// Version is the serialization format version. Loading rejects any other
// value instead of guessing.
const Version = "1.0"

// ErrVersionMismatch is returned when a serialized map carries an unknown
// version tag.
var ErrVersionMismatch = errors.New("tempo map version mismatch")

// Segment is one stretch of constant tempo.
type Segment struct {
	SamplePosition uint64  `json:"sample_position"`
	BeatIndex      float64 `json:"beat_index"`
	LocalBPM       float64 `json:"local_bpm"`
	Confidence     float64 `json:"confidence"`
}

func (s Segment) validate() error {
	if s.LocalBPM <= 0 {
		return fmt.Errorf("segment local_bpm must be > 0, got %g", s.LocalBPM)
	}
	if s.BeatIndex < 0 {
		return fmt.Errorf("segment beat_index must be >= 0, got %g", s.BeatIndex)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("segment confidence must be in [0,1], got %g", s.Confidence)
	}
	return nil
}

// BPMChange is an input point for variable-tempo construction.
type BPMChange struct {
	TimeSeconds float64
	BPM         float64
}

// Map is an ordered sequence of tempo segments plus the manual grid offset.
// Queries are safe for concurrent use; the grid offset is the only mutable
// field and is guarded.
type Map struct {
	mu              sync.RWMutex
	segments        []Segment
	sampleRate      int
	gridOffsetBeats float64
	beatsPerBar     int
}

// NewMap validates and normalizes segments: the list must be non-empty,
// segments are sorted by sample position, and a segment at sample 0 is
// synthesized from the first observed BPM when missing.
func NewMap(segments []Segment, sampleRate int) (*Map, error) {
	if len(segments) == 0 {
		return nil, errors.New("tempo map needs at least one segment")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].SamplePosition < segs[j].SamplePosition })
	for _, s := range segs {
		if err := s.validate(); err != nil {
			return nil, err
		}
	}
	if segs[0].SamplePosition != 0 {
		first := Segment{
			SamplePosition: 0,
			BeatIndex:      0,
			LocalBPM:       segs[0].LocalBPM,
			Confidence:     segs[0].Confidence,
		}
		segs = append([]Segment{first}, segs...)
	}
	return &Map{segments: segs, sampleRate: sampleRate, beatsPerBar: 4}, nil
}

// FromConstantBPM builds a single-segment map. beatOffsetSeconds places
// beat zero relative to the start of the audio.
func FromConstantBPM(bpm float64, sampleRate int, beatOffsetSeconds float64) (*Map, error) {
	if beatOffsetSeconds < 0 {
		beatOffsetSeconds = 0
	}
	seg := Segment{
		SamplePosition: uint64(beatOffsetSeconds * float64(sampleRate)),
		BeatIndex:      0,
		LocalBPM:       bpm,
		Confidence:     1.0,
	}
	return NewMap([]Segment{seg}, sampleRate)
}

// FromVariableBPM builds a piecewise-constant map from (time, bpm) change
// points. Beat indexes are accumulated from the durations between points.
func FromVariableBPM(bpmChanges []BPMChange, sampleRate int) (*Map, error) {
	if len(bpmChanges) == 0 {
		return nil, errors.New("bpm changes cannot be empty")
	}
	segs := make([]Segment, 0, len(bpmChanges))
	beat := 0.0
	for i, ch := range bpmChanges {
		if i > 0 {
			prev := bpmChanges[i-1]
			beat += (ch.TimeSeconds - prev.TimeSeconds) * prev.BPM / 60.0
		}
		segs = append(segs, Segment{
			SamplePosition: uint64(ch.TimeSeconds * float64(sampleRate)),
			BeatIndex:      beat,
			LocalBPM:       ch.BPM,
			Confidence:     0.8,
		})
	}
	return NewMap(segs, sampleRate)
}

// SampleRate returns the map's sample rate.
func (m *Map) SampleRate() int { return m.sampleRate }

// Segments returns a copy of the segment list.
func (m *Map) Segments() []Segment {
	out := make([]Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// SetGridOffset sets the manual grid correction in beats. May be negative.
func (m *Map) SetGridOffset(offsetBeats float64) {
	m.mu.Lock()
	m.gridOffsetBeats = offsetBeats
	m.mu.Unlock()
}

// GridOffset returns the manual grid correction in beats.
func (m *Map) GridOffset() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gridOffsetBeats
}

// BeatsPerBar returns the bar length, default 4.
func (m *Map) BeatsPerBar() int { return m.beatsPerBar }

// SetBeatsPerBar overrides the bar length.
func (m *Map) SetBeatsPerBar(n int) {
	if n > 0 {
		m.beatsPerBar = n
	}
}

// segmentForSample finds the last segment starting at or before pos.
func (m *Map) segmentForSample(pos uint64) Segment {
	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].SamplePosition > pos
	})
	if i == 0 {
		return m.segments[0]
	}
	return m.segments[i-1]
}

// segmentForBeat finds the last segment whose beat index is at or before b.
func (m *Map) segmentForBeat(b float64) Segment {
	i := sort.Search(len(m.segments), func(i int) bool {
		return m.segments[i].BeatIndex > b
	})
	if i == 0 {
		return m.segments[0]
	}
	return m.segments[i-1]
}

// SamplesToBeats converts a sample position to a beat position, including
// the grid offset.
func (m *Map) SamplesToBeats(pos uint64) float64 {
	seg := m.segmentForSample(pos)
	secs := float64(pos-seg.SamplePosition) / float64(m.sampleRate)
	beats := seg.BeatIndex + secs*seg.LocalBPM/60.0 + m.GridOffset()
	return math.Max(0, beats)
}

// BeatsToSamples is the inverse of SamplesToBeats.
func (m *Map) BeatsToSamples(beats float64) uint64 {
	adjusted := beats - m.GridOffset()
	if adjusted <= 0 {
		return 0
	}
	seg := m.segmentForBeat(adjusted)
	secs := (adjusted - seg.BeatIndex) * 60.0 / seg.LocalBPM
	return seg.SamplePosition + uint64(secs*float64(m.sampleRate))
}

// BPMAtSample returns the local BPM at a sample position.
func (m *Map) BPMAtSample(pos uint64) float64 {
	return m.segmentForSample(pos).LocalBPM
}

// AverageBPM returns the time-weighted mean BPM across segments. The last
// segment is assumed to run to the end and contributes its own value when
// the map is a single segment.
func (m *Map) AverageBPM() float64 {
	if len(m.segments) == 1 {
		return m.segments[0].LocalBPM
	}
	var weighted, total float64
	for i := 0; i < len(m.segments)-1; i++ {
		dur := float64(m.segments[i+1].SamplePosition-m.segments[i].SamplePosition) / float64(m.sampleRate)
		weighted += m.segments[i].LocalBPM * dur
		total += dur
	}
	if total <= 0 {
		return m.segments[0].LocalBPM
	}
	return weighted / total
}

// IsVariableTempo reports whether any two segments differ by more than
// 0.1 BPM.
func (m *Map) IsVariableTempo() bool {
	first := m.segments[0].LocalBPM
	for _, s := range m.segments[1:] {
		if math.Abs(s.LocalBPM-first) > 0.1 {
			return true
		}
	}
	return false
}

// mapJSON is the flat serialization format.
type mapJSON struct {
	Version         string    `json:"version"`
	Segments        []Segment `json:"segments"`
	SampleRate      int       `json:"sample_rate"`
	GridOffsetBeats float64   `json:"grid_offset_beats"`
	BeatsPerBar     int       `json:"beats_per_bar"`
}

// MarshalJSON implements json.Marshaler.
func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(mapJSON{
		Version:         Version,
		Segments:        m.segments,
		SampleRate:      m.sampleRate,
		GridOffsetBeats: m.GridOffset(),
		BeatsPerBar:     m.beatsPerBar,
	})
}

// UnmarshalJSON implements json.Unmarshaler, rejecting unknown versions.
func (m *Map) UnmarshalJSON(data []byte) error {
	var raw mapJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Version != Version {
		return fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, raw.Version, Version)
	}
	built, err := NewMap(raw.Segments, raw.SampleRate)
	if err != nil {
		return err
	}
	built.gridOffsetBeats = raw.GridOffsetBeats
	if raw.BeatsPerBar > 0 {
		built.beatsPerBar = raw.BeatsPerBar
	}
	m.segments = built.segments
	m.sampleRate = built.sampleRate
	m.gridOffsetBeats = built.gridOffsetBeats
	m.beatsPerBar = built.beatsPerBar
	return nil
}

// SaveFile writes the map as JSON to path.
func (m *Map) SaveFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads a map from a JSON file written by SaveFile.
func LoadFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
