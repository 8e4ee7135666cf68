package audio

import (
	"encoding/binary"
	"io"
	"os"
)

// WAVWriter writes 16-bit PCM stereo WAV data.
type WAVWriter struct {
	writer     io.Writer
	sampleRate int
}

// NewWAVWriter creates a WAV writer at the given rate.
func NewWAVWriter(w io.Writer, sampleRate int) *WAVWriter {
	return &WAVWriter{writer: w, sampleRate: sampleRate}
}

// WriteHeader writes the RIFF/fmt/data headers for dataSize payload bytes.
func (w *WAVWriter) WriteHeader(dataSize int) error {
	const channels = 2
	w.writer.Write([]byte("RIFF"))
	binary.Write(w.writer, binary.LittleEndian, uint32(dataSize+36))
	w.writer.Write([]byte("WAVE"))

	w.writer.Write([]byte("fmt "))
	binary.Write(w.writer, binary.LittleEndian, uint32(16))
	binary.Write(w.writer, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w.writer, binary.LittleEndian, uint16(channels))
	binary.Write(w.writer, binary.LittleEndian, uint32(w.sampleRate))
	binary.Write(w.writer, binary.LittleEndian, uint32(w.sampleRate*channels*2))
	binary.Write(w.writer, binary.LittleEndian, uint16(channels*2))
	binary.Write(w.writer, binary.LittleEndian, uint16(16))

	w.writer.Write([]byte("data"))
	return binary.Write(w.writer, binary.LittleEndian, uint32(dataSize))
}

// WriteSamples writes interleaved stereo float samples as 16-bit PCM.
func (w *WAVWriter) WriteSamples(samples []float32) error {
	for _, s := range samples {
		if s > 1.0 {
			s = 1.0
		}
		if s < -1.0 {
			s = -1.0
		}
		if err := binary.Write(w.writer, binary.LittleEndian, int16(s*32767)); err != nil {
			return err
		}
	}
	return nil
}

// WriteWAVFile writes interleaved stereo samples to a WAV file.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := NewWAVWriter(f, sampleRate)
	if err := w.WriteHeader(len(samples) * 2); err != nil {
		return err
	}
	return w.WriteSamples(samples)
}

// ExportWAV renders the mixer offline for the given duration and writes
// the result as WAV. It drives the same callback path as the device but
// is not a recording of the live master bus.
func ExportWAV(m *Mixer, out io.Writer, sampleRate int, seconds float64) error {
	totalFrames := int(seconds * float64(sampleRate))
	w := NewWAVWriter(out, sampleRate)
	if err := w.WriteHeader(totalFrames * 4); err != nil {
		return err
	}

	block := make([]float32, m.BlockSize()*2)
	for written := 0; written < totalFrames; {
		n := m.BlockSize()
		if rem := totalFrames - written; n > rem {
			n = rem
		}
		m.ReadBlock(block[:n*2], n)
		if err := w.WriteSamples(block[:n*2]); err != nil {
			return err
		}
		written += n
	}
	return nil
}
