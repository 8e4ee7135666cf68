package deck

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// decodeStream opens path with the codec matching its extension.
func decodeStream(f *os.File, ext string) (beep.StreamSeekCloser, beep.Format, error) {
	switch ext {
	case ".wav":
		return wav.Decode(f)
	case ".mp3":
		return mp3.Decode(f)
	case ".flac":
		return flac.Decode(f)
	case ".ogg", ".oga":
		return vorbis.Decode(f)
	default:
		return nil, beep.Format{}, ErrUnsupportedFormat
	}
}

// DecodeFile decodes an audio file into interleaved stereo float32 at the
// target rate. Mono inputs are duplicated to both channels; other rates are
// resampled on load so the playback path never converts.
func DecodeFile(path string, targetRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	streamer, format, err := decodeStream(f, ext)
	if err != nil {
		if err == ErrUnsupportedFormat {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer streamer.Close()

	var src beep.Streamer = streamer
	if int(format.SampleRate) != targetRate {
		src = beep.Resample(4, format.SampleRate, beep.SampleRate(targetRate), streamer)
	}

	out := make([]float32, 0, targetRate*60*2)
	buf := make([][2]float64, 1024)
	for {
		n, ok := src.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, float32(buf[i][0]), float32(buf[i][1]))
		}
		if !ok {
			break
		}
	}
	if streamErr := streamer.Err(); streamErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, streamErr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrDecode)
	}
	return out, nil
}

// DecodeMonoForAnalysis decodes a file at its native rate and downmixes to
// mono, for the offline analyzers.
func DecodeMonoForAnalysis(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))
	streamer, format, err := decodeStream(f, ext)
	if err != nil {
		if err == ErrUnsupportedFormat {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer streamer.Close()

	mono := make([]float32, 0, int(format.SampleRate)*60)
	buf := make([][2]float64, 1024)
	for {
		n, ok := streamer.Stream(buf)
		for i := 0; i < n; i++ {
			mono = append(mono, float32((buf[i][0]+buf[i][1])*0.5))
		}
		if !ok {
			break
		}
	}
	if len(mono) == 0 {
		return nil, 0, fmt.Errorf("%w: empty stream", ErrDecode)
	}
	return mono, int(format.SampleRate), nil
}
