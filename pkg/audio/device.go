package audio

import (
	"fmt"
	"math"
	"strings"

	"github.com/ebitengine/oto/v3"
)

// Device drives the platform audio output through oto. The oto player
// pulls from mixerStream on its own real-time goroutine; every Read is one
// or more mixer callbacks.
type Device struct {
	ctx       *oto.Context
	player    *oto.Player
	stream    *mixerStream
	latencyMS float64
}

// mixerStream adapts the mixer to io.Reader, converting float32 frames to
// the device's little-endian byte layout without allocating per call.
type mixerStream struct {
	mixer     *Mixer
	blockSize int
	buf       []float32
}

func (s *mixerStream) Read(p []byte) (int, error) {
	const bytesPerFrame = 8 // stereo float32
	frames := len(p) / bytesPerFrame
	if frames <= 0 {
		return 0, nil
	}
	written := 0
	for frames > 0 {
		n := frames
		if n > s.blockSize {
			n = s.blockSize
		}
		block := s.buf[:n*2]
		s.mixer.ReadBlock(block, n)
		for i, v := range block {
			bits := math.Float32bits(v)
			off := written + i*4
			p[off] = byte(bits)
			p[off+1] = byte(bits >> 8)
			p[off+2] = byte(bits >> 16)
			p[off+3] = byte(bits >> 24)
		}
		written += n * bytesPerFrame
		frames -= n
	}
	return written, nil
}

// openDevice opens a stereo float32 output stream and sizes its buffer to
// the requested latency. The device may settle on a different buffer; the
// actual value is what LatencyMS reports.
func openDevice(mixer *Mixer, sampleRate, blockSize int, latencyMS float64) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "sample rate") {
			return nil, fmt.Errorf("%w: %d", ErrSampleRateUnsupported, sampleRate)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	<-ready

	stream := &mixerStream{
		mixer:     mixer,
		blockSize: blockSize,
		buf:       make([]float32, blockSize*2),
	}
	player := ctx.NewPlayer(stream)

	// Round the requested latency to whole blocks; what the buffer
	// actually holds is what MasterClock compensates for.
	latencyFrames := int(latencyMS * float64(sampleRate) / 1000.0)
	if blocks := (latencyFrames + blockSize - 1) / blockSize; blocks > 0 {
		latencyFrames = blocks * blockSize
	}
	player.SetBufferSize(latencyFrames * 8)
	actualMS := float64(latencyFrames) / float64(sampleRate) * 1000.0

	return &Device{ctx: ctx, player: player, stream: stream, latencyMS: actualMS}, nil
}

// Play starts the device pulling from the mixer.
func (d *Device) Play() { d.player.Play() }

// LatencyMS returns the actual output latency implied by the device
// buffer, which may differ from the requested value.
func (d *Device) LatencyMS() float64 { return d.latencyMS }

// Close stops and releases the output stream.
func (d *Device) Close() {
	if d.player != nil {
		d.player.Close()
	}
}
