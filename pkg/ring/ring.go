// Package ring implements a single-producer single-consumer float32 ring
// buffer aligned to stereo frames. The producer is a deck's fill worker;
// the consumer is the audio callback. Neither side blocks or allocates.
package ring

import "sync/atomic"

// Buffer is a lock-free SPSC ring of interleaved stereo float32 samples.
// Positions are counted in frames (pairs of samples) and only ever grow;
// indexes wrap modulo the capacity.
type Buffer struct {
	data     []float32
	capFrame uint64

	readPos  atomic.Uint64 // frames consumed, owned by the consumer
	writePos atomic.Uint64 // frames produced, owned by the producer
}

// New creates a ring holding capacityFrames stereo frames.
func New(capacityFrames int) *Buffer {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	return &Buffer{
		data:     make([]float32, capacityFrames*2),
		capFrame: uint64(capacityFrames),
	}
}

// CapFrames returns the ring capacity in frames.
func (b *Buffer) CapFrames() int { return int(b.capFrame) }

// LenFrames returns the number of frames currently buffered.
func (b *Buffer) LenFrames() int {
	return int(b.writePos.Load() - b.readPos.Load())
}

// FreeFrames returns the number of frames that can be written.
func (b *Buffer) FreeFrames() int {
	return int(b.capFrame) - b.LenFrames()
}

// FillRatio returns buffered frames divided by capacity.
func (b *Buffer) FillRatio() float64 {
	return float64(b.LenFrames()) / float64(b.capFrame)
}

// Write appends up to len(samples)/2 frames from interleaved samples and
// returns the number of frames written. Producer side only.
func (b *Buffer) Write(samples []float32) int {
	frames := len(samples) / 2
	free := b.FreeFrames()
	if frames > free {
		frames = free
	}
	if frames <= 0 {
		return 0
	}
	w := b.writePos.Load()
	for i := 0; i < frames; i++ {
		idx := ((w + uint64(i)) % b.capFrame) * 2
		b.data[idx] = samples[i*2]
		b.data[idx+1] = samples[i*2+1]
	}
	b.writePos.Store(w + uint64(frames))
	return frames
}

// Read pops up to len(dst)/2 frames into dst and returns the number of
// frames read. Consumer side only; never blocks.
func (b *Buffer) Read(dst []float32) int {
	frames := len(dst) / 2
	avail := b.LenFrames()
	if frames > avail {
		frames = avail
	}
	if frames <= 0 {
		return 0
	}
	r := b.readPos.Load()
	for i := 0; i < frames; i++ {
		idx := ((r + uint64(i)) % b.capFrame) * 2
		dst[i*2] = b.data[idx]
		dst[i*2+1] = b.data[idx+1]
	}
	b.readPos.Store(r + uint64(frames))
	return frames
}

// Clear drops all buffered frames. Call only while the producer is idle
// (the deck holds its fill lock around this).
func (b *Buffer) Clear() {
	b.readPos.Store(b.writePos.Load())
}
