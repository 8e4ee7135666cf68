package deck

import (
	"math"
	"time"
)

// startWorker launches the fill goroutine once per deck.
func (d *Deck) startWorker() {
	d.workerOnce.Do(func() {
		d.workerStarted.Store(true)
		go d.fillLoop()
	})
}

// fillLoop renders ahead of the audio callback: whenever the ring drops
// below the high-water mark it runs one fill step, otherwise it naps
// briefly to avoid busy-spinning.
func (d *Deck) fillLoop() {
	defer close(d.workerDone)
	for {
		select {
		case <-d.workerStop:
			return
		default:
		}
		if !d.playing.Load() || d.buf.FillRatio() >= ringHighWater {
			time.Sleep(2 * time.Millisecond)
			continue
		}
		if !d.fillOnce(fillChunkFrames) {
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// fillOnce renders up to target frames through the stretch engine and
// enqueues them. Returns false when there was nothing to do.
func (d *Deck) fillOnce(target int) bool {
	trk := d.trk.Load()
	if trk == nil {
		return false
	}

	d.fillMu.Lock()
	defer d.fillMu.Unlock()

	if free := d.buf.FreeFrames(); target > free {
		target = free
	}
	if target <= 0 {
		return false
	}

	start := int(d.fillPos)
	if start >= trk.Frames {
		// End of material: stop the transport, let the ring drain.
		d.playing.Store(false)
		d.clk.Pause()
		d.status.Store(int32(StatusPaused))
		return false
	}

	eff := d.Stretch.EffectiveTempo()
	// The vocoder buffers input internally, so it gets exactly the frames
	// it will consume; the resample path carries the 10% margin and is
	// truncated below.
	var need int
	if d.Stretch.KeyLockEnabled() {
		need = int(math.Ceil(float64(target) * eff))
	} else {
		need = d.Stretch.SourceFramesNeeded(target)
	}
	end := start + need
	if end > trk.Frames {
		end = trk.Frames
	}
	src := trk.Samples[start*2 : end*2]

	out := d.Stretch.Process(src)

	// Truncate or zero-pad to exactly the target length.
	if cap(d.fillBuf) < target*2 {
		d.fillBuf = make([]float32, target*2)
	}
	chunk := d.fillBuf[:target*2]
	n := copy(chunk, out)
	for i := n; i < len(chunk); i++ {
		chunk[i] = 0
	}

	vol := float32(d.Volume())
	if vol != 1.0 {
		for i := range chunk {
			chunk[i] *= vol
		}
	}

	d.buf.Write(chunk)
	d.fillPos += float64(target) * eff
	if d.fillPos > float64(trk.Frames) {
		d.fillPos = float64(trk.Frames)
	}
	d.posSamples.Store(uint64(d.fillPos))
	return true
}
