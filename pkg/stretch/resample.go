package stretch

// resampler is a linear-interpolation varispeed stage. It keeps a
// fractional read phase so consecutive blocks stay continuous.
type resampler struct {
	frac float64
}

func (r *resampler) reset() {
	r.frac = 0
}

// process reads interleaved stereo input at the given speed ratio and
// returns floor(frames/ratio) output frames. ratio > 1 plays faster
// (consumes more source per output frame) and raises pitch.
func (r *resampler) process(in []float32, ratio float64) []float32 {
	nIn := len(in) / 2
	if nIn == 0 || ratio <= 0 {
		return nil
	}
	nOut := int(float64(nIn) / ratio)
	if nOut <= 0 {
		return nil
	}
	out := make([]float32, nOut*2)
	for i := 0; i < nOut; i++ {
		pos := r.frac + float64(i)*ratio
		i0 := int(pos)
		if i0 > nIn-2 {
			i0 = nIn - 2
		}
		if i0 < 0 {
			i0 = 0
		}
		f := float32(pos - float64(i0))
		l0, l1 := in[i0*2], in[(i0+1)*2]
		r0, r1 := in[i0*2+1], in[(i0+1)*2+1]
		out[i*2] = l0 + (l1-l0)*f
		out[i*2+1] = r0 + (r1-r0)*f
	}
	end := r.frac + float64(nOut)*ratio
	r.frac = end - float64(int(end))
	return out
}
