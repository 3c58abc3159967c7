package audio

import (
	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler is the rational-rate conversion kernel the core treats as a
// black box per §1: it owns the low-pass filter and rate-conversion state
// and is driven entirely through this four-method seam. internal/audio
// never reaches into github.com/tphakala/go-audio-resampler directly
// outside this file, mirroring how the teacher keeps codec tables behind
// a narrow API in media.Relay.
type Resampler interface {
	Start(srcHz, dstHz uint32, lowPassFilter bool) error
	Update(srcHz, dstHz uint32) error
	Convert(in []Sample, out []Sample) (nIn int, nOut int, err error)
	Stop()
}

// libResampler adapts github.com/tphakala/go-audio-resampler to the
// Resampler seam. The underlying library operates on interleaved float64
// frames; this wrapper owns the int32<->float64 conversion buffers so the
// rest of the package only ever sees Sample values.
type libResampler struct {
	conv   *resampler.Converter
	srcHz  uint32
	dstHz  uint32
	lpf    bool
	inBuf  []float64
	outBuf []float64
}

// newLibResampler constructs an unstarted wrapper. Start must be called
// before Convert.
func newLibResampler() Resampler {
	return &libResampler{}
}

func (r *libResampler) Start(srcHz, dstHz uint32, lowPassFilter bool) error {
	conv, err := resampler.New(resampler.Config{
		Channels:      2,
		SourceRate:    int(srcHz),
		TargetRate:    int(dstHz),
		LowPassFilter: lowPassFilter,
	})
	if err != nil {
		return newError(ErrResourceExhaustion, "starting resampler %d->%d: %v", srcHz, dstHz, err)
	}
	r.conv = conv
	r.srcHz, r.dstHz, r.lpf = srcHz, dstHz, lowPassFilter
	return nil
}

func (r *libResampler) Update(srcHz, dstHz uint32) error {
	if r.conv == nil {
		return r.Start(srcHz, dstHz, r.lpf)
	}
	if srcHz == r.srcHz && dstHz == r.dstHz {
		return nil
	}
	if err := r.conv.SetRates(int(srcHz), int(dstHz)); err != nil {
		return newError(ErrResourceExhaustion, "updating resampler rates to %d->%d: %v", srcHz, dstHz, err)
	}
	r.srcHz, r.dstHz = srcHz, dstHz
	return nil
}

func (r *libResampler) Convert(in []Sample, out []Sample) (int, int, error) {
	if r.conv == nil {
		return 0, 0, newError(ErrResourceExhaustion, "convert called before start")
	}
	if cap(r.inBuf) < len(in)*2 {
		r.inBuf = make([]float64, len(in)*2)
	}
	inBuf := r.inBuf[:len(in)*2]
	for i, s := range in {
		inBuf[2*i] = float64(s.Left) / float64(1<<31)
		inBuf[2*i+1] = float64(s.Right) / float64(1<<31)
	}

	if cap(r.outBuf) < len(out)*2 {
		r.outBuf = make([]float64, len(out)*2)
	}
	outBuf := r.outBuf[:len(out)*2]

	nIn, nOut, err := r.conv.Process(inBuf, outBuf)
	if err != nil {
		return 0, 0, newError(ErrResourceExhaustion, "resampler convert: %v", err)
	}
	for i := 0; i < nOut && i < len(out); i++ {
		out[i].Left = int32(outBuf[2*i] * float64(1<<31))
		out[i].Right = int32(outBuf[2*i+1] * float64(1<<31))
	}
	return nIn, nOut, nil
}

func (r *libResampler) Stop() {
	if r.conv != nil {
		r.conv.Close()
		r.conv = nil
	}
}
