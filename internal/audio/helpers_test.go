package audio

import (
	"io"
	"log/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResampler is a passthrough Resampler for tests that don't care about
// actual rate conversion: it copies samples 1:1 up to len(out).
type fakeResampler struct {
	started  bool
	srcHz    uint32
	dstHz    uint32
	starveAt int // if > 0, Convert returns zero output once this many calls in
	calls    int
}

func (f *fakeResampler) Start(srcHz, dstHz uint32, lpf bool) error {
	f.started = true
	f.srcHz, f.dstHz = srcHz, dstHz
	return nil
}

func (f *fakeResampler) Update(srcHz, dstHz uint32) error {
	f.srcHz, f.dstHz = srcHz, dstHz
	return nil
}

func (f *fakeResampler) Convert(in []Sample, out []Sample) (int, int, error) {
	f.calls++
	if f.starveAt > 0 && f.calls == f.starveAt {
		return len(in), 0, nil
	}
	n := len(in)
	if n > len(out) {
		n = len(out)
	}
	copy(out[:n], in[:n])
	return len(in), n, nil
}

func (f *fakeResampler) Stop() {
	f.started = false
}
