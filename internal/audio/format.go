// Package audio implements the VRDP remote audio output subsystem: chunked
// buffering of guest PCM samples, adaptive rate correction, a periodic
// output scheduler, and per-client ring-buffered delivery over the static
// audio virtual channel.
package audio

import "time"

// Sample is a stereo frame in the internal format: two signed 32-bit
// channels, wide enough to avoid clipping during resampling. The pipeline
// carries it unchanged between the chunk list and the resampler.
type Sample struct {
	Left  int32
	Right int32
}

// BytesPerSample is the wire encoding width of one Sample: 2 channels of
// 16-bit signed PCM, little-endian.
const BytesPerSample = 4

// AudioFormat describes the external (wire) format of a stream of samples.
// Only SampleRateHz varies at runtime; the rest are fixed by the protocol.
type AudioFormat struct {
	SampleRateHz  uint32
	Channels      uint16
	BitsPerSample uint16
	Signed        bool
}

// Validate checks that fmt describes a format this subsystem can ingest.
func (f AudioFormat) Validate() error {
	if f.Channels != 2 {
		return errInvalidFormat("channels must be 2, got %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return errInvalidFormat("bits_per_sample must be 16, got %d", f.BitsPerSample)
	}
	if f.SampleRateHz == 0 {
		return errInvalidFormat("sample_rate_hz must be non-zero")
	}
	return nil
}

// Internal format constants (§6). These must not be altered without a
// protocol recut: clients negotiate exactly this format.
const (
	InternalFreqHz    = 22050
	ChunkMS           = 200
	OutputBlockSize   = 8192
	RateWindowNS      = 2 * time.Second
	rateHistoryLen    = 8
	rateClampHz       = 20
	freqDeltaStepHz   = 50
	clientSyncLowWM   = 3
	clientSyncHighWM  = 5
	queueLimitFloor   = 8
	skipOverflowTrig  = 4
	skipBurst         = 4
)

func durationNS(samples uint64, freqHz uint32) int64 {
	if freqHz == 0 {
		return 0
	}
	return int64(samples) * int64(time.Second) / int64(freqHz)
}
