package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Mode bits for Property/Audio/RateCorrectionMode, mirrored from
// internal/config so this package does not import the config package back.
const (
	ModeRateCorrection uint32 = 1 << iota
	ModeLowPassFilter
	ModeClientSync
)

// Engine is AudioData (§3): the process-wide, server-owned singleton that
// holds the chunk list (Component A) and the rate-correction state
// (Component B) behind one mutex, plus the handful of fields mutated
// cross-actor via atomics instead (§5, §9 design notes).
//
// audio_lock guards everything in the "locked" block below: the chunk
// list and the resampler handle. freqDelta and lastClientQueueDepth are
// mutated from the input actor (via OnClientQueueDepth) without ever
// taking the lock, per the design notes' atomics split.
type Engine struct {
	logger *slog.Logger

	mu sync.Mutex
	// --- locked block ---
	chunks            []*Chunk
	dstFreqHz         uint32
	modeFlags         uint32
	rateStarted       bool
	rateWindowStartNS int64
	rateWindowSmplNS  int64
	dstFreqHistory    []uint32 // ring of at most rateHistoryLen entries
	resampler         Resampler
	initialized       bool
	// --- end locked block ---

	freqDelta             atomic.Int64
	lastClientQueueDepth  atomic.Uint32
	starvedConversions    atomic.Uint64
}

// NewEngine constructs an Engine with the given mode bitset (§6's
// Property/Audio/RateCorrectionMode) and a resampler implementation.
func NewEngine(modeFlags uint32, resampler Resampler, logger *slog.Logger) *Engine {
	return &Engine{
		logger:      logger.With("subsystem", "audio-engine"),
		dstFreqHz:   InternalFreqHz,
		modeFlags:   modeFlags,
		resampler:   resampler,
		initialized: true,
	}
}

func (e *Engine) modeEnabled(bit uint32) bool {
	return e.modeFlags&bit != 0
}

// targetFreqHz is dst_freq_hz + freq_delta, the value always handed to the
// resampler's update call. Caller must hold e.mu.
func (e *Engine) targetFreqHz() uint32 {
	target := int64(e.dstFreqHz) + e.freqDelta.Load()
	if target < 1 {
		target = 1
	}
	return uint32(target)
}

// SubmitSamples is the VM producer's only entry point (§6). It appends the
// samples to the chunk list and runs Loop 1 of the rate-correction engine.
// No error is ever returned to the caller: failures are logged and the
// input dropped, per §7's ignore-on-drop policy.
func (e *Engine) SubmitSamples(samples []Sample, fmt AudioFormat, nowMs int64) {
	if err := fmt.Validate(); err != nil {
		e.logger.Warn("dropping submission with invalid format", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}

	if err := e.appendSamples(samples, fmt.SampleRateHz, nowMs); err != nil {
		e.logger.Warn("dropping submission", "error", err, "samples", len(samples))
		return
	}

	e.runSourceRateLoop(uint64(len(samples)), fmt.SampleRateHz, nowMs)

	if err := e.resampler.Update(fmt.SampleRateHz, e.targetFreqHz()); err != nil {
		e.logger.Warn("resampler update failed", "error", err)
	}
}

// runSourceRateLoop is Loop 1 (§4.2), invoked once per submission while
// e.mu is held.
func (e *Engine) runSourceRateLoop(nSamples uint64, srcFreqHz uint32, nowMs int64) {
	if !e.modeEnabled(ModeRateCorrection) {
		return
	}

	nowNS := nowMs * int64(1e6)
	durNS := durationNS(nSamples, srcFreqHz)

	if !e.rateStarted {
		e.rateStarted = true
		e.rateWindowStartNS = nowNS
		e.rateWindowSmplNS = durNS
		return
	}

	e.rateWindowSmplNS += durNS
	elapsed := nowNS - e.rateWindowStartNS
	if elapsed < int64(RateWindowNS) {
		return
	}
	if e.rateWindowSmplNS <= 0 {
		e.rateWindowStartNS = nowNS
		e.rateWindowSmplNS = 0
		return
	}

	estimate := int64(InternalFreqHz) * elapsed / e.rateWindowSmplNS
	estimate = clampInt64(estimate, InternalFreqHz-rateClampHz, InternalFreqHz+rateClampHz)

	e.dstFreqHistory = append(e.dstFreqHistory, uint32(estimate))
	if len(e.dstFreqHistory) > rateHistoryLen {
		e.dstFreqHistory = e.dstFreqHistory[len(e.dstFreqHistory)-rateHistoryLen:]
	}
	if len(e.dstFreqHistory) == rateHistoryLen {
		var sum uint64
		for _, v := range e.dstFreqHistory {
			sum += uint64(v)
		}
		e.dstFreqHz = uint32(sum / rateHistoryLen)
	}

	e.rateWindowStartNS = nowNS
	e.rateWindowSmplNS = durNS
}

// OnClientQueueDepth is Loop 2 (§4.2), the client-sync controller. It runs
// on the input actor via the completion path and mutates freqDelta purely
// through atomics; it never takes audio_lock.
func (e *Engine) OnClientQueueDepth(depth uint32) {
	if !e.modeEnabled(ModeClientSync) {
		e.lastClientQueueDepth.Store(depth)
		return
	}

	last := e.lastClientQueueDepth.Swap(depth)
	if last == 0 {
		return
	}

	switch {
	case depth < clientSyncLowWM && depth > last:
		e.freqDelta.Add(freqDeltaStepHz)
	case depth > clientSyncHighWM && depth < last:
		e.freqDelta.Add(-freqDeltaStepHz)
	}
}

// DrainDue is called by the output scheduler once per tick to take
// ownership of every chunk whose release time has arrived (§4.1, §4.3).
func (e *Engine) DrainDue(nowMs int64) []*Chunk {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drainDue(nowMs)
}

// Empty reports whether the chunk list is currently empty.
func (e *Engine) Empty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.empty()
}

// DstFreqHz returns the current published target rate, for metrics.
func (e *Engine) DstFreqHz() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dstFreqHz
}

// FreqDelta returns the current client-sync offset, for metrics.
func (e *Engine) FreqDelta() int64 {
	return e.freqDelta.Load()
}

// recordStarvedConversion counts a resampler call that produced zero output
// samples, surfaced as the StarvedConversions metric (§9 supplement, from
// the original's AudioConvertSamples starvation diagnostic).
func (e *Engine) recordStarvedConversion() {
	e.starvedConversions.Add(1)
}

// StarvedConversions returns the running count, for metrics.
func (e *Engine) StarvedConversions() uint64 {
	return e.starvedConversions.Load()
}

// reset clears rate-correction state on stream end (§4.2 "Reset") and stops
// the resampler. Called by the scheduler while holding e.mu.
func (e *Engine) reset() {
	e.dstFreqHistory = e.dstFreqHistory[:0]
	e.rateStarted = false
	e.rateWindowStartNS = 0
	e.rateWindowSmplNS = 0
	e.freqDelta.Store(0)
	e.lastClientQueueDepth.Store(0)
	e.resampler.Stop()
}

// Reset runs reset() under the lock; exported for the scheduler.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

// Shutdown marks the engine uninitialized, forcing subsequent
// SubmitSamples calls to no-op, and frees outstanding chunks synchronously
// (§5 "Cancellation").
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	e.chunks = nil
	e.resampler.Stop()
}

// convert runs the resampler over chunk and returns the converted samples.
// It must be called without holding e.mu (§5: critical sections never
// cover I/O or the resampler call). The output buffer holds the larger of
// len(in) and the source->target rate ratio's output count, plus a small
// margin: len(in)+margin alone only covers down-sampling (e.g.
// 44100->22050) and would truncate the resampler's output when the guest
// rate is below dst_freq_hz (e.g. an 11025 Hz source up-sampling to ~22050).
func (e *Engine) convert(chunk *Chunk) []Sample {
	in := chunk.samples()
	if len(in) == 0 {
		return nil
	}

	target := int64(e.DstFreqHz()) + e.freqDelta.Load()
	if target < 1 {
		target = 1
	}
	outCap := len(in)*int(target)/int(chunk.SrcFreqHz) + 1
	if outCap < len(in) {
		outCap = len(in)
	}
	outCap += rateHistoryLen

	out := make([]Sample, outCap)
	_, nOut, err := e.resampler.Convert(in, out)
	if err != nil {
		e.logger.Warn("resampler convert failed", "error", err)
		return nil
	}
	if nOut == 0 {
		e.recordStarvedConversion()
	}
	return out[:nOut]
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
