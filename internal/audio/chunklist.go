package audio

// Component A: the chunk list. Both methods here assume the caller already
// holds the engine's audio_lock; they are not safe to call concurrently.

// appendSamples absorbs src into the chunk list, starting or restarting the
// resampler when the list is empty or the tail's source rate has changed,
// and splitting the input across chunk boundaries as needed (§4.1).
func (e *Engine) appendSamples(src []Sample, srcFreqHz uint32, nowMs int64) error {
	tail := e.tail()
	if tail == nil || tail.SrcFreqHz != srcFreqHz {
		if err := e.resampler.Start(srcFreqHz, e.targetFreqHz(), e.modeEnabled(ModeLowPassFilter)); err != nil {
			return err
		}
		startMs := nowMs
		isFirst := tail == nil
		if tail != nil {
			startMs = tail.StartTSMs + ChunkMS
		}
		tail = e.newTailChunk(startMs, nowMs, srcFreqHz, isFirst, len(src))
	}

	for len(src) > 0 {
		n := tail.fill(src)
		src = src[n:]
		if len(src) == 0 {
			break
		}
		tail = e.newTailChunk(tail.StartTSMs+ChunkMS, nowMs, srcFreqHz, false, len(src))
	}
	return nil
}

// newTailChunk allocates a chunk, computes its samples_start_ns anchor, and
// appends it to the list. pending is the number of submitted samples not yet
// absorbed; the first of them becomes the chunk's first sample, so the
// anchor is now minus their duration.
func (e *Engine) newTailChunk(startMs, nowMs int64, srcFreqHz uint32, isFirst bool, pending int) *Chunk {
	nowNS := nowMs * int64(1e6)
	samplesStartNS := nowNS - durationNS(uint64(pending), srcFreqHz)
	c := newChunk(startMs, nowMs, samplesStartNS, srcFreqHz, isFirst)
	e.chunks = append(e.chunks, c)
	return c
}

// tail returns the most recently allocated chunk, or nil if the list is empty.
func (e *Engine) tail() *Chunk {
	if len(e.chunks) == 0 {
		return nil
	}
	return e.chunks[len(e.chunks)-1]
}

// drainDue removes and returns every head chunk whose release time has
// arrived, in FIFO order (§4.1). The list head advances in place.
func (e *Engine) drainDue(nowMs int64) []*Chunk {
	var due []*Chunk
	i := 0
	for ; i < len(e.chunks); i++ {
		if !e.chunks[i].due(nowMs) {
			break
		}
		due = append(due, e.chunks[i])
	}
	if i > 0 {
		e.chunks = e.chunks[i:]
	}
	return due
}

// empty reports whether the chunk list currently holds no chunks.
func (e *Engine) empty() bool {
	return len(e.chunks) == 0
}
