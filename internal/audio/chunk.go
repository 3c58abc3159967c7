package audio

// Chunk is 200 ms worth of internal-format samples, the unit of scheduling
// handed from the VM producer to the output scheduler (Component A).
type Chunk struct {
	StartTSMs     int64 // wall-clock ms at which the chunk's playback window begins
	CreatedTSMs   int64 // wall-clock ms at allocation, for diagnostics
	SamplesStartNS int64 // nanosecond anchor for the chunk's first sample
	SrcFreqHz     uint32
	Capacity      int
	WriteIdx      int
	IsFirst       bool
	Buffer        []Sample
}

func newChunk(startTSMs, createdTSMs int64, samplesStartNS int64, srcFreqHz uint32, isFirst bool) *Chunk {
	capacity := int(uint64(srcFreqHz) * ChunkMS / 1000)
	return &Chunk{
		StartTSMs:      startTSMs,
		CreatedTSMs:    createdTSMs,
		SamplesStartNS: samplesStartNS,
		SrcFreqHz:      srcFreqHz,
		Capacity:       capacity,
		Buffer:         make([]Sample, capacity),
		IsFirst:        isFirst,
	}
}

// Full reports whether the chunk has no remaining room.
func (c *Chunk) Full() bool {
	return c.WriteIdx >= c.Capacity
}

// fill copies as many samples from src into the chunk's remaining capacity
// as will fit, returning the number consumed.
func (c *Chunk) fill(src []Sample) int {
	room := c.Capacity - c.WriteIdx
	if room <= 0 {
		return 0
	}
	n := len(src)
	if n > room {
		n = room
	}
	copy(c.Buffer[c.WriteIdx:c.WriteIdx+n], src[:n])
	c.WriteIdx += n
	return n
}

// due reports whether the chunk's release time (§4.1) has arrived.
// The first chunk of a stream is deferred by two intervals to prime
// clients; later chunks, including incomplete tails, release after one.
func (c *Chunk) due(nowMs int64) bool {
	if c.IsFirst {
		return c.StartTSMs+2*ChunkMS <= nowMs
	}
	return c.StartTSMs+ChunkMS <= nowMs
}

// samples returns the written portion of the chunk's buffer.
func (c *Chunk) samples() []Sample {
	return c.Buffer[:c.WriteIdx]
}
