package audio

import "testing"

func newTestClient(t *testing.T) (*ClientChannel, *loopbackTransportHandle) {
	t.Helper()
	transport := NewLoopbackTransport()
	engine := NewEngine(ModeRateCorrection, &fakeResampler{}, testLogger())
	c := NewClientChannel("client-1", transport, engine, testLogger())
	return c, transport
}

func negotiateClient(t *testing.T, c *ClientChannel) {
	t.Helper()
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.OnNegotiateReply([]byte{1, 1}); err != nil {
		t.Fatalf("OnNegotiateReply: %v", err)
	}
	if c.State() != StateNegotiated {
		t.Fatalf("state = %v, want negotiated", c.State())
	}
}

func TestNegotiateAcceptTransitionsToNegotiated(t *testing.T) {
	c, transport := newTestClient(t)
	negotiateClient(t, c)

	packets := transport.Packets()
	if len(packets) != 2 {
		t.Fatalf("expected NEGOTIATE + SET_VOLUME, got %d packets", len(packets))
	}
	if MessageType(packets[0][0]) != MsgNegotiate {
		t.Errorf("first packet type = %#x, want NEGOTIATE", packets[0][0])
	}
	if MessageType(packets[1][0]) != MsgSetVolume {
		t.Errorf("second packet type = %#x, want SET_VOLUME", packets[1][0])
	}
}

func TestNegotiateRejectResetsToClosed(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.OnNegotiateReply([]byte{2, 1}); err == nil {
		t.Fatal("expected protocol violation error for numFormats != 1")
	}
	if c.State() != StateClosed {
		t.Fatalf("state = %v, want closed after rejected negotiate", c.State())
	}
}

// TestRingNeverExceedsCapacityMinusFour exercises P3: bytes-in-ring never
// exceeds RING_BYTES - 4, by forcing an oversized enqueue to be dropped.
func TestRingNeverExceedsCapacityMinusFour(t *testing.T) {
	c, _ := newTestClient(t)
	negotiateClient(t, c)

	huge := make([]Sample, RingBytes) // far larger than ring capacity in bytes
	c.Enqueue(huge, 0, false)

	if occ := c.RingOccupancy(); occ > RingBytes-4 {
		t.Fatalf("P3 violated: bytes-in-ring = %d, want <= %d", occ, RingBytes-4)
	}
}

// TestBlockIDMonotonicity exercises P4: within a stream, block_id_last_sent
// advances by 1 (mod 256) for every successfully transmitted WRITE.
func TestBlockIDMonotonicity(t *testing.T) {
	c, transport := newTestClient(t)
	negotiateClient(t, c)

	// First two enqueues stay in the accumulating phase; feed enough
	// samples across several enqueues to produce multiple WRITE packets.
	chunkSamples := make([]Sample, OutputBlockSize/BytesPerSample)
	for i := 0; i < 5; i++ {
		c.Enqueue(chunkSamples, int64(i)*1e6, false)
	}

	var blockIDs []uint8
	for _, pkt := range transport.Packets() {
		if MessageType(pkt[0]) == MsgWrite {
			blockIDs = append(blockIDs, pkt[3])
		}
	}
	if len(blockIDs) < 2 {
		t.Fatalf("expected at least 2 WRITE packets, got %d", len(blockIDs))
	}
	for i := 1; i < len(blockIDs); i++ {
		want := blockIDs[i-1] + 1
		if blockIDs[i] != want {
			t.Errorf("block id %d follows %d, want %d (P4 mod-256 monotonicity)", blockIDs[i], blockIDs[i-1], want)
		}
	}
}

// TestCloseOrderingWaitsForConfirmation exercises P5: CLOSE is emitted iff
// every preceding WRITE's block ID has been confirmed.
func TestCloseOrderingWaitsForConfirmation(t *testing.T) {
	c, transport := newTestClient(t)
	negotiateClient(t, c)

	chunkSamples := make([]Sample, OutputBlockSize/BytesPerSample)
	c.Enqueue(chunkSamples, 0, false)
	c.Enqueue(chunkSamples, 0, true) // is_end: drains ring, transitions to draining

	if c.State() != StateDraining {
		t.Fatalf("state = %v, want draining after is_end enqueue", c.State())
	}

	for _, pkt := range transport.Packets() {
		if MessageType(pkt[0]) == MsgClose {
			t.Fatal("CLOSE emitted before all WRITEs were confirmed")
		}
	}
	if !c.pendingClose {
		t.Fatal("expected pending_close to be set")
	}

	// OnCompletion runs on the input actor and only ever updates the
	// confirmed-block atomic; it must never emit CLOSE itself (that would
	// race a concurrent WRITE from the output actor). The close is only
	// observed and emitted on the output actor's next pass.
	c.OnCompletion(c.blockIDLastSent)
	if c.State() != StateDraining {
		t.Fatalf("state = %v, want still draining immediately after OnCompletion (CLOSE belongs to the output actor)", c.State())
	}

	c.Enqueue(nil, 0, false) // next output-actor tick picks up the confirmation

	if c.pendingClose {
		t.Fatal("pending_close should be cleared once the last block is confirmed")
	}
	if c.State() != StateOpen {
		t.Fatalf("state = %v, want open after close handshake completes", c.State())
	}

	closes := 0
	for _, pkt := range transport.Packets() {
		if MessageType(pkt[0]) == MsgClose {
			closes++
		}
	}
	if closes != 1 {
		t.Fatal("expected exactly one CLOSE frame after confirmation")
	}
}

// TestSkipRecovery exercises P7: a COMPLETION reporting diff > queue_limit+4
// drops exactly four subsequent packets, then the fifth transmits normally.
func TestSkipRecovery(t *testing.T) {
	c, transport := newTestClient(t)
	negotiateClient(t, c)

	// Warm up queue_stats to a known baseline so queue_limit settles at
	// queueLimitFloor (8).
	for i := 0; i < queueStatsLen; i++ {
		c.blockIDNext = uint8(i + 1)
		c.OnCompletion(0)
	}
	if c.queueLimit != queueLimitFloor {
		t.Fatalf("queue_limit = %d, want %d after warm-up", c.queueLimit, queueLimitFloor)
	}

	// Push diff to queue_limit + 5 (overflow = 5 > 4): triggers a 4-packet skip.
	c.blockIDNext = uint8(queueLimitFloor + 5)
	c.OnCompletion(0)
	if c.packetsToSkip.Load() != skipBurst {
		t.Fatalf("packets_to_skip = %d, want %d after overflow", c.packetsToSkip.Load(), skipBurst)
	}

	c.accumulating = false // bypass the initial-buffering defer for this check
	chunkSamples := make([]Sample, 5*OutputBlockSize/BytesPerSample)
	before := len(transport.Packets())
	c.Enqueue(chunkSamples, 0, false)
	after := transport.Packets()

	var writes int
	for _, pkt := range after[before:] {
		if MessageType(pkt[0]) == MsgWrite {
			writes++
		}
	}
	if writes != 1 {
		t.Fatalf("expected exactly 1 transmitted WRITE out of 5 packets worth of data (4 skipped), got %d", writes)
	}
	if c.packetsToSkip.Load() != 0 {
		t.Fatalf("packets_to_skip = %d, want 0 after the skip burst is consumed", c.packetsToSkip.Load())
	}
}
