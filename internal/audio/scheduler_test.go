package audio

import "testing"

// TestSchedulerPauseDetectionBroadcastsNullEnd exercises concrete scenario 6
// (§8): once the chunk list has been empty for more than pauseThresholdMs,
// the next tick broadcasts a NULL chunk with is_end=true and resets the
// rate-correction engine.
func TestSchedulerPauseDetectionBroadcastsNullEnd(t *testing.T) {
	engine := NewEngine(ModeClientSync, &fakeResampler{}, testLogger())
	sched := NewScheduler(engine, testLogger())

	transport := NewLoopbackTransport()
	client := NewClientChannel("c1", transport, engine, testLogger())
	if err := client.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := client.OnNegotiateReply([]byte{1, 1}); err != nil {
		t.Fatalf("OnNegotiateReply: %v", err)
	}
	sched.AddClient(client)

	// Submit and drain one chunk so the scheduler actually transitions
	// through a real stream before it goes idle: finished only becomes
	// true after a non-empty list is fully drained (§4.3), never merely
	// because the list started out empty.
	fmt := AudioFormat{SampleRateHz: InternalFreqHz, Channels: 2, BitsPerSample: 16, Signed: true}
	engine.SubmitSamples(make([]Sample, InternalFreqHz*ChunkMS/1000), fmt, 0)
	sched.tick(2 * ChunkMS)
	if !sched.finished {
		t.Fatal("scheduler should mark finished once the single chunk has drained")
	}
	finishedAt := sched.finishedTSMs

	engine.OnClientQueueDepth(8)
	engine.OnClientQueueDepth(6) // nonzero freq_delta before the reset
	if engine.FreqDelta() == 0 {
		t.Fatal("test setup: expected nonzero freq_delta before pause reset")
	}

	sched.tick(finishedAt + 500) // within the 1000ms pause threshold: silence pulse only
	if !sched.finished {
		t.Error("finished flag should remain set before the pause threshold elapses")
	}

	sched.tick(finishedAt + 1002) // past the threshold: end-of-stream broadcast
	if sched.finished {
		t.Error("finished flag should clear once the end-of-stream broadcast fires")
	}
	if engine.FreqDelta() != 0 {
		t.Error("rate-correction state should reset once the stream is declared ended")
	}
}

func TestSchedulerDrainsDueChunks(t *testing.T) {
	engine := NewEngine(ModeRateCorrection, &fakeResampler{}, testLogger())
	sched := NewScheduler(engine, testLogger())

	transport := NewLoopbackTransport()
	client := NewClientChannel("c1", transport, engine, testLogger())
	if err := client.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := client.OnNegotiateReply([]byte{1, 1}); err != nil {
		t.Fatalf("OnNegotiateReply: %v", err)
	}
	sched.AddClient(client)

	fmt := AudioFormat{SampleRateHz: InternalFreqHz, Channels: 2, BitsPerSample: 16, Signed: true}
	samples := make([]Sample, InternalFreqHz*ChunkMS/1000)
	engine.SubmitSamples(samples, fmt, 0)

	sched.tick(2 * ChunkMS) // first chunk is due after two intervals

	if client.State() != StateStreaming && client.State() != StateDraining {
		t.Fatalf("client state = %v, want streaming after receiving its first chunk", client.State())
	}
}
