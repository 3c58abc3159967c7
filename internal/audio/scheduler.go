package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// schedulerPeriodMs is the scheduler's nominal tick period, CHUNK_MS / 2 (§4.3).
const schedulerPeriodMs = ChunkMS / 2

// pauseThresholdMs is how long the chunk list must stay empty before the
// scheduler treats the stream as ended and emits the terminating NULL
// chunk (§4.3).
const pauseThresholdMs = 1000

// Scheduler is Component C: a single cooperative periodic task that
// dequeues due chunks, invokes the resampler, and broadcasts to every
// client, detecting end-of-stream and emitting a NULL-chunk termination.
type Scheduler struct {
	logger *slog.Logger
	engine *Engine

	clientsMu sync.RWMutex
	clients   map[string]*ClientChannel

	finished     bool
	finishedTSMs int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler bound to engine.
func NewScheduler(engine *Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:  logger.With("subsystem", "audio-scheduler"),
		engine:  engine,
		clients: make(map[string]*ClientChannel),
	}
}

// AddClient registers a client channel so future ticks broadcast to it.
func (s *Scheduler) AddClient(c *ClientChannel) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c.ID] = c
}

// RemoveClient unregisters a client channel.
func (s *Scheduler) RemoveClient(id string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, id)
}

// ForEachOutputClient invokes fn for every currently registered, open
// client channel (§6's client enumeration interface).
func (s *Scheduler) ForEachOutputClient(fn func(*ClientChannel)) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		if c.IsOpen() {
			fn(c)
		}
	}
}

// Start launches the periodic tick goroutine.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop signals the scheduler goroutine to stop and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(schedulerPeriodMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now.UnixMilli())
		}
	}
}

// tick runs one scheduler cycle at the given wall-clock timestamp (§4.3).
func (s *Scheduler) tick(eventMs int64) {
	if s.engine.Empty() {
		s.tickEmpty(eventMs)
		return
	}

	s.finished = false

	due := s.engine.DrainDue(eventMs)
	for _, chunk := range due {
		out := s.engine.convert(chunk)
		s.ForEachOutputClient(func(c *ClientChannel) {
			c.Enqueue(out, chunk.SamplesStartNS, false)
		})
	}

	if s.engine.Empty() {
		s.finished = true
		s.finishedTSMs = eventMs
	}
}

// tickEmpty handles the chunk-list-empty branch of §4.3 step 1: either the
// stream has been silent long enough to declare end-of-stream, or a
// keep-alive silence pulse is due.
func (s *Scheduler) tickEmpty(eventMs int64) {
	if s.finished && eventMs-s.finishedTSMs > pauseThresholdMs {
		s.finished = false
		s.ForEachOutputClient(func(c *ClientChannel) {
			c.Enqueue(nil, eventMs*int64(time.Millisecond), true)
		})
		s.engine.Reset()
		s.logger.Info("stream ended, null chunk broadcast and rate engine reset")
		return
	}

	s.ForEachOutputClient(func(c *ClientChannel) {
		c.Enqueue(nil, eventMs*int64(time.Millisecond), false)
	})
}
