package audio

import (
	"log/slog"

	"github.com/google/uuid"
)

// Server is the audio subsystem's composition root: AudioData (Engine) and
// the output scheduler, owned by the RDP server object rather than any
// process-global (§9 design notes). One Server exists per running VM.
type Server struct {
	logger    *slog.Logger
	Engine    *Engine
	Scheduler *Scheduler

	logPath    string
	logMaxDays int
	cleanup    *wavCleanup
}

// ServerOption configures optional Server behavior.
type ServerOption func(*Server)

// WithWAVDump enables per-client WAV capture under dir, matching
// Property/Audio/LogPath (§6), with files older than maxDays removed
// periodically.
func WithWAVDump(dir string, maxDays int) ServerOption {
	return func(s *Server) {
		s.logPath = dir
		s.logMaxDays = maxDays
	}
}

// NewServer constructs the subsystem singleton. modeFlags is
// Property/Audio/RateCorrectionMode's bitset.
func NewServer(modeFlags uint32, logger *slog.Logger, opts ...ServerOption) *Server {
	engine := NewEngine(modeFlags, newLibResampler(), logger)
	scheduler := NewScheduler(engine, logger)

	s := &Server{
		logger:    logger.With("subsystem", "audio-server"),
		Engine:    engine,
		Scheduler: scheduler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the output scheduler's periodic tick and, if configured, the
// WAV-dump retention cleanup goroutine.
func (s *Server) Start() {
	s.Scheduler.Start()
	if s.logPath != "" {
		s.cleanup = newWAVCleanup(s.logPath, s.logMaxDays, s.logger)
		s.cleanup.Start()
	}
}

// Stop tears the subsystem down: teardown sets the engine uninitialized
// (forcing subsequent SubmitSamples calls to no-op), stops the scheduler,
// and closes every client channel (§5 "Cancellation").
func (s *Server) Stop() {
	s.Engine.Shutdown()
	s.Scheduler.Stop()
	if s.cleanup != nil {
		s.cleanup.Stop()
	}
	s.Scheduler.clientsMu.RLock()
	defer s.Scheduler.clientsMu.RUnlock()
	for _, c := range s.Scheduler.clients {
		if err := c.Close(); err != nil {
			s.logger.Warn("error closing client on shutdown", "client_id", c.ID, "error", err)
		}
	}
}

// SubmitSamples is the VM producer's entry point (§6).
func (s *Server) SubmitSamples(samples []Sample, fmt AudioFormat, nowMs int64) {
	s.Engine.SubmitSamples(samples, fmt, nowMs)
}

// AddClient creates a new ClientChannel for a freshly connected client and
// begins negotiation. The client ID is a random UUID unless the caller
// provides one via id.
func (s *Server) AddClient(id string, transport Transport) (*ClientChannel, error) {
	if id == "" {
		id = uuid.NewString()
	}
	client := NewClientChannel(id, transport, s.Engine, s.logger)
	if s.logPath != "" {
		dump, err := newWAVDump(s.logPath, id, negotiatedFormat, s.logger)
		if err != nil {
			s.logger.Warn("wav dump disabled for client", "client_id", id, "error", err)
		} else {
			client.AttachDump(dump)
		}
	}

	s.Scheduler.AddClient(client)
	if err := client.Open(); err != nil {
		s.logger.Warn("client negotiate failed on open", "client_id", id, "error", err)
	}
	return client, nil
}

// RemoveClient tears down and unregisters a client.
func (s *Server) RemoveClient(id string) {
	s.Scheduler.clientsMu.RLock()
	client, ok := s.Scheduler.clients[id]
	s.Scheduler.clientsMu.RUnlock()
	if !ok {
		return
	}
	s.Scheduler.RemoveClient(id)
	if err := client.Close(); err != nil {
		s.logger.Warn("error closing removed client", "client_id", id, "error", err)
	}
}

// OnCompletion is the completion interface (transport -> core), delivered
// on the input actor (§6).
func (s *Server) OnCompletion(clientID string, confirmedBlockID uint8) {
	s.Scheduler.clientsMu.RLock()
	client, ok := s.Scheduler.clients[clientID]
	s.Scheduler.clientsMu.RUnlock()
	if !ok {
		return
	}
	client.OnCompletion(confirmedBlockID)
}

// ClientInfo is a point-in-time snapshot of one client channel, used by the
// admin HTTP debug endpoint and by the metrics collector (§9 supplement:
// neither needs to reach into ClientChannel's internals directly).
type ClientInfo struct {
	ID                string
	State             string
	RingOccupancyBytes int
	BlockIDLag        int
	QueueDepth        uint32
	PacketsToSkip     int32
}

// ClientSnapshots returns a stats snapshot for every registered client,
// open or not.
func (s *Server) ClientSnapshots() []ClientInfo {
	s.Scheduler.clientsMu.RLock()
	defer s.Scheduler.clientsMu.RUnlock()

	out := make([]ClientInfo, 0, len(s.Scheduler.clients))
	for _, c := range s.Scheduler.clients {
		out = append(out, ClientInfo{
			ID:                 c.ID,
			State:              c.State().String(),
			RingOccupancyBytes: c.RingOccupancy(),
			BlockIDLag:         c.BlockIDLag(),
			QueueDepth:         c.QueueDepth(),
			PacketsToSkip:      c.packetsToSkip.Load(),
		})
	}
	return out
}

// OnNegotiateReply dispatches a client's NEGOTIATE reply by client ID.
func (s *Server) OnNegotiateReply(clientID string, body []byte) error {
	s.Scheduler.clientsMu.RLock()
	client, ok := s.Scheduler.clients[clientID]
	s.Scheduler.clientsMu.RUnlock()
	if !ok {
		return newError(ErrProtocolViolation, "negotiate reply for unknown client %q", clientID)
	}
	return client.OnNegotiateReply(body)
}
