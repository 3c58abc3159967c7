package audio

import (
	"encoding/binary"
	"log/slog"
	"sync/atomic"
)

// RingBytes is the per-client output ring size (§6: implementation-defined,
// >= 64 KiB, multiple of 4).
const RingBytes = 128 * 1024

const queueStatsLen = 8

// ClientState is the RDP audio negotiation state machine (§3, §4.4).
type ClientState int32

const (
	StateClosed ClientState = iota
	StateOpen
	StateNegotiated
	StateStreaming
	StateDraining
)

func (s ClientState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateNegotiated:
		return "negotiated"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// ClientChannel is Component D: one per connected client, owning its ring
// buffer exclusively (only ever touched from the output actor), the
// negotiation state machine, the block-ID sequencer, and the skip/close
// post-conditions.
//
// Cross-actor mutation runs entirely through the atomics below
// (blockIDLastConfirmed, packetsToSkip) per §5/§9: COMPLETION arrives on
// the input actor and never takes any lock shared with the output actor.
type ClientChannel struct {
	ID        string
	logger    *slog.Logger
	transport Transport
	engine    *Engine
	dump      *WAVDump // optional, nil when Property/Audio/LogPath is unset

	state atomic.Int32 // ClientState

	ring        []byte
	readCursor  int
	writeCursor int

	timeRefPos int
	timeRefNS  int64

	blockIDNext      uint8
	blockIDLastSent  uint8 // output-actor-owned; never read by OnCompletion
	pendingClose     bool  // output-actor-owned; never read or cleared by OnCompletion
	accumulating     bool

	blockIDLastConfirmed atomic.Uint32 // holds a uint8 value, -1 sentinel unused: starts equal to blockIDNext
	packetsToSkip        atomic.Int32

	queueStats   []uint32
	queueLimit   uint32
}

// NewClientChannel constructs a channel in the CLOSED state.
func NewClientChannel(id string, transport Transport, engine *Engine, logger *slog.Logger) *ClientChannel {
	c := &ClientChannel{
		ID:           id,
		logger:       logger.With("subsystem", "audio-client", "client_id", id),
		transport:    transport,
		engine:       engine,
		ring:         make([]byte, RingBytes),
		accumulating: true,
	}
	c.state.Store(int32(StateClosed))
	return c
}

// State returns the channel's current negotiation state.
func (c *ClientChannel) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *ClientChannel) setState(s ClientState) {
	c.state.Store(int32(s))
}

// AttachDump enables WAV capture of every byte this channel sends.
func (c *ClientChannel) AttachDump(d *WAVDump) {
	c.dump = d
}

// Open transitions CLOSED -> OPEN when the transport attaches the channel,
// then immediately starts negotiation.
func (c *ClientChannel) Open() error {
	c.setState(StateOpen)
	return c.negotiate()
}

// negotiate sends the NEGOTIATE request advertising the one internal
// format, per §4.4's "OPEN -> negotiating" transition.
func (c *ClientChannel) negotiate() error {
	last := c.blockIDNext
	pkt := encodeNegotiate(last)
	c.blockIDNext++
	c.blockIDLastConfirmed.Store(uint32(last))
	if err := c.transport.Send(pkt); err != nil {
		c.logger.Warn("negotiate send failed", "error", err)
		return newError(ErrClientBackpressure, "sending negotiate: %v", err)
	}
	return nil
}

// OnNegotiateReply processes the client's NEGOTIATE reply. Acceptance
// moves the channel to NEGOTIATED and sends the fixed-volume SET_VOLUME;
// anything else resets the channel to CLOSED, drops the transport, and is a
// protocol violation.
func (c *ClientChannel) OnNegotiateReply(body []byte) error {
	reply, err := parseNegotiateReply(body)
	if err != nil {
		c.setState(StateClosed)
		c.transport.Close()
		c.logger.Warn("protocol violation on negotiate reply", "error", err)
		return err
	}
	if reply.NumFormats != 1 || !reply.Accepted {
		c.setState(StateClosed)
		c.transport.Close()
		err := newError(ErrProtocolViolation, "negotiate reply rejected or malformed: %+v", reply)
		c.logger.Warn("negotiate rejected", "error", err)
		return err
	}

	c.setState(StateNegotiated)
	if err := c.transport.Send(encodeSetVolume(FullScaleVolume)); err != nil {
		c.logger.Warn("set_volume send failed", "error", err)
	}
	return nil
}

// Enqueue is called by the scheduler for each client on every tick that
// has output to deliver (§4.4).
func (c *ClientChannel) Enqueue(samples []Sample, samplesStartNS int64, isEnd bool) {
	if c.State() == StateClosed {
		return
	}

	if len(samples) > 0 {
		c.pendingClose = false
		c.writeSamples(samples, samplesStartNS)
	}

	if c.State() == StateNegotiated {
		c.setState(StateStreaming)
	}

	if c.accumulating {
		c.accumulating = false
		// Still the output actor's turn: a close confirmed while this
		// client was priming its initial buffer must not wait for the
		// next real sendReady call.
		c.checkPendingClose()
	} else {
		c.sendReady(false)
	}

	if isEnd {
		c.sendReady(true)
		c.accumulating = true
		if c.State() == StateStreaming {
			c.setState(StateDraining)
		}
	}
}

// writeSamples converts samples to wire format and copies them into the
// ring, dropping the whole input if it would not fit (§4.4 step 2, §7.3).
func (c *ClientChannel) writeSamples(samples []Sample, samplesStartNS int64) {
	bytesNeeded := len(samples) * BytesPerSample
	if bytesNeeded >= c.ringFree() {
		c.logger.Warn("ring overflow, dropping enqueue", "bytes_needed", bytesNeeded, "ring_free", c.ringFree())
		return
	}

	buf := make([]byte, bytesNeeded)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(int16(s.Left>>16)))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(int16(s.Right>>16)))
	}
	c.writeRing(buf)

	c.timeRefPos = c.writeCursor
	c.timeRefNS = samplesStartNS
}

func (c *ClientChannel) bytesInRing() int {
	return mod(c.writeCursor-c.readCursor, RingBytes)
}

func (c *ClientChannel) ringFree() int {
	return RingBytes - 4 - c.bytesInRing()
}

func (c *ClientChannel) writeRing(data []byte) {
	n := copy(c.ring[c.writeCursor:], data)
	if n < len(data) {
		copy(c.ring[0:], data[n:])
	}
	c.writeCursor = mod(c.writeCursor+len(data), RingBytes)
}

// consumeRing copies out n bytes starting at readCursor and advances it,
// without transmitting them.
func (c *ClientChannel) consumeRing(n int) []byte {
	out := make([]byte, n)
	m := copy(out, c.ring[c.readCursor:])
	if m < n {
		copy(out[m:], c.ring[0:])
	}
	c.readCursor = mod(c.readCursor+n, RingBytes)
	return out
}

func mod(v, m int) int {
	v %= m
	if v < 0 {
		v += m
	}
	return v
}

// sendReady drains the ring in OUTPUT_BLOCK_SIZE packets (§4.4).
func (c *ClientChannel) sendReady(isLast bool) {
	sentFull := false

	for c.bytesInRing() > 0 {
		bytesThisPkt := c.bytesInRing()
		if bytesThisPkt > OutputBlockSize {
			bytesThisPkt = OutputBlockSize
		}

		short := bytesThisPkt < OutputBlockSize
		if short && sentFull && !isLast {
			break
		}

		distBytes := mod(c.timeRefPos-c.readCursor, RingBytes)
		pktStartNS := c.timeRefNS - durationNS(uint64(distBytes/BytesPerSample), InternalFreqHz)
		pktEndNS := pktStartNS + durationNS(uint64(bytesThisPkt/BytesPerSample), InternalFreqHz)

		payload := c.consumeRing(bytesThisPkt)

		if c.packetsToSkip.Load() > 0 {
			c.packetsToSkip.Add(-1)
		} else {
			c.transmitWrite(payload, pktStartNS, pktEndNS)
		}

		if !short {
			sentFull = true
		}
	}

	if isLast {
		c.pendingClose = true
	}
	c.checkPendingClose()
}

// checkPendingClose emits CLOSE once the output actor's own record of the
// last block it sent (blockIDLastSent) matches block_id_last_confirmed, the
// one piece of close-handshake state COMPLETION is allowed to touch (§5,
// §9). Called from the output actor on every sendReady, so a confirmation
// that lands after the final WRITE is still picked up on a later tick
// instead of being emitted from the input actor's goroutine.
func (c *ClientChannel) checkPendingClose() {
	if c.pendingClose && c.blockIDLastConfirmed.Load() == uint32(c.blockIDLastSent) {
		c.emitClose()
	}
}

func (c *ClientChannel) transmitWrite(payload []byte, pktStartNS, pktEndNS int64) {
	var first4 [4]byte
	copy(first4[:], payload)

	blockID := c.blockIDNext
	pkt := encodeWrite(blockID, len(payload), first4)

	if err := c.transport.Send(pkt); err != nil {
		c.logger.Warn("write header send failed", "error", err, "block_id", blockID)
		return
	}
	if len(payload) > 4 {
		if err := c.transport.Send(payload[4:]); err != nil {
			c.logger.Warn("write payload send failed", "error", err, "block_id", blockID)
			return
		}
	}
	if c.dump != nil {
		c.dump.Write(payload)
	}

	c.blockIDLastSent = blockID
	c.blockIDNext = blockID + 1

	c.logger.Debug("write packet sent",
		"block_id", blockID,
		"bytes", len(payload),
		"pkt_start_ns", pktStartNS,
		"pkt_end_ns", pktEndNS,
	)
}

func (c *ClientChannel) emitClose() {
	if err := c.transport.Send(encodeClose()); err != nil {
		c.logger.Warn("close send failed", "error", err)
	}
	c.pendingClose = false
	c.setState(StateOpen)
}

// OnCompletion processes a COMPLETION message (§4.4), run on the input
// actor. It touches only the atomics shared with the output actor
// (blockIDLastConfirmed, packetsToSkip) plus its own input-actor-owned
// fields (queueStats, queueLimit); it never reads or writes
// blockIDLastSent/pendingClose, which belong solely to the output actor,
// and never calls emitClose itself (§5, §9); see checkPendingClose.
func (c *ClientChannel) OnCompletion(confirmedBlockID uint8) {
	diff := mod(int(c.blockIDNext)-int(confirmedBlockID), 256)

	c.queueStats = append(c.queueStats, uint32(diff))
	if len(c.queueStats) > queueStatsLen {
		c.queueStats = c.queueStats[len(c.queueStats)-queueStatsLen:]
	}

	var avg uint32
	full := len(c.queueStats) == queueStatsLen
	if full {
		var sum uint32
		for _, v := range c.queueStats {
			sum += v
		}
		avg = sum / queueStatsLen
		if c.queueLimit == 0 {
			c.queueLimit = avg
			if c.queueLimit < queueLimitFloor {
				c.queueLimit = queueLimitFloor
			}
		}
	}

	if full && uint32(diff) > c.queueLimit && c.packetsToSkip.Load() == 0 {
		overflow := uint32(diff) - c.queueLimit
		if overflow > skipOverflowTrig {
			c.packetsToSkip.Store(skipBurst)
		}
	}

	if full {
		c.engine.OnClientQueueDepth(avg)
	}

	c.blockIDLastConfirmed.Store(uint32(confirmedBlockID))
}

// QueueDepth returns the most recent published average queue depth, for
// diagnostics/metrics.
func (c *ClientChannel) QueueDepth() uint32 {
	if len(c.queueStats) < queueStatsLen {
		return 0
	}
	var sum uint32
	for _, v := range c.queueStats {
		sum += v
	}
	return sum / queueStatsLen
}

// RingOccupancy returns the current bytes-in-ring, for metrics.
func (c *ClientChannel) RingOccupancy() int {
	return c.bytesInRing()
}

// BlockIDLag returns the modular distance between block_id_next and
// block_id_last_confirmed, for metrics.
func (c *ClientChannel) BlockIDLag() int {
	return mod(int(c.blockIDNext)-int(c.blockIDLastConfirmed.Load()), 256)
}

// IsOpen reports whether the channel is in any state other than CLOSED,
// matching the client enumeration interface's audio_is_open (§6).
func (c *ClientChannel) IsOpen() bool {
	s := c.State()
	return s != StateClosed
}

// Close tears the channel down, releasing its transport.
func (c *ClientChannel) Close() error {
	c.setState(StateClosed)
	if c.dump != nil {
		c.dump.Close()
	}
	return c.transport.Close()
}
