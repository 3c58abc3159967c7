package audio

import (
	"net"
	"sync"
)

// Transport is the narrow seam between a ClientChannel and the virtual
// channel's wire transport. The spec treats wire transport as out of
// scope (§1); this interface is the concrete I/O handle the channel holds,
// grounded on the teacher's pattern of wrapping a raw connection behind a
// small type (media.Proxy / media.SocketPair).
//
// Send must never block the caller on back-pressure: if the underlying
// connection can't accept more data synchronously, Send returns an error
// and the channel drops the packet (§5 "Suspension points").
type Transport interface {
	Send(data []byte) error
	Close() error
}

// connTransport sends each packet as a single Write on a net.Conn. Real
// virtual-channel transports enqueue internally and return immediately;
// this wrapper relies on the connection's own write deadline to avoid
// blocking the scheduler indefinitely.
type connTransport struct {
	conn net.Conn
}

// NewConnTransport wraps conn as a Transport.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{conn: conn}
}

func (t *connTransport) Send(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}

// loopbackTransport is an in-memory Transport used by tests: every Send
// copies the packet into an internal buffer instead of touching the
// network.
type loopbackTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	failNext bool
}

// NewLoopbackTransport returns a Transport that records every packet sent
// through it, for use in tests.
func NewLoopbackTransport() *loopbackTransportHandle {
	t := &loopbackTransport{}
	return &loopbackTransportHandle{t: t}
}

// loopbackTransportHandle exposes test-only accessors alongside the
// Transport interface implementation.
type loopbackTransportHandle struct {
	t *loopbackTransport
}

func (h *loopbackTransportHandle) Send(data []byte) error {
	return h.t.Send(data)
}

func (h *loopbackTransportHandle) Close() error {
	return h.t.Close()
}

// Packets returns a copy of every packet sent so far.
func (h *loopbackTransportHandle) Packets() [][]byte {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	out := make([][]byte, len(h.t.sent))
	copy(out, h.t.sent)
	return out
}

// FailNextSend forces the next Send call to return an error, to exercise
// the back-pressure drop path.
func (h *loopbackTransportHandle) FailNextSend() {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	h.t.failNext = true
}

func (t *loopbackTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return newError(ErrClientBackpressure, "transport closed")
	}
	if t.failNext {
		t.failNext = false
		return newError(ErrClientBackpressure, "simulated send failure")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.sent = append(t.sent, cp)
	return nil
}

func (t *loopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
