// Package quicdriver adapts the synchronous, single-threaded poll loop
// contract of component design §4.6 onto quic-go's goroutine-driven
// connection model: a net.PacketConn backed by two channels stands in
// for the kernel socket quic-go expects, and Adapter translates between
// the poll loop's process_input/on_timeout/drain_streams/write_transmit
// calls and quic-go's internal send/receive loops.
package quicdriver

import (
	"errors"
	"net"
	"time"
)

// inboundQueueLen and outboundQueueLen bound the channels backing
// packetConn. They exist to absorb the scheduling jitter between the
// poll loop thread and quic-go's internal goroutines, not to buffer a
// meaningful amount of traffic; a full queue means the peer or the local
// CPU cannot keep up and the packet is dropped, the same outcome a real
// kernel socket would produce under the equivalent backpressure.
const (
	inboundQueueLen  = 256
	outboundQueueLen = 256
)

type inboundPacket struct {
	data []byte
	addr net.Addr
}

// packetConn is a net.PacketConn with no underlying kernel socket: reads
// are fed by Adapter.ProcessInput, writes are drained by
// Adapter.WriteTransmit.
type packetConn struct {
	local net.Addr

	inbound  chan inboundPacket
	outbound chan []byte
	closed   chan struct{}
}

func newPacketConn(local net.Addr) *packetConn {
	return &packetConn{
		local:    local,
		inbound:  make(chan inboundPacket, inboundQueueLen),
		outbound: make(chan []byte, outboundQueueLen),
		closed:   make(chan struct{}),
	}
}

// deliver hands an inbound UDP payload to quic-go's read loop. It never
// blocks: under a full queue the packet is dropped, counted by the
// caller as a datapath-transient event rather than surfaced as an error.
func (c *packetConn) deliver(data []byte, from net.Addr) bool {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.inbound <- inboundPacket{data: cp, addr: from}:
		return true
	default:
		return false
	}
}

// dequeueOutbound returns the next packet quic-go queued for send, if
// any, without blocking.
func (c *packetConn) dequeueOutbound() ([]byte, bool) {
	select {
	case pkt := <-c.outbound:
		return pkt, true
	default:
		return nil, false
	}
}

func (c *packetConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case pkt := <-c.inbound:
		n := copy(p, pkt.data)
		return n, pkt.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *packetConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case c.outbound <- cp:
		return len(p), nil
	case <-c.closed:
		return 0, net.ErrClosed
	default:
		// Outbound queue full: drop, mirroring UDP send-buffer exhaustion.
		return len(p), nil
	}
}

func (c *packetConn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
		return nil
	}
}

func (c *packetConn) LocalAddr() net.Addr { return c.local }

var errDeadlinesUnsupported = errors.New("quicdriver: deadlines are not supported on the ring-backed packet connection")

func (c *packetConn) SetDeadline(time.Time) error      { return errDeadlinesUnsupported }
func (c *packetConn) SetReadDeadline(time.Time) error  { return errDeadlinesUnsupported }
func (c *packetConn) SetWriteDeadline(time.Time) error { return errDeadlinesUnsupported }
