package quicdriver

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/lvboudre/afterburner/internal/metrics"
)

// alpn is the protocol identifier negotiated with the destination's QUIC
// listener. It carries no semantics of its own; it only has to match
// what the peer accepts.
const alpn = "afterburner-quic"

// Adapter is the driver side of component design §4.6: one QUIC
// connection over a ring-backed packet connection, exposed through the
// four synchronous calls the poll loop drives every tick.
type Adapter struct {
	pconn *packetConn
	tr    *quic.Transport
	conn  quic.Connection

	log     *logrus.Entry
	metrics *metrics.Counters

	outgoing chan []byte
}

// Config carries everything Dial needs to establish the one connection
// this driver maintains for its lifetime.
type Config struct {
	Local  net.Addr
	Peer   net.Addr
	SCID   []byte
	TLS    *tls.Config
	Logger *logrus.Entry
	Metric *metrics.Counters
}

// Dial opens the QUIC connection used for the lifetime of the process.
// There is no reconnection logic, and connection migration or peer
// address changes are not handled.
func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	pconn := newPacketConn(cfg.Local)
	tr := &quic.Transport{Conn: pconn, ConnectionIDLength: len(cfg.SCID)}

	tlsConf := cfg.TLS
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}}
	}
	qconf := &quic.Config{EnableDatagrams: true}

	conn, err := tr.Dial(ctx, cfg.Peer, tlsConf, qconf)
	if err != nil {
		tr.Close()
		return nil, err
	}

	return &Adapter{
		pconn:    pconn,
		tr:       tr,
		conn:     conn,
		log:      cfg.Logger,
		metrics:  cfg.Metric,
		outgoing: make(chan []byte, outboundQueueLen),
	}, nil
}

// ProcessInput hands one inbound UDP payload, already stripped of its
// Ethernet/IPv4/UDP prefix by the header codec, to the QUIC connection's
// read loop. It never blocks and never returns an error: a dropped or
// malformed datagram is quic-go's problem to reject internally.
func (a *Adapter) ProcessInput(payload []byte, from net.Addr) {
	if !a.pconn.deliver(payload, from) {
		if a.metrics != nil {
			a.metrics.QUICProtocolError.Inc()
		}
	}
}

// OnTimeout exists to satisfy the poll loop's per-tick contract; quic-go
// schedules and fires its own internal timers on its own goroutines, so
// there is nothing for the poll loop to drive here.
func (a *Adapter) OnTimeout() {}

// DrainStreams pulls any datagrams the peer has sent back since the last
// tick and hands each to handle. Nothing in this driver's scope expects
// a reply, but the hook exists so a caller can observe acknowledgements
// or error reports without blocking the poll loop.
func (a *Adapter) DrainStreams(handle func([]byte)) {
	for {
		select {
		case data, ok := <-a.drainedDatagrams():
			if !ok {
				return
			}
			handle(data)
		default:
			return
		}
	}
}

// drainedDatagrams is split out of DrainStreams so the non-blocking
// receive attempt in a tight loop reads clearly as "try once, stop when
// empty" rather than a blocking receive in disguise.
func (a *Adapter) drainedDatagrams() <-chan []byte {
	ch := make(chan []byte, 1)
	// An already-cancelled context makes ReceiveDatagram return a queued
	// datagram if there is one and an error otherwise, without waiting.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data, err := a.conn.ReceiveDatagram(ctx)
	if err != nil {
		close(ch)
		return ch
	}
	ch <- data
	return ch
}

// SendTransaction queues a payload for transmission as a QUIC datagram.
// Datagrams, not streams, are used because an injected transaction is a
// single unacknowledged unit of work with no ordering relationship to
// any other: retransmission and flow control would only add latency.
func (a *Adapter) SendTransaction(payload []byte) error {
	return a.conn.SendDatagram(payload)
}

// WriteTransmit copies the next pending outbound QUIC packet into buf
// and reports its length, or reports false when quic-go has nothing
// queued this tick.
func (a *Adapter) WriteTransmit(buf []byte) (int, bool) {
	pkt, ok := a.pconn.dequeueOutbound()
	if !ok {
		return 0, false
	}
	return copy(buf, pkt), true
}

// Close tears down the QUIC connection with a connection-close frame and
// releases the underlying packet connection. The poll loop is expected
// to keep draining WriteTransmit for a bounded number of ticks after
// Close so the close frame actually reaches the wire.
func (a *Adapter) Close() error {
	a.conn.CloseWithError(0, "done")
	a.tr.Close()
	return a.pconn.Close()
}
