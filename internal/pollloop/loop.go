//go:build linux

// Package pollloop assembles the AF_XDP socket, header codec and QUIC
// driver adapter into the single-threaded cooperative loop described in
// component design §4.7 and the concurrency model of §5.
package pollloop

import (
	"context"
	"net"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lvboudre/afterburner/internal/config"
	"github.com/lvboudre/afterburner/internal/headers"
	"github.com/lvboudre/afterburner/internal/metrics"
	"github.com/lvboudre/afterburner/internal/quicdriver"
	"github.com/lvboudre/afterburner/internal/xsk"
)

// Source feeds outbound transaction payloads into the loop. Next must
// not block; it returns false when no payload is waiting.
type Source interface {
	Next() ([]byte, bool)
}

// Loop owns one AF_XDP socket and one QUIC connection for the lifetime
// of the process.
type Loop struct {
	sock  *xsk.Socket
	quic  *quicdriver.Adapter
	addr  config.Addressing
	src   Source
	log   *logrus.Entry
	m     *metrics.Counters
	idle  bool
}

// New wires a socket, a QUIC adapter and a transaction source into a
// runnable loop.
func New(sock *xsk.Socket, qd *quicdriver.Adapter, addr config.Addressing, src Source, log *logrus.Entry, m *metrics.Counters, idleSleep bool) *Loop {
	return &Loop{sock: sock, quic: qd, addr: addr, src: src, log: log, m: m, idle: idleSleep}
}

// Run executes the poll loop until ctx is cancelled, then closes the
// QUIC connection and performs the bounded drain that flushes its
// connection-close packet before returning.
func (l *Loop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		l.tick()
		l.pause()
	}
	if err := l.quic.Close(); err != nil {
		l.log.WithError(err).Warn("QUIC connection close failed")
	}
	return l.drainClose()
}

// tick is one iteration of the loop: drain one inbound frame, advance
// QUIC's internal timers, drain any datagrams the peer has sent back,
// push at most one new transaction
// through the connection, then flush as many TX frames as the ring and
// the UMEM free list allow.
func (l *Loop) tick() {
	if data, ok := l.sock.PollRX(); ok {
		l.m.RXDequeued.Inc()
		// Parse only rejects frames with no payload after the fixed
		// prefix; anything else is handed to the connection unconditionally,
		// EtherType/protocol/port and all, as opaque payload plus whatever
		// metadata the fixed offsets happen to contain.
		if parsed, err := headers.Parse(data); err == nil {
			payload := data[parsed.PayloadOffset : parsed.PayloadOffset+parsed.PayloadLen]
			from := &net.UDPAddr{IP: net.IP(parsed.SrcIPv4[:]), Port: int(parsed.SrcPort)}
			l.quic.ProcessInput(payload, from)
		}
	}

	l.quic.OnTimeout()
	l.quic.DrainStreams(func([]byte) {})

	if l.src != nil {
		if payload, ok := l.src.Next(); ok {
			if err := l.quic.SendTransaction(payload); err != nil {
				l.m.QUICProtocolError.Inc()
				l.log.WithError(err).Warn("transaction send failed")
			}
		}
	}

	l.flushTX()
}

// flushTX drains WriteTransmit until either quic-go has nothing left to
// send this tick or the AF_XDP driver runs out of TX frames, matching
// the reference loop's "write until empty or out of frames" shape.
func (l *Loop) flushTX() {
	for {
		frame, err := l.sock.GetTXFrame()
		if err != nil {
			l.log.WithError(err).Error("GetTXFrame usage error")
			return
		}
		if frame == nil {
			l.m.TXBackpressure.Inc()
			return
		}

		n, ok := l.quic.WriteTransmit(frame.Bytes()[headers.Size:])
		if !ok || n == 0 {
			l.sock.CancelTX(frame)
			return
		}

		headers.Write(frame.Bytes(), l.addr, n)
		if err := l.sock.TXSubmit(frame, uint32(headers.Size+n)); err != nil {
			l.log.WithError(err).Error("TXSubmit usage error")
			return
		}
		l.m.TXSubmitted.Inc()
	}
}

// pause yields the processor between ticks. The default busy-wait mode
// calls runtime.Gosched, the idiomatic cooperative-yield hint in a
// single-goroutine hot loop; the opt-in idle-sleep mode trades latency
// for CPU usage by actually sleeping.
func (l *Loop) pause() {
	if l.idle {
		time.Sleep(config.IdleSleepInterval)
		return
	}
	runtime.Gosched()
}

// drainClose flushes the connection-close packet queued by whatever
// called Adapter.Close, bounded to MaxFinalDrainFrames ticks so a stuck
// peer can never hang shutdown.
func (l *Loop) drainClose() error {
	for i := 0; i < config.MaxFinalDrainFrames; i++ {
		frame, err := l.sock.GetTXFrame()
		if err != nil || frame == nil {
			return nil
		}
		n, ok := l.quic.WriteTransmit(frame.Bytes()[headers.Size:])
		if !ok || n == 0 {
			l.sock.CancelTX(frame)
			return nil
		}
		headers.Write(frame.Bytes(), l.addr, n)
		if err := l.sock.TXSubmit(frame, uint32(headers.Size+n)); err != nil {
			return nil
		}
	}
	return nil
}
