// Package config holds the static, compiled-in tunables for the AF_XDP
// datapath: frame geometry, ring capacity, and the peer/local addressing
// used by the header codec. There is no file- or environment-based
// configuration surface; runtime-selectable values (interface, queue id,
// addressing, idle-sleep mode and the like) come from the CLI flags in
// cmd/afterburner.
package config

import "time"

const (
	// FrameSize is the UMEM chunk size in bytes. Must be a power of two;
	// 2048 and 4096 are the canonical values.
	FrameSize = 2048

	// NumFrames is the total number of UMEM chunks. NumFrames*FrameSize
	// must be at least 8 MiB.
	NumFrames = 4096

	// RingSize is the capacity of each of the four AF_XDP rings. Must be
	// a power of two.
	RingSize = 2048

	// QueueID is the default NIC queue, used when --queue is not given.
	// Each process binds exactly one queue; multi-queue fan-out is an
	// explicit non-goal.
	QueueID = 0

	// EthHeaderSize, IPv4HeaderSize and UDPHeaderSize make up the fixed
	// 42-byte prefix every frame reserves ahead of the QUIC payload.
	EthHeaderSize  = 14
	IPv4HeaderSize = 20
	UDPHeaderSize  = 8
	HeaderSize     = EthHeaderSize + IPv4HeaderSize + UDPHeaderSize

	// MaxFinalDrainFrames bounds how many TX frames the poll loop drains
	// after a shutdown signal while flushing the QUIC connection-close
	// packet.
	MaxFinalDrainFrames = 16

	// IdleSleepInterval is used only when the opt-in idle-sleep mode is
	// enabled. The default busy-wait loop never sleeps.
	IdleSleepInterval = time.Millisecond
)

// Addressing is the static Ethernet/IPv4/UDP addressing the header codec
// writes into every outbound frame. MAC resolution (ARP) is out of scope;
// these values are operator-provided configuration.
type Addressing struct {
	LocalMAC  [6]byte
	PeerMAC   [6]byte
	LocalIPv4 [4]byte
	PeerIPv4  [4]byte
	LocalPort uint16
	PeerPort  uint16
}

// Runtime is the handful of values that vary per invocation.
type Runtime struct {
	Interface string
	QueueID   uint32
	IdleSleep bool
}

// CPU core indices the poll loop and metrics server are pinned to when the
// host has enough cores, mirroring the reference implementation's CPU
// affinity convention. Pinning is best-effort; see internal/affinity.
const (
	CorePollLoop = 0
	CoreMetrics  = 1
)
