// Package headers implements the fixed Ethernet+IPv4+UDP prefix every
// frame carries ahead of its QUIC payload (component design §4.5): a
// 14-byte Ethernet header, a 20-byte IPv4 header with no options, and an
// 8-byte UDP header, 42 bytes total.
package headers

import (
	"encoding/binary"
	"errors"

	"github.com/lvboudre/afterburner/internal/config"
)

// Size is the fixed header prefix length written by Write and consumed
// by Parse.
const Size = config.HeaderSize

const (
	etherTypeIPv4 = 0x0800
	ipProtoUDP    = 17
	ipVersionIHL  = 0x45 // version 4, header length 5 * 4 = 20 bytes
	ipTTL         = 64
)

// ErrShort is returned by Parse when the frame is no longer than Size,
// so that it carries no payload after the fixed prefix.
var ErrShort = errors.New("headers: frame shorter than fixed prefix")

// Parsed is the subset of the fixed prefix the QUIC driver adapter
// needs: the payload bounds and whatever source address fields the
// fixed offsets happen to hold. None of EtherType, IP protocol, IP
// checksum or port values are validated — the core has no business
// dropping a frame the classifier already decided to redirect, and a
// frame that is not actually IPv4/UDP still yields a length and offset
// the caller can use, even if SrcMAC/SrcIPv4/SrcPort/DstPort are
// meaningless for it.
type Parsed struct {
	PayloadOffset int
	PayloadLen    int
	SrcMAC        [6]byte
	SrcIPv4       [4]byte
	SrcPort       uint16
	DstPort       uint16
}

// Parse decodes the fixed 42-byte prefix of an inbound frame as opaque
// metadata plus payload. The only check is that the frame is longer
// than Size bytes; everything after the prefix is treated as payload
// regardless of what the fixed-offset fields actually contain.
func Parse(frame []byte) (Parsed, error) {
	if len(frame) <= Size {
		return Parsed{}, ErrShort
	}

	var p Parsed
	copy(p.SrcMAC[:], frame[6:12])

	ipHeader := frame[config.EthHeaderSize:]
	copy(p.SrcIPv4[:], ipHeader[12:16])

	udpHeader := frame[config.EthHeaderSize+config.IPv4HeaderSize:]
	p.SrcPort = binary.BigEndian.Uint16(udpHeader[0:2])
	p.DstPort = binary.BigEndian.Uint16(udpHeader[2:4])

	p.PayloadOffset = Size
	p.PayloadLen = len(frame) - Size
	return p, nil
}

// Write encodes the fixed prefix into buf[:Size] for a UDP datagram of
// the given payload length, using the static addressing in addr. buf
// must be at least Size+payloadLen bytes; Write does not touch
// buf[Size:].
func Write(buf []byte, addr config.Addressing, payloadLen int) {
	_ = buf[Size-1]

	// Ethernet.
	copy(buf[0:6], addr.PeerMAC[:])
	copy(buf[6:12], addr.LocalMAC[:])
	binary.BigEndian.PutUint16(buf[12:14], etherTypeIPv4)

	// IPv4.
	ip := buf[config.EthHeaderSize : config.EthHeaderSize+config.IPv4HeaderSize]
	totalLen := config.IPv4HeaderSize + config.UDPHeaderSize + payloadLen
	ip[0] = ipVersionIHL
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(ip[4:6], 0) // identification
	binary.BigEndian.PutUint16(ip[6:8], 0) // flags/fragment offset
	ip[8] = ipTTL
	ip[9] = ipProtoUDP
	binary.BigEndian.PutUint16(ip[10:12], 0) // checksum, filled below
	copy(ip[12:16], addr.LocalIPv4[:])
	copy(ip[16:20], addr.PeerIPv4[:])
	binary.BigEndian.PutUint16(ip[10:12], ipv4Checksum(ip))

	// UDP. The checksum is left at zero, which IPv4 permits and which
	// the reference implementation relies on to skip pseudo-header
	// checksumming on the hot path.
	udp := buf[config.EthHeaderSize+config.IPv4HeaderSize : Size]
	binary.BigEndian.PutUint16(udp[0:2], addr.LocalPort)
	binary.BigEndian.PutUint16(udp[2:4], addr.PeerPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(config.UDPHeaderSize+payloadLen))
	binary.BigEndian.PutUint16(udp[6:8], 0)
}

// ipv4Checksum computes the one's-complement-of-one's-complement-sum
// IPv4 header checksum over a 20-byte header with the checksum field
// itself zeroed.
func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
