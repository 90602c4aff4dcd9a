package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvboudre/afterburner/internal/config"
)

func testAddressing() config.Addressing {
	return config.Addressing{
		LocalMAC:  [6]byte{0x02, 0, 0, 0, 0, 1},
		PeerMAC:   [6]byte{0x02, 0, 0, 0, 0, 2},
		LocalIPv4: [4]byte{10, 0, 0, 10},
		PeerIPv4:  [4]byte{10, 0, 0, 11},
		LocalPort: 8000,
		PeerPort:  8004,
	}
}

func TestWriteThenParseRoundTrips(t *testing.T) {
	addr := testAddressing()
	payload := []byte("a quic short header packet goes here")
	buf := make([]byte, Size+len(payload))
	Write(buf, addr, len(payload))
	copy(buf[Size:], payload)

	parsed, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, Size, parsed.PayloadOffset)
	assert.Equal(t, len(payload), parsed.PayloadLen)
	assert.Equal(t, addr.LocalMAC, parsed.SrcMAC)
	assert.Equal(t, addr.LocalIPv4, parsed.SrcIPv4)
	assert.Equal(t, addr.LocalPort, parsed.SrcPort)
	assert.Equal(t, addr.PeerPort, parsed.DstPort)
}

func TestParseRejectsShortFrame(t *testing.T) {
	_, err := Parse(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrShort)
}

func TestParseTreatsNonIPv4EtherTypeAsOpaquePayload(t *testing.T) {
	payload := []byte("still gets through")
	buf := make([]byte, Size+len(payload))
	buf[12] = 0x86
	buf[13] = 0xdd // IPv6 ethertype; Parse performs no EtherType check
	copy(buf[Size:], payload)

	parsed, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, Size, parsed.PayloadOffset)
	assert.Equal(t, len(payload), parsed.PayloadLen)
}

func TestParseTreatsNonUDPProtocolAsOpaquePayload(t *testing.T) {
	addr := testAddressing()
	payload := []byte("tcp flagged but still forwarded")
	buf := make([]byte, Size+len(payload))
	Write(buf, addr, len(payload))
	buf[config.EthHeaderSize+9] = 6 // TCP; Parse performs no protocol check
	copy(buf[Size:], payload)

	parsed, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, len(payload), parsed.PayloadLen)
}

func TestIPv4ChecksumIsVerifiable(t *testing.T) {
	addr := testAddressing()
	buf := make([]byte, Size)
	Write(buf, addr, 0)

	ip := buf[config.EthHeaderSize : config.EthHeaderSize+config.IPv4HeaderSize]
	var sum uint32
	for i := 0; i+1 < len(ip); i += 2 {
		sum += uint32(ip[i])<<8 | uint32(ip[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	assert.Equal(t, uint16(0xffff), uint16(sum))
}
