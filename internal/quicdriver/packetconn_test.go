package quicdriver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketConnDeliverThenReadFrom(t *testing.T) {
	c := newPacketConn(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 10), Port: 8000})
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 11), Port: 8004}

	require.True(t, c.deliver([]byte("hello"), peer))

	buf := make([]byte, 16)
	n, from, err := c.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, peer, from)
}

func TestPacketConnWriteToThenDequeue(t *testing.T) {
	c := newPacketConn(&net.UDPAddr{})

	n, err := c.WriteTo([]byte("payload"), nil)
	require.NoError(t, err)
	assert.Equal(t, len("payload"), n)

	pkt, ok := c.dequeueOutbound()
	require.True(t, ok)
	assert.Equal(t, "payload", string(pkt))

	_, ok = c.dequeueOutbound()
	assert.False(t, ok)
}

func TestPacketConnDeliverDropsWhenFull(t *testing.T) {
	c := newPacketConn(&net.UDPAddr{})
	for i := 0; i < inboundQueueLen; i++ {
		require.True(t, c.deliver([]byte{byte(i)}, nil))
	}
	assert.False(t, c.deliver([]byte{0xff}, nil))
}

func TestPacketConnCloseUnblocksReadFrom(t *testing.T) {
	c := newPacketConn(&net.UDPAddr{})
	done := make(chan error, 1)
	go func() {
		_, _, err := c.ReadFrom(make([]byte, 8))
		done <- err
	}()

	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReadFrom did not unblock after Close")
	}
}
