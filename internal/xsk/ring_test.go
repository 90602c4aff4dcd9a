//go:build linux

package xsk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestOffsetRing builds an offsetRing over a plain, non-mmap'd byte
// slice. ringBase only does pointer arithmetic into whatever memory it
// is given, so a heap-allocated slice exercises the same code paths as a
// kernel-mapped one for everything except the mapping itself.
func newTestOffsetRing(t *testing.T, size uint32) offsetRing {
	t.Helper()
	off := ringOffset{Producer: 0, Consumer: 8, Desc: 64}
	mem := make([]byte, int(off.Desc)+int(size)*descStrideFillComp)
	return offsetRing{newRingBase(mem, off, size)}
}

func newTestDescRing(t *testing.T, size uint32) descRing {
	t.Helper()
	off := ringOffset{Producer: 0, Consumer: 8, Desc: 64}
	mem := make([]byte, int(off.Desc)+int(size)*descStrideRXTX)
	return descRing{newRingBase(mem, off, size)}
}

func TestOffsetRingSlotRoundTrips(t *testing.T) {
	r := newTestOffsetRing(t, 8)
	*r.slot(0) = 0x1000
	*r.slot(1) = 0x2000
	assert.Equal(t, uint64(0x1000), *r.slot(0))
	assert.Equal(t, uint64(0x2000), *r.slot(1))
}

func TestOffsetRingSlotWrapsAtCapacity(t *testing.T) {
	r := newTestOffsetRing(t, 4)
	*r.slot(0) = 42
	// Index 4 wraps to the same slot as index 0 in a 4-entry ring.
	assert.Equal(t, uint64(42), *r.slot(4))
}

func TestDescRingSlotRoundTrips(t *testing.T) {
	r := newTestDescRing(t, 4)
	*r.slot(0) = unix.XDPDesc{Addr: 0x4000, Len: 128}
	got := *r.slot(0)
	assert.Equal(t, uint64(0x4000), got.Addr)
	assert.Equal(t, uint32(128), got.Len)
}

func TestProducerConsumerAreIndependentOfSlotData(t *testing.T) {
	r := newTestOffsetRing(t, 8)
	require.Equal(t, uint32(0), r.loadProducer())
	require.Equal(t, uint32(0), r.loadConsumer())

	r.storeProducer(3)
	r.storeConsumer(1)
	assert.Equal(t, uint32(3), r.loadProducer())
	assert.Equal(t, uint32(1), r.loadConsumer())
}

func TestOccupancyHandlesWraparound(t *testing.T) {
	// Producer has wrapped past 2^32 while consumer has not; unsigned
	// subtraction still yields the correct occupancy.
	var producer uint32 = 2
	var consumer uint32 = 0xfffffffe
	assert.Equal(t, uint32(4), occupancy(producer, consumer))
}
