//go:build linux

package xsk

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ringOffset mirrors the kernel's struct xdp_ring_offset, one instance
// per ring, as returned by the XDP_MMAP_OFFSETS getsockopt: byte offsets
// into the ring's mmap'd page for the producer index, the consumer
// index, the descriptor array, and a flags word.
type ringOffset struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

// mmapOffsets mirrors struct xdp_mmap_offsets.
type mmapOffsets struct {
	Rx ringOffset
	Tx ringOffset
	Fr ringOffset
	Cr ringOffset
}

// descStrideFillComp and descStrideRXTX are the two descriptor widths
// defined in the data model (§3): 8 bytes for FILL/COMPLETION, 16 for
// RX/TX.
const (
	descStrideFillComp = 8
	descStrideRXTX     = 16
)

// ringBase is the generic SPSC ring primitive of component design §4.2:
// three pointers into a kernel-mapped region (producer index, consumer
// index, descriptor array) plus one capacity constant; the ring's flags
// word is not mapped to a field. It never allocates; mem is the mmap'd page it is a view into, which the
// owning socket unmaps on Close. Producer and consumer are accessed with
// the sync/atomic package, whose load/store primitives are sequentially
// consistent and therefore satisfy the weaker acquire/release ordering
// the AF_XDP ring contract requires.
type ringBase struct {
	mem      []byte
	producer *uint32
	consumer *uint32
	descBase unsafe.Pointer
	mask     uint32
	size     uint32
}

func newRingBase(mem []byte, off ringOffset, size uint32) ringBase {
	base := unsafe.Pointer(&mem[0])
	return ringBase{
		mem:      mem,
		producer: (*uint32)(unsafe.Add(base, uintptr(off.Producer))),
		consumer: (*uint32)(unsafe.Add(base, uintptr(off.Consumer))),
		descBase: unsafe.Add(base, uintptr(off.Desc)),
		mask:     size - 1,
		size:     size,
	}
}

func (r *ringBase) loadProducer() uint32 { return atomic.LoadUint32(r.producer) }
func (r *ringBase) loadConsumer() uint32 { return atomic.LoadUint32(r.consumer) }
func (r *ringBase) storeProducer(v uint32) { atomic.StoreUint32(r.producer, v) }
func (r *ringBase) storeConsumer(v uint32) { atomic.StoreUint32(r.consumer, v) }

// occupancy is producer-consumer under 32-bit unsigned wrap arithmetic
// (I2): it stays correct across a producer or consumer index wraparound
// at 2^32, unlike a signed subtraction would.
func occupancy(producer, consumer uint32) uint32 { return producer - consumer }

// offsetRing is the FILL/COMPLETION ring shape: each descriptor slot is a
// bare 8-byte frame offset.
type offsetRing struct{ ringBase }

func (r *offsetRing) slot(i uint32) *uint64 {
	return (*uint64)(unsafe.Add(r.descBase, uintptr(i&r.mask)*descStrideFillComp))
}

// descRing is the RX/TX ring shape: each descriptor slot is the kernel's
// 16-byte struct xdp_desc, {addr, len, options}.
type descRing struct{ ringBase }

func (r *descRing) slot(i uint32) *unix.XDPDesc {
	return (*unix.XDPDesc)(unsafe.Add(r.descBase, uintptr(i&r.mask)*descStrideRXTX))
}
