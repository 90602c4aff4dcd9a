//go:build linux

package xsk

import (
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Socket is the AF_XDP socket of component design §4.3/§4.4: one UMEM,
// four rings, and the free-frame bookkeeping the runtime contract needs
// to hand out and reclaim TX frames without allocating.
//
// A Socket is not safe for concurrent use by more than one goroutine; the
// poll loop that owns it is expected to call PollRX, GetTXFrame,
// TXSubmit and CancelTX from a single goroutine, matching the
// single-threaded cooperative design of §5.
type Socket struct {
	fd   int
	umem []byte

	fill descRing8
	comp descRing8
	rx   descRing
	tx   descRing

	frameSize uint32
	numFrames uint32

	// freeFrames is the LIFO stack of UMEM frame offsets available for TX
	// (I1): frames start here, move to the TX ring via TXSubmit, come back
	// through COMPLETION, and return here; CancelTX returns a checked-out
	// frame directly. Frames seeded onto FILL never pass through it.
	freeFrames []uint64

	// pendingTX is the in-flight frame returned by the last GetTXFrame
	// call that has not yet been committed with TXSubmit or CancelTX.
	// A nil pointer means no frame is checked out.
	pendingTX *TXFrame

	rxScratch []byte

	// onFillDrop is called whenever PollRX cannot recycle a frame
	// because FILL is already full (§4.4, §8 scenario 5). May be nil.
	onFillDrop func()
}

// descRing8 is the FILL/COMPLETION ring shape (8-byte uint64 slots).
type descRing8 struct{ offsetRing }

// TXFrame is a writable window into one UMEM chunk, checked out by
// GetTXFrame and returned to the driver by TXSubmit or CancelTX.
type TXFrame struct {
	addr uint64
	buf  []byte
}

// FD returns the socket's file descriptor, for insertion into the XSK
// map that steers packets at this socket's queue.
func (s *Socket) FD() int { return s.fd }

// Bytes is the full frameSize-byte window at the head of the UMEM chunk.
// Callers write the header codec's 42-byte prefix at Bytes()[:headers.Size]
// and the QUIC payload immediately after.
func (f *TXFrame) Bytes() []byte { return f.buf }

// Config bundles the construction parameters for New. FrameSize,
// NumFrames and RingSize are normally taken from internal/config.
type Config struct {
	Interface string
	QueueID   uint32
	FrameSize uint32
	NumFrames uint32
	RingSize  uint32

	// Warn receives advisory, non-fatal messages (currently only the
	// huge-page fallback notice). May be nil.
	Warn func(string)

	// OnFillDrop is called whenever an inbound frame cannot be recycled
	// onto FILL because FILL is already full. May be nil.
	OnFillDrop func()
}

// New performs the nine-step construction sequence of §4.3: socket
// creation, UMEM allocation and registration, ring sizing, offset
// discovery, the four ring mmaps, bind, and finally seeding FILL and the
// free-frame stack. Any failure is returned as a *SetupError and New
// leaves nothing open or mapped.
func New(cfg Config) (*Socket, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, &SetupError{Step: StepInterfaceLookup, Cause: err}
	}

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return nil, &SetupError{Step: StepSocketCreate, Cause: err}
	}
	s := &Socket{fd: fd, frameSize: cfg.FrameSize, numFrames: cfg.NumFrames, onFillDrop: cfg.OnFillDrop}

	umemSize := int(cfg.NumFrames) * int(cfg.FrameSize)
	umem, err := allocateUMEM(umemSize, cfg.Warn)
	if err != nil {
		unix.Close(fd)
		return nil, &SetupError{Step: StepUmemAlloc, Cause: err}
	}
	s.umem = umem

	reg := umemReg{
		Addr:      uint64(uintptr(unsafe.Pointer(&umem[0]))),
		Len:       uint64(umemSize),
		ChunkSize: cfg.FrameSize,
		Headroom:  0,
	}
	if err := setsockoptPtr(fd, xdpUmemReg, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
		s.teardown()
		return nil, &SetupError{Step: StepUmemReg, Cause: err}
	}

	for _, step := range []struct {
		opt  int
		ring Ring
	}{
		{xdpUmemFillRing, RingFill},
		{xdpUmemCompletionRing, RingCompletion},
		{xdpRxRing, RingRX},
		{xdpTxRing, RingTX},
	} {
		if err := setsockoptUint32(fd, step.opt, cfg.RingSize); err != nil {
			s.teardown()
			return nil, &SetupError{Step: StepRingSizeSet, Ring: step.ring, Cause: err}
		}
	}

	var off mmapOffsets
	optlen := uint32(unsafe.Sizeof(off))
	if err := getsockoptPtr(fd, xdpMmapOffsets, unsafe.Pointer(&off), &optlen); err != nil {
		s.teardown()
		return nil, &SetupError{Step: StepOffsetsQuery, Cause: err}
	}

	fillMem, err := mapRing(fd, xdpUmemPgoffFillRing, off.Fr, cfg.RingSize, descStrideFillComp)
	if err != nil {
		s.teardown()
		return nil, &SetupError{Step: StepRingMap, Ring: RingFill, Cause: err}
	}
	s.fill = descRing8{offsetRing{newRingBase(fillMem, off.Fr, cfg.RingSize)}}

	compMem, err := mapRing(fd, xdpUmemPgoffCompletionRing, off.Cr, cfg.RingSize, descStrideFillComp)
	if err != nil {
		s.teardown()
		return nil, &SetupError{Step: StepRingMap, Ring: RingCompletion, Cause: err}
	}
	s.comp = descRing8{offsetRing{newRingBase(compMem, off.Cr, cfg.RingSize)}}

	rxMem, err := mapRing(fd, xdpPgoffRxRing, off.Rx, cfg.RingSize, descStrideRXTX)
	if err != nil {
		s.teardown()
		return nil, &SetupError{Step: StepRingMap, Ring: RingRX, Cause: err}
	}
	s.rx = descRing{newRingBase(rxMem, off.Rx, cfg.RingSize)}

	txMem, err := mapRing(fd, xdpPgoffTxRing, off.Tx, cfg.RingSize, descStrideRXTX)
	if err != nil {
		s.teardown()
		return nil, &SetupError{Step: StepRingMap, Ring: RingTX, Cause: err}
	}
	s.tx = descRing{newRingBase(txMem, off.Tx, cfg.RingSize)}

	zc := unix.SockaddrXDP{Flags: xdpZeroCopy, Ifindex: uint32(ifi.Index), QueueID: cfg.QueueID}
	if bindErr := unix.Bind(fd, &zc); bindErr != nil {
		cp := unix.SockaddrXDP{Flags: xdpCopy, Ifindex: uint32(ifi.Index), QueueID: cfg.QueueID}
		if err := unix.Bind(fd, &cp); err != nil {
			s.teardown()
			return nil, &SetupError{Step: StepBind, Cause: err}
		}
	}

	// Seed FILL with the first half of the frame pool so the kernel has
	// somewhere to land inbound packets immediately; the remainder
	// starts life as free TX frames (I1).
	half := cfg.NumFrames / 2
	prod := s.fill.loadProducer()
	for i := uint32(0); i < half; i++ {
		*s.fill.slot(prod + i) = uint64(i) * uint64(cfg.FrameSize)
	}
	s.fill.storeProducer(prod + half)

	s.freeFrames = make([]uint64, 0, cfg.NumFrames-half)
	for i := half; i < cfg.NumFrames; i++ {
		s.freeFrames = append(s.freeFrames, uint64(i)*uint64(cfg.FrameSize))
	}

	zc := unix.SockaddrXDP{Flags: xdpZeroCopy, Ifindex: uint32(ifi.Index), QueueID: cfg.QueueID}
	if bindErr := unix.Bind(fd, &zc); bindErr != nil {
		cp := unix.SockaddrXDP{Flags: xdpCopy, Ifindex: uint32(ifi.Index), QueueID: cfg.QueueID}
		if err := unix.Bind(fd, &cp); err != nil {
			s.teardown()
			return nil, &SetupError{Step: StepBind, Cause: err}
		}
	}

	s.rxScratch = make([]byte, cfg.FrameSize)
	return s, nil
}

func mapRing(fd, pgoff int, off ringOffset, ringSize uint32, stride uint64) ([]byte, error) {
	size := int(off.Desc) + int(ringSize)*int(stride)
	return unix.Mmap(fd, int64(pgoff), size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE)
}

// teardown unmaps whatever has been mapped so far and closes the socket
// fd, used on every construction failure path and by Close.
func (s *Socket) teardown() {
	unmapRing(&s.fill.ringBase)
	unmapRing(&s.comp.ringBase)
	unmapRing(&s.rx.ringBase)
	unmapRing(&s.tx.ringBase)
	freeUMEM(s.umem)
	if s.fd != 0 {
		unix.Close(s.fd)
	}
}

func unmapRing(r *ringBase) {
	if r.mem != nil {
		unix.Munmap(r.mem)
		r.mem = nil
	}
}

// Close releases the socket's four ring mappings, the UMEM region, and
// the socket fd, in that order, matching the reference teardown order:
// rings before UMEM before fd.
func (s *Socket) Close() error {
	s.teardown()
	return nil
}

// PollRX drains at most one inbound frame, copies its payload into an
// internal scratch buffer, attempts to recycle the frame back onto
// FILL, and returns the copy. The returned slice is only valid until the
// next PollRX call. ok is false when RX is empty.
//
// If FILL is already at capacity the frame is not recycled (scenario 5:
// FILL overflow is tolerated, not fatal) — the frame is simply dropped
// from circulation rather than blocking or corrupting the ring, and
// onFillDrop is notified so the caller can count it.
func (s *Socket) PollRX() (data []byte, ok bool) {
	cons := s.rx.loadConsumer()
	prod := s.rx.loadProducer()
	if occupancy(prod, cons) == 0 {
		return nil, false
	}

	desc := *s.rx.slot(cons)
	n := int(desc.Len)
	if n > len(s.rxScratch) {
		n = len(s.rxScratch)
	}
	copy(s.rxScratch[:n], s.frameAt(desc.Addr)[:n])
	s.rx.storeConsumer(cons + 1)

	fprod := s.fill.loadProducer()
	fcons := s.fill.loadConsumer()
	if occupancy(fprod, fcons) >= s.fill.size {
		if s.onFillDrop != nil {
			s.onFillDrop()
		}
	} else {
		*s.fill.slot(fprod) = desc.Addr
		s.fill.storeProducer(fprod + 1)
	}

	return s.rxScratch[:n], true
}

// frameAt returns the frameSize-byte UMEM window starting at addr.
func (s *Socket) frameAt(addr uint64) []byte {
	return s.umem[addr : addr+uint64(s.frameSize)]
}

// drainCompletion moves every frame the kernel has finished transmitting
// from COMPLETION back onto the free-frame stack. GetTXFrame calls this
// unconditionally before checking backpressure, matching the reference
// driver's "drain fully, then check" ordering.
func (s *Socket) drainCompletion() {
	cons := s.comp.loadConsumer()
	prod := s.comp.loadProducer()
	for ; cons != prod; cons++ {
		addr := *s.comp.slot(cons)
		s.freeFrames = append(s.freeFrames, addr)
	}
	s.comp.storeConsumer(cons)
}

// GetTXFrame drains COMPLETION, applies TX backpressure (I2: never let
// more descriptors be outstanding than the ring can hold), and pops one
// frame off the free-frame stack for the caller to write into. It
// returns nil when no frame is available, either from backpressure or
// from free-frame exhaustion. Calling GetTXFrame again while a frame is
// already checked out is a usage error.
func (s *Socket) GetTXFrame() (*TXFrame, error) {
	if s.pendingTX != nil {
		return nil, &UsageError{Msg: "GetTXFrame called with a frame already checked out"}
	}

	s.drainCompletion()

	prod := s.tx.loadProducer()
	cons := s.tx.loadConsumer()
	if occupancy(prod, cons) >= s.tx.size {
		return nil, nil
	}

	if len(s.freeFrames) == 0 {
		return nil, nil
	}
	addr := s.freeFrames[len(s.freeFrames)-1]
	s.freeFrames = s.freeFrames[:len(s.freeFrames)-1]

	f := &TXFrame{addr: addr, buf: s.frameAt(addr)}
	s.pendingTX = f
	return f, nil
}

// TXSubmit commits the checked-out frame to the TX ring with the given
// length and kicks the kernel with a zero-length sendto, matching the
// reference driver's wakeup mechanism. Submitting a frame other than the
// one currently checked out is a usage error.
func (s *Socket) TXSubmit(f *TXFrame, length uint32) error {
	if f == nil || f != s.pendingTX {
		return &UsageError{Msg: "TXSubmit called without a matching checked-out frame"}
	}

	prod := s.tx.loadProducer()
	*s.tx.slot(prod) = unix.XDPDesc{Addr: f.addr, Len: length}
	s.tx.storeProducer(prod + 1)
	s.pendingTX = nil

	unix.Syscall6(unix.SYS_SENDTO, uintptr(s.fd), 0, 0, uintptr(unix.MSG_DONTWAIT), 0, 0)
	return nil
}

// CancelTX returns a checked-out frame to the free-frame stack without
// submitting it, used by the poll loop when write_transmit produced
// nothing this tick.
func (s *Socket) CancelTX(f *TXFrame) error {
	if f == nil || f != s.pendingTX {
		return &UsageError{Msg: "CancelTX called without a matching checked-out frame"}
	}
	s.freeFrames = append(s.freeFrames, f.addr)
	s.pendingTX = nil
	return nil
}
