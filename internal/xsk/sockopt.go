//go:build linux

package xsk

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Socket-level option constants from linux/if_xdp.h. x/sys/unix does not
// export these under stable names, so they are pinned here the same way
// the rest of the ecosystem does when a struct-based setsockopt has no
// generic helper.
const (
	solXDP = 283

	xdpMmapOffsets         = 1
	xdpRxRing              = 2
	xdpTxRing              = 3
	xdpUmemReg             = 4
	xdpUmemFillRing        = 5
	xdpUmemCompletionRing  = 6

	xdpCopy     = 1 << 1
	xdpZeroCopy = 1 << 2

	xdpPgoffRxRing             = 0
	xdpPgoffTxRing             = 0x80000000
	xdpUmemPgoffFillRing       = 0x100000000
	xdpUmemPgoffCompletionRing = 0x180000000
)

// umemReg mirrors struct xdp_umem_reg. Go lays out trailing padding to
// the alignment of the widest field (the two uint64s) the same way the C
// compiler does, so no explicit pad field is needed for the syscall ABI.
type umemReg struct {
	Addr      uint64
	Len       uint64
	ChunkSize uint32
	Headroom  uint32
	Flags     uint32
}

func setsockoptPtr(fd, opt int, ptr unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(solXDP), uintptr(opt),
		uintptr(ptr), size, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func setsockoptUint32(fd, opt int, v uint32) error {
	return setsockoptPtr(fd, opt, unsafe.Pointer(&v), unsafe.Sizeof(v))
}

func getsockoptPtr(fd, opt int, ptr unsafe.Pointer, size *uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(solXDP), uintptr(opt),
		uintptr(ptr), uintptr(unsafe.Pointer(size)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
