//go:build linux

package xsk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocateUMEM maps a page-aligned, pre-faulted (MAP_POPULATE) anonymous
// region of the given size, attempting huge-page backing first per
// component design §4.1. warn, when non-nil, receives a one-line
// advisory if the huge-page attempt fails and the call falls back to
// regular pages. It returns an error only when both attempts fail.
func allocateUMEM(size int, warn func(string)) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB|unix.MAP_POPULATE)
	if err == nil {
		return data, nil
	}

	if warn != nil {
		warn(fmt.Sprintf(
			"huge-page UMEM allocation failed (%v); falling back to regular pages. "+
				"For best performance pre-allocate huge pages: echo 64 | sudo tee /proc/sys/vm/nr_hugepages",
			err))
	}

	data, err = unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func freeUMEM(data []byte) error {
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
