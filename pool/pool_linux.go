//go:build linux

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pageSize returns the host page size; region sizes are always rounded up
// to it before allocation.
func pageSize() int64 { return int64(unix.Getpagesize()) }

// allocBacking creates an anonymous, sealed, read-write-mapped shared
// memory region via memfd_create -- the Linux mechanism the daemon uses
// for HasFd|MappedRW|Sealed pool regions (§4.5).
func allocBacking(size int64) (fd int, ptr []byte, err error) {
	fd, err = unix.MemfdCreate("pipewire-pool", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, nil, fmt.Errorf("pool: memfd_create: %w", err)
	}
	if err = unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("pool: ftruncate: %w", err)
	}
	ptr, err = unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("pool: mmap: %w", err)
	}
	// Seal the region's size and the seal set itself: the allocator never
	// shrinks or grows a region once it has been handed to a port or link,
	// and no further seals can be added. Writes are not sealed.
	_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
		unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL)
	if err != nil {
		unix.Munmap(ptr)
		unix.Close(fd)
		return -1, nil, fmt.Errorf("pool: F_ADD_SEALS: %w", err)
	}
	return fd, ptr, nil
}

func unmapAndClose(r *Region) {
	if r.ptr != nil {
		_ = unix.Munmap(r.ptr)
	}
	if r.fd >= 0 {
		_ = unix.Close(r.fd)
	}
}
