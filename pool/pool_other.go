//go:build !linux

package pool

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// pageSize falls back to a conservative 4096 on platforms without a cheap
// Getpagesize (the real daemon is Linux-only; this keeps the package
// buildable for local development on other hosts).
func pageSize() int64 { return 4096 }

// allocBacking on non-Linux hosts backs the region with an unlinked
// temporary file instead of memfd_create (Linux-only), still giving every
// region a real, mappable file descriptor as §4.5 requires.
func allocBacking(size int64) (fd int, ptr []byte, err error) {
	f, err := os.CreateTemp("", "pipewire-pool-*")
	if err != nil {
		return -1, nil, fmt.Errorf("pool: tempfile: %w", err)
	}
	os.Remove(f.Name()) // unlink immediately; fd keeps it alive
	if err = f.Truncate(size); err != nil {
		f.Close()
		return -1, nil, fmt.Errorf("pool: truncate: %w", err)
	}
	ptr, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return -1, nil, fmt.Errorf("pool: mmap: %w", err)
	}
	return int(f.Fd()), ptr, nil
}

func unmapAndClose(r *Region) {
	if r.ptr != nil {
		_ = unix.Munmap(r.ptr)
	}
	if r.fd >= 0 {
		_ = unix.Close(r.fd)
	}
}
