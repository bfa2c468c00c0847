// Package pool implements Component A of the media graph core: the
// shared-memory pool that backs every buffer. A region is a single
// file-descriptor-backed allocation; the pool has no compaction (§4.5) --
// a region either lives in full or is freed whole when its last owner
// (a port or a link) releases it.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"sync"

	"github.com/553481221/pipewire/cmn/atomic"
	"github.com/553481221/pipewire/cmn/cos"
	"github.com/553481221/pipewire/cmn/debug"
	"github.com/553481221/pipewire/cmn/nlog"
)

// Flags mirror §3's pool region flags.
type Flags uint32

const (
	HasFd Flags = 1 << iota
	MappedRW
	Sealed
)

// Region is a page-rounded, fd-backed shared-memory allocation (§4.5).
// Freed only when its reference count (one per owning port or link) drops
// to zero.
type Region struct {
	id    int
	fd    int
	ptr   []byte
	size  int64
	flags Flags
	refs  atomic.Int64
	freed atomic.Bool
	owner *Pool
}

func (r *Region) ID() int       { return r.id }
func (r *Region) FD() int       { return r.fd }
func (r *Region) Size() int64   { return r.size }
func (r *Region) Flags() Flags  { return r.flags }
func (r *Region) Bytes() []byte { return r.ptr }

// Ref registers another owner (a port or a link) of this region.
func (r *Region) Ref() { r.refs.Inc() }

// Unref drops one owner's reference; the region's backing memory is
// released when the last owner unrefs.
func (r *Region) Unref() {
	if n := r.refs.Dec(); n <= 0 {
		r.release()
	}
}

func (r *Region) release() {
	if !r.freed.CAS(false, true) {
		return
	}
	nlog.Infof("pool: freeing region %d (%d bytes)", r.id, r.size)
	unmapAndClose(r)
	if r.owner != nil {
		r.owner.forget(r.id)
	}
}

// Pool allocates and tracks regions. One Pool per daemon; passed in
// explicitly to every constructor that needs it rather than held as a
// process-wide singleton (§9 Global state).
type Pool struct {
	mu      sync.Mutex
	regions map[int]*Region
	nextID  int

	onChange func(n int)
}

func New() *Pool {
	return &Pool{regions: make(map[int]*Region, 16)}
}

// SetOnChange installs a hook run with the new live-region count whenever
// Alloc or a region's last Unref changes it (pipewire_pool_regions_active).
func (p *Pool) SetOnChange(fn func(n int)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Pool) notifyChange() {
	p.mu.Lock()
	fn := p.onChange
	n := len(p.regions)
	p.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Alloc allocates a page-rounded, Sealed, read-write-mapped region of at
// least size bytes, backed by an anonymous file descriptor (§4.5).
// The caller holds the first reference; Unref it when done.
func (p *Pool) Alloc(size int64) (*Region, error) {
	debug.Assert(size > 0)
	rounded := cos.RoundUpN(size, pageSize())
	fd, ptr, err := allocBacking(rounded)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	r := &Region{
		id:    id,
		fd:    fd,
		ptr:   ptr,
		size:  rounded,
		flags: HasFd | MappedRW | Sealed,
		owner: p,
	}
	r.refs.Store(1)
	p.regions[id] = r
	p.mu.Unlock()
	nlog.Infof("pool: allocated region %d (%d bytes, requested %d)", id, rounded, size)
	p.notifyChange()
	return r, nil
}

// NumRegions reports the number of currently-live regions, for the
// pipewire_pool_regions_active metric.
func (p *Pool) NumRegions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regions)
}

func (p *Pool) forget(id int) {
	p.mu.Lock()
	delete(p.regions, id)
	p.mu.Unlock()
	p.notifyChange()
}
