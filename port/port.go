// Package port implements Component C: a port's buffer ownership, format,
// capability flags, and per-port state (§3 Port, §4.2).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package port

import (
	"sync"

	"github.com/553481221/pipewire/buffer"
	"github.com/553481221/pipewire/cmn/debug"
	"github.com/553481221/pipewire/wire"
)

// Flags are the per-port capability bits (§3 Port).
type Flags uint32

const (
	CanUseBuffers Flags = 1 << iota
	CanAllocBuffers
	Live
	NoRef
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// SetFormatFlag selects how strictly set_format must match the requested
// format (§4.1).
type SetFormatFlag int

const (
	Nearest SetFormatFlag = iota
	Fixed
)

// AllocInfo is what get_info reports about a port's allocation parameters
// and enabled metas (§4.1 get_info, §6 Buffers/MetaEnable params).
type AllocInfo struct {
	MinSize      int64
	Stride       int64
	MinBuffers   int
	MaxBuffers   int
	Align        int64
	EnabledMetas []wire.MetaType
	Ringbuffer   *wire.RingbufferParam
}

// Port is owned by exactly one node (§3 Port). Its State reuses
// wire.NodeState's vocabulary one-for-one with §4.2's port states: no
// format == Configure, format-set == Ready, buffers-set == Paused,
// streaming == Streaming -- the two state machines are the same
// vocabulary at different granularity, not two separate ones.
type Port struct {
	mu sync.Mutex

	ID   int
	Dir  wire.Direction
	Flags Flags

	state      wire.NodeState
	format     *Format
	candidates []Format // formats this port can produce/accept, in priority order
	alloc      AllocInfo

	buffers   []*buffer.Buffer
	allocated bool // true iff this port owns the pool region backing buffers
	region    any  // *pool.Region, held as an opaque value; the port never dereferences it
}

// New constructs a port with its candidate format list and allocation
// parameters fixed at creation (a node wires these in when it builds its
// ports; the core never invents formats on a port's behalf).
func New(id int, dir wire.Direction, flags Flags, candidates []Format, alloc AllocInfo) *Port {
	return &Port{
		ID: id, Dir: dir, Flags: flags,
		state: wire.NodeConfigure, candidates: candidates, alloc: alloc,
	}
}

func (p *Port) State() wire.NodeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Port) Info() AllocInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc
}

// EnumFormats returns the cursor-th candidate matching filter and the next
// cursor, or wire.EnumEnd once candidates are exhausted (§4.1, §8 property 5).
func (p *Port) EnumFormats(filter *Filter, cursor int) (Format, int, wire.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := cursor; i < len(p.candidates); i++ {
		if filter.Matches(p.candidates[i]) {
			return p.candidates[i], i + 1, wire.Ok
		}
	}
	return Format{}, len(p.candidates), wire.EnumEnd
}

// SetFormat applies f to the port. Fixed requires an exact candidate match;
// Nearest accepts the first candidate f filters down to, letting the port
// pick the closest it supports (§4.1).
func (p *Port) SetFormat(flag SetFormatFlag, f Format) (Format, wire.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format != nil && *p.format == f {
		return f, wire.Ok // idempotent, §8 property 8
	}

	chosen := f
	if flag == Nearest {
		// Zero-valued fields of f are left open and match any candidate.
		matched := false
		for _, c := range p.candidates {
			if (f.MediaType == "" || f.MediaType == c.MediaType) && (f.Rate == 0 || f.Rate == c.Rate) &&
				(f.Channels == 0 || f.Channels == c.Channels) && (f.Format == "" || f.Format == c.Format) {
				chosen = c
				matched = true
				break
			}
		}
		if !matched {
			return Format{}, wire.InvalidArguments
		}
	} else {
		ok := false
		for _, c := range p.candidates {
			if c == f {
				ok = true
				break
			}
		}
		if !ok {
			return Format{}, wire.InvalidArguments
		}
	}

	p.format = &chosen
	p.state = wire.NodeReady
	return chosen, wire.Ok
}

// GetFormat returns the currently applied format, if any.
func (p *Port) GetFormat() (Format, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == nil {
		return Format{}, false
	}
	return *p.format, true
}

// ClearFormat clears the format and any buffers, returning the port to
// no-format (§4.2). If the port owned the pool region backing its buffers
// (allocated==true), that region is returned for the caller to Unref --
// releasing a port's own allocation is the port destroyer's responsibility,
// not a link's (a link only ever owns the region it allocated itself).
func (p *Port) ClearFormat() (ownedRegion any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocated {
		ownedRegion = p.region
	}
	p.format = nil
	p.buffers = nil
	p.allocated = false
	p.region = nil
	p.state = wire.NodeConfigure
	return ownedRegion
}

// SetBuffers installs bufs (use_buffers when allocated is false, the
// result of alloc_buffers when true). Passing a nil slice while Paused
// returns the port to Ready with no buffers (§4.2, §8 property 7).
func (p *Port) SetBuffers(bufs []*buffer.Buffer, allocated bool, region any) wire.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == wire.NodeConfigure {
		return wire.InvalidArguments // must have a format first
	}
	if bufs == nil {
		p.buffers, p.allocated, p.region = nil, false, nil
		if p.state != wire.NodeStreaming {
			p.state = wire.NodeReady
		}
		return wire.Ok
	}
	debug.Assert(allocated == (region != nil) || !allocated)
	p.buffers, p.allocated, p.region = bufs, allocated, region
	if p.state != wire.NodeStreaming {
		p.state = wire.NodePaused
	}
	return wire.Ok
}

// Buffers returns the port's current buffer list, not a copy: callers on
// the data loop must not retain it past the port's lock scope.
func (p *Port) Buffers() []*buffer.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers
}

func (p *Port) Allocated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

func (p *Port) Region() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region
}

// ReuseBuffer validates id against the port's current buffer list (§4.1,
// §8 property 11).
func (p *Port) ReuseBuffer(id int) wire.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buffers {
		if b.ID == id {
			return wire.Ok
		}
	}
	return wire.InvalidBufferId
}

// SetStreaming marks the port streaming once its node starts (§4.2).
func (p *Port) SetStreaming(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.state = wire.NodeStreaming
	} else if len(p.buffers) > 0 {
		p.state = wire.NodePaused
	} else if p.format != nil {
		p.state = wire.NodeReady
	} else {
		p.state = wire.NodeConfigure
	}
}
