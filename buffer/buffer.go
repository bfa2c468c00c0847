// Package buffer implements Component B: the typed layout of a frame --
// metas and data blocks, each referencing a region of shared memory, a
// caller-supplied pointer, or a dma-buf (§3 Buffer, §4.5).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package buffer

import (
	"github.com/553481221/pipewire/cmn/debug"
	"github.com/553481221/pipewire/pool"
	"github.com/553481221/pipewire/wire"
)

// MemKind is exactly one of the three memory kinds a Meta or DataBlock may
// reference (§3 Buffer).
type MemKind int

const (
	MemPool MemKind = iota
	MemPtr
	MemDMABuf
)

// MemRef points at a region of memory: a pool region + offset + size, a
// caller-owned byte slice, or a dma-buf file descriptor.
type MemRef struct {
	Kind   MemKind
	Region *pool.Region // non-nil only for MemPool
	Offset int64
	Size   int64
	ptr    []byte // non-nil only for MemPtr
	DMAFd  int    // valid only for MemDMABuf
}

// NewPoolRef builds a MemRef into an already-referenced pool region. The
// caller must have called Region.Ref() for this owner beforehand.
func NewPoolRef(r *pool.Region, offset, size int64) MemRef {
	debug.Assert(offset >= 0 && size >= 0 && offset+size <= r.Size())
	return MemRef{Kind: MemPool, Region: r, Offset: offset, Size: size}
}

// NewPtrRef wraps a caller-supplied buffer (no pool backing).
func NewPtrRef(b []byte) MemRef {
	return MemRef{Kind: MemPtr, ptr: b, Size: int64(len(b))}
}

// NewDMABufRef wraps a dma-buf file descriptor.
func NewDMABufRef(fd int, size int64) MemRef {
	return MemRef{Kind: MemDMABuf, DMAFd: fd, Size: size}
}

// Bytes returns a live view of the referenced memory. For MemDMABuf it
// returns nil -- dma-buf content is only accessible by whatever consumer
// imports the fd, never read directly on the control or data loop.
func (m MemRef) Bytes() []byte {
	switch m.Kind {
	case MemPool:
		if m.Region == nil {
			return nil
		}
		b := m.Region.Bytes()
		return b[m.Offset : m.Offset+m.Size]
	case MemPtr:
		return m.ptr
	default:
		return nil
	}
}

// Chunk is the mutable header a producer writes on every DataBlock: the
// live offset/size/stride of the data actually filled in this frame,
// which can be smaller than the block's reserved Mem.Size (§3 Buffer).
type Chunk struct {
	Offset int64
	Size   int64
	Stride int64
}

// DataBlock is one data plane of a Buffer (audio has one; planar video
// would have more, though this implementation only produces single-block
// buffers -- see link.layoutBuffers).
type DataBlock struct {
	Mem   MemRef
	Chunk Chunk
}

// Meta is a named, typed header attached to a Buffer (§3 Meta, §6).
type Meta struct {
	Type wire.MetaType
	Mem  MemRef
}

// Buffer is Component B proper: an id, a list of metas, a list of data
// blocks (§3 Buffer).
type Buffer struct {
	ID    int
	Metas []Meta
	Datas []DataBlock
}

// FindMeta returns the first meta of the given type, or nil.
func (b *Buffer) FindMeta(t wire.MetaType) *Meta {
	for i := range b.Metas {
		if b.Metas[i].Type == t {
			return &b.Metas[i]
		}
	}
	return nil
}
