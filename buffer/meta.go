package buffer

import (
	"encoding/binary"

	"github.com/553481221/pipewire/wire"
)

// headerMetaSize is the bit-exact wire size of wire.HeaderMeta: flags(4) +
// seq(8) + pts(8) + dts_offset(8) (§6).
const headerMetaSize = 4 + 8 + 8 + 8

// ringbufferMetaSize is the bit-exact wire size of wire.RingbufferMeta:
// capacity(4) + read_index(4) + write_index(4) (§6, §9).
const ringbufferMetaSize = 4 + 4 + 4

// PutHeader encodes h into the meta's backing bytes in native wire layout.
func PutHeader(m Meta, h wire.HeaderMeta) {
	b := m.Mem.Bytes()
	if len(b) < headerMetaSize {
		return
	}
	binary.LittleEndian.PutUint32(b[0:4], h.Flags)
	binary.LittleEndian.PutUint64(b[4:12], h.Seq)
	binary.LittleEndian.PutUint64(b[12:20], uint64(h.PTS))
	binary.LittleEndian.PutUint64(b[20:28], uint64(h.DTSOffset))
}

// GetHeader decodes a wire.HeaderMeta from the meta's backing bytes.
func GetHeader(m Meta) wire.HeaderMeta {
	b := m.Mem.Bytes()
	if len(b) < headerMetaSize {
		return wire.HeaderMeta{}
	}
	return wire.HeaderMeta{
		Flags:     binary.LittleEndian.Uint32(b[0:4]),
		Seq:       binary.LittleEndian.Uint64(b[4:12]),
		PTS:       int64(binary.LittleEndian.Uint64(b[12:20])),
		DTSOffset: int64(binary.LittleEndian.Uint64(b[20:28])),
	}
}

// InitRingbuffer writes the initial {capacity, 0, 0} triple into the meta's
// backing bytes (mirrors spa_ringbuffer_init, §9).
func InitRingbuffer(m Meta, capacity uint32) {
	b := m.Mem.Bytes()
	if len(b) < ringbufferMetaSize {
		return
	}
	binary.LittleEndian.PutUint32(b[0:4], capacity)
	binary.LittleEndian.PutUint32(b[4:8], 0)
	binary.LittleEndian.PutUint32(b[8:12], 0)
}

// GetRingbuffer decodes a wire.RingbufferMeta from the meta's backing bytes.
func GetRingbuffer(m Meta) wire.RingbufferMeta {
	b := m.Mem.Bytes()
	if len(b) < ringbufferMetaSize {
		return wire.RingbufferMeta{}
	}
	return wire.RingbufferMeta{
		Capacity:   binary.LittleEndian.Uint32(b[0:4]),
		ReadIndex:  binary.LittleEndian.Uint32(b[4:8]),
		WriteIndex: binary.LittleEndian.Uint32(b[8:12]),
	}
}

// PutRingbufferIndices updates only the read/write indices, leaving
// capacity untouched -- the hot path a producer/consumer calls every frame.
func PutRingbufferIndices(m Meta, readIdx, writeIdx uint32) {
	b := m.Mem.Bytes()
	if len(b) < ringbufferMetaSize {
		return
	}
	binary.LittleEndian.PutUint32(b[4:8], readIdx)
	binary.LittleEndian.PutUint32(b[8:12], writeIdx)
}

// MetaSize returns the fixed backing size a meta of type t requires, or 0
// for variable/unconstrained meta types (VideoCrop, Cursor).
func MetaSize(t wire.MetaType) int64 {
	switch t {
	case wire.MetaHeader:
		return headerMetaSize
	case wire.MetaRingbuffer:
		return ringbufferMetaSize
	default:
		return 0
	}
}
