// Package wire defines the serialisation-stable types that cross the
// inter-process transport boundary (§6): result codes, node/link state
// names, port-info parameters, and the header meta. The transport itself
// is out of scope (§1) -- only the types it would carry live here.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the result code returned across the node/port/link interface (§6).
type Result int

const (
	Ok Result = iota
	InvalidArguments
	InvalidPort
	InvalidBufferId
	NoFormat
	NoBuffers
	EnumEnd
	NotImplemented
	Unexpected
	Error
	// AsyncPending is never returned bare; node.SendCommand returns it
	// together with the sequence number the later completion carries.
	AsyncPending
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case InvalidArguments:
		return "invalid-arguments"
	case InvalidPort:
		return "invalid-port"
	case InvalidBufferId:
		return "invalid-buffer-id"
	case NoFormat:
		return "no-format"
	case NoBuffers:
		return "no-buffers"
	case EnumEnd:
		return "enum-end"
	case NotImplemented:
		return "not-implemented"
	case AsyncPending:
		return "async-pending"
	case Unexpected:
		return "unexpected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// NodeState names are stable strings for logs and registry signals (§6).
type NodeState int

const (
	NodeInit NodeState = iota
	NodeConfigure
	NodeReady
	NodePaused
	NodeStreaming
	NodeError
	// NodeIdle is not part of the §3 state set proper -- it is the
	// resting state a node returns to once it has zero attached links
	// (§4.4); modelled as a distinct value so callers can tell "never
	// configured" (Init) apart from "was streaming, now has no links".
	NodeIdle
)

var nodeStateNames = [...]string{
	NodeInit: "init", NodeConfigure: "configure", NodeReady: "ready",
	NodePaused: "paused", NodeStreaming: "streaming", NodeError: "error",
	NodeIdle: "idle",
}

func (s NodeState) String() string {
	if int(s) < len(nodeStateNames) {
		return nodeStateNames[s]
	}
	return "unknown"
}

// LinkState names (§6).
type LinkState int

const (
	LinkInit LinkState = iota
	LinkNegotiating
	LinkAllocating
	LinkPaused
	LinkRunning
	LinkError
	LinkUnlinked
)

var linkStateNames = [...]string{
	LinkInit: "init", LinkNegotiating: "negotiating", LinkAllocating: "allocating",
	LinkPaused: "paused", LinkRunning: "running", LinkError: "error", LinkUnlinked: "unlinked",
}

func (s LinkState) String() string {
	if int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return "unknown"
}

// Direction of a port.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Command is an async, control-loop-sequenced operation on a node (§4.1).
type Command int

const (
	CmdStart Command = iota
	CmdPause
	CmdFlush
	CmdDrain
	CmdMarker
	CmdClockUpdate
)

// HeaderMeta is bit-exact per §6: flags, sequence, presentation timestamp,
// and an offset from pts to decode timestamp.
type HeaderMeta struct {
	Flags     uint32
	Seq       uint64
	PTS       int64
	DTSOffset int64
}

// RingbufferMeta carries the lock-free SPSC ring indices a producer/consumer
// pair shares inline in a buffer's meta region (§4.3 S6, §9).
type RingbufferMeta struct {
	Capacity   uint32
	ReadIndex  uint32
	WriteIndex uint32
}

// MetaType enumerates the wire-stable meta kinds a port can declare via
// MetaEnable (§6).
type MetaType int

const (
	MetaHeader MetaType = iota
	MetaVideoCrop
	MetaCursor
	MetaRingbuffer
)

// BuffersParam is the Buffers{} port-info parameter (§6).
type BuffersParam struct {
	MinSize    int64
	Stride     int64
	MinBuffers int
	MaxBuffers int
	Align      int64
}

// RingbufferParam is the Ringbuffer{} port-info parameter (§6).
type RingbufferParam struct {
	MinSize int64
	Stride  int64
	Blocks  int
}

// MetaEnableParam declares that a port wants a given meta type enabled on
// every buffer it uses, with meta-type-specific bytes (§6). Only
// Ringbuffer carries type-specific parameters in this implementation;
// Header/VideoCrop/Cursor are fixed-layout.
type MetaEnableParam struct {
	Type       MetaType
	Ringbuffer *RingbufferParam
}

// BufferOnWire is how a buffer is referenced between processes (§6): the
// logical id plus the shared pool handle needed to map it. File
// descriptors travel out-of-band via the transport, not in this struct.
type BufferOnWire struct {
	BufferID int
	PortID   int
	NodeID   string
	PoolFD   int
	Offset   int64
	Size     int64
}

// RegistryEvent is the tagged union of the four per-object lifecycle
// events the registry broadcasts (§6).
type RegistryEventKind int

const (
	EvAdded RegistryEventKind = iota
	EvInfoChanged
	EvRemoved
	EvLinkStateChanged
)

type RegistryEvent struct {
	Kind        RegistryEventKind
	ID          string
	ObjectKind  string // "node" | "port" | "link"
	ChangeMask  uint32
	OldState    string
	NewState    string
	Error       string
	Info        any
}

func (e RegistryEvent) Marshal() ([]byte, error) { return json.Marshal(e) }
