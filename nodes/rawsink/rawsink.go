// Package rawsink implements a trivial raw-audio consuming sink: one
// input port, accepting whatever format and buffers its peer negotiates,
// immediately reusing every buffer it receives (§8 S1/S2).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package rawsink

import (
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
)

// Sink is a consuming raw-audio sink node.
type Sink struct {
	*node.Node

	inPort   *port.Port
	Received int
}

// New builds a sink with one input port over the given candidate formats.
func New(id string, formats []port.Format, canAlloc bool) *Sink {
	n := node.New(id, "rawsink", nil)
	flags := port.CanUseBuffers
	if canAlloc {
		flags |= port.CanAllocBuffers
	}
	p := port.New(0, wire.Input, flags, formats, port.AllocInfo{
		MinSize: 2048, MinBuffers: 2, MaxBuffers: 8,
		EnabledMetas: []wire.MetaType{wire.MetaHeader},
	})
	n.AddPort(p)

	s := &Sink{Node: n, inPort: p}
	n.Process = s.process
	return s
}

// process consumes the next buffer in rotation and immediately reuses it
// (a real sink would instead hold it until its consumer finished reading).
func (s *Sink) process(n *node.Node) wire.Result {
	bufs := s.inPort.Buffers()
	if len(bufs) == 0 {
		return wire.NoBuffers
	}
	b := bufs[s.Received%len(bufs)]
	s.Received++
	n.Emit(node.Event{Kind: node.EvReuseBuffer, BufferID: b.ID})
	return wire.Ok
}
