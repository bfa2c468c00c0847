// Package node implements Component D: a node's ports, its state machine,
// and its async-completion signalling (§3 Node, §4.1).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package node

import (
	"sync"

	"github.com/553481221/pipewire/cmn/atomic"
	"github.com/553481221/pipewire/cmn/mono"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
)

// EventKind enumerates the five callbacks §4.1 names a node may raise,
// plus EvStateChanged, which a link observes to re-run its check.
type EventKind int

const (
	EvHaveOutput EventKind = iota
	EvNeedInput
	EvAsyncComplete
	EvReuseBuffer
	EvStateChanged
	EvError
)

// Event is the single shape every node event callback delivers.
type Event struct {
	Kind     EventKind
	Seq      int64
	Result   wire.Result
	BufferID int
	OldState wire.NodeState
	NewState wire.NodeState
	Err      error
}

// EventCallback is how a node reports HaveOutput/NeedInput/AsyncComplete/
// ReuseBuffer/Error back to its owner (§4.1).
type EventCallback func(Event)

// Props is a node's idempotent get/set configuration (§4.1).
type Props map[string]any

// Node is Component D proper.
type Node struct {
	mu sync.Mutex

	ID    string
	Name  string
	props Props

	state wire.NodeState
	live  bool

	inputs  map[int]*port.Port
	outputs map[int]*port.Port

	seq       atomic.Int64
	startTime int64 // nanoseconds, recorded at the first Start (§8 S5)

	nUsedInputLinks  atomic.Int64
	nUsedOutputLinks atomic.Int64

	draining bool
	drainSeq int64

	onEvent EventCallback

	// Process is the data-loop-invoked per-frame hook (process_output for
	// a source, process_input for a sink); nodes.testsrc/rawsink set this.
	Process func(n *Node) wire.Result
}

// New constructs a node in state Init with no ports. Callers attach ports
// with AddPort before the node can be used.
func New(id, name string, props Props) *Node {
	if props == nil {
		props = Props{}
	}
	return &Node{ID: id, Name: name, props: props, state: wire.NodeInit, inputs: map[int]*port.Port{}, outputs: map[int]*port.Port{}}
}

// AddPort registers a port under the node and advances a freshly-created
// node from Init to Configure once it has at least one port.
func (n *Node) AddPort(p *port.Port) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p.Dir == wire.Input {
		n.inputs[p.ID] = p
	} else {
		n.outputs[p.ID] = p
	}
	if n.state == wire.NodeInit {
		n.state = wire.NodeConfigure
	}
}

// Port looks up one of the node's ports by direction and id.
func (n *Node) Port(dir wire.Direction, id int) (*port.Port, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if dir == wire.Input {
		p, ok := n.inputs[id]
		return p, ok
	}
	p, ok := n.outputs[id]
	return p, ok
}

// Ports returns every port of the given direction.
func (n *Node) Ports(dir wire.Direction) []*port.Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := n.inputs
	if dir == wire.Output {
		m = n.outputs
	}
	out := make([]*port.Port, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func (n *Node) allPortsLocked() []*port.Port {
	out := make([]*port.Port, 0, len(n.inputs)+len(n.outputs))
	for _, p := range n.inputs {
		out = append(out, p)
	}
	for _, p := range n.outputs {
		out = append(out, p)
	}
	return out
}

// stateRank orders the four port-driven states from weakest to strongest;
// Init/Error/Idle are reached only through explicit transitions, never
// through aggregation.
var stateRank = map[wire.NodeState]int{
	wire.NodeConfigure: 0, wire.NodeReady: 1, wire.NodePaused: 2, wire.NodeStreaming: 3,
}

var rankToState = [...]wire.NodeState{wire.NodeConfigure, wire.NodeReady, wire.NodePaused, wire.NodeStreaming}

// SyncState recomputes the node's aggregate state as the weakest of its
// ports' states (§4.2's port-state vocabulary doubling as §3's per-node
// state for the single-port-per-direction nodes this daemon ships). A
// link calls this after every set_format/use_buffers/alloc_buffers it
// drives, so that §4.3's "o = output.node.state" reads reflect the port
// work the link itself just did.
func (n *Node) SyncState() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == wire.NodeError || n.state == wire.NodeInit {
		return
	}
	ports := n.allPortsLocked()
	min := -1
	for _, p := range ports {
		r, ok := stateRank[p.State()]
		if !ok {
			continue
		}
		if min == -1 || r < min {
			min = r
		}
	}
	if min == -1 {
		return
	}
	n.setState(rankToState[min])
}

func (n *Node) State() wire.NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// setState transitions state and, if it actually changed, emits
// EvStateChanged -- the event a link observes to re-run check (§4.3).
func (n *Node) setState(s wire.NodeState) {
	old := n.state
	if old == s {
		return
	}
	n.state = s
	cb := n.onEvent
	if cb != nil {
		cb(Event{Kind: EvStateChanged, OldState: old, NewState: s})
	}
}

func (n *Node) GetProps() Props {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(Props, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}
	return out
}

// SetProps merges p into the node's properties; setting "live" also sets
// the node's live flag reported by Live (§4.1). Port capability flags are
// not changed.
func (n *Node) SetProps(p Props) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, v := range p {
		n.props[k] = v
	}
	if live, ok := p["live"].(bool); ok {
		n.live = live
	}
}

func (n *Node) Live() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.live
}

func (n *Node) SetEventCallback(cb EventCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onEvent = cb
}

// NextSeq allocates the next monotonically increasing async-completion
// sequence number for this node (§3 invariant, §8 property 4).
func (n *Node) NextSeq() int64 { return n.seq.Inc() }

// StartTime returns the nanosecond timestamp recorded at the node's first
// Start command, or 0 if it has never started (§8 S5).
func (n *Node) StartTime() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startTime
}

// SendCommand implements §4.1's send_command. Start/Pause/Flush/Marker/
// ClockUpdate complete synchronously for every node this implementation
// ships; Drain is genuinely asynchronous -- it must wait for the data
// loop to exhaust in-flight buffers -- so it returns AsyncPending and the
// caller later invokes CompleteAsync once the data loop acknowledges.
func (n *Node) SendCommand(cmd wire.Command) (wire.Result, int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch cmd {
	case wire.CmdStart:
		for _, p := range n.allPortsLocked() {
			if _, ok := p.GetFormat(); !ok {
				return wire.NoFormat, 0
			}
			if len(p.Buffers()) == 0 {
				return wire.NoBuffers, 0
			}
		}
		if n.startTime == 0 {
			n.startTime = mono.NanoTime()
		}
		for _, p := range n.allPortsLocked() {
			p.SetStreaming(true)
		}
		n.setState(wire.NodeStreaming)
		return wire.Ok, 0

	case wire.CmdPause:
		for _, p := range n.allPortsLocked() {
			p.SetStreaming(false)
		}
		n.setState(wire.NodePaused)
		return wire.Ok, 0

	case wire.CmdFlush, wire.CmdMarker, wire.CmdClockUpdate:
		return wire.Ok, 0

	case wire.CmdDrain:
		seq := n.seq.Inc()
		n.draining = true
		n.drainSeq = seq
		return wire.AsyncPending, seq

	default:
		return wire.InvalidArguments, 0
	}
}

// PollDrain reports and clears a pending Drain completion. The data loop
// calls this once per tick for every attached node: this implementation has
// no per-buffer in-flight queue spanning ticks, so a node's in-flight
// buffers are exhausted by the time the next tick observes it, and that
// tick is where the drain completes (§4.1 "Drain is genuinely asynchronous",
// §9 async completion coupling).
func (n *Node) PollDrain() (seq int64, pending bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.draining {
		return 0, false
	}
	seq = n.drainSeq
	n.draining = false
	return seq, true
}

// CompleteAsync fires the node's EvAsyncComplete event for a previously
// issued AsyncPending seq (§4.1 event callback, §9 async completion coupling).
func (n *Node) CompleteAsync(seq int64, result wire.Result) {
	n.mu.Lock()
	cb := n.onEvent
	n.mu.Unlock()
	if cb != nil {
		cb(Event{Kind: EvAsyncComplete, Seq: seq, Result: result})
	}
}

// Fail drops the node to Error and raises EvError; only destructors and
// registry removal may run once a node is in this state (§7 Propagation).
func (n *Node) Fail(err error) {
	n.mu.Lock()
	n.setState(wire.NodeError)
	cb := n.onEvent
	n.mu.Unlock()
	if cb != nil {
		cb(Event{Kind: EvError, Err: err})
	}
}

// IncUsedLinks/DecUsedLinks track how many attached links currently use a
// port of the given direction; when both counts drop to zero the node is
// idle (§3 supplement, §4.4 "drops that node to Idle").
func (n *Node) IncUsedLinks(dir wire.Direction) {
	if dir == wire.Input {
		n.nUsedInputLinks.Inc()
	} else {
		n.nUsedOutputLinks.Inc()
	}
}

func (n *Node) DecUsedLinks(dir wire.Direction) {
	var remaining int64
	if dir == wire.Input {
		remaining = n.nUsedInputLinks.Dec()
	} else {
		remaining = n.nUsedOutputLinks.Dec()
	}
	if remaining < 0 {
		if dir == wire.Input {
			n.nUsedInputLinks.Store(0)
		} else {
			n.nUsedOutputLinks.Store(0)
		}
	}
	n.mu.Lock()
	idle := n.nUsedInputLinks.Load() == 0 && n.nUsedOutputLinks.Load() == 0
	if idle && n.state != wire.NodeInit && n.state != wire.NodeError {
		n.setState(wire.NodeIdle)
	}
	n.mu.Unlock()
}

// Emit lets an owner (node implementation, e.g. nodes/testsrc) raise
// HaveOutput/NeedInput/ReuseBuffer directly.
func (n *Node) Emit(ev Event) {
	n.mu.Lock()
	cb := n.onEvent
	n.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
