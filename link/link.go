// Package link implements Component E: the negotiate → allocate → start
// state machine driving an output port and an input port toward Running
// (§3 Link, §4.3, §4.4). Grounded directly on the negotiate/allocate/start
// sequence of the original daemon's link.c.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package link

import (
	"fmt"
	"sync"

	"github.com/553481221/pipewire/buffer"
	"github.com/553481221/pipewire/cmn/cos"
	"github.com/553481221/pipewire/cmn/nlog"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/pool"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
)

// maxBuffers is the fallback buffer count when a side declares
// max_buffers=0 (§4.5, §8 property 9).
const maxBuffers = 16

// maxCheckRestarts bounds Check's re-entrant restart loop (§4.3
// "Re-entrancy"); the state machine is monotone so in practice this never
// comes close to firing, but an unconditional for{} would turn a logic bug
// into a livelock instead of a test failure.
const maxCheckRestarts = 8

// StateChangeFunc announces link_state_changed to the link's owner (the
// registry wires this to a broadcast, §6).
type StateChangeFunc func(l *Link, old, new wire.LinkState, errMsg string)

// Link is Component E proper (§3 Link).
type Link struct {
	mu sync.Mutex

	ID string

	Output     *node.Node
	OutputPort *port.Port
	Input      *node.Node
	InputPort  *port.Port

	filter *port.Filter

	state  wire.LinkState
	errMsg string

	allocated bool // true iff the link itself owns the shared pool region
	region    *pool.Region

	onStateChange StateChangeFunc
	pool          *pool.Pool

	removed bool
}

// New builds a link in state Init; negotiation has not run yet. Callers
// must call Check to drive it forward.
func New(id string, p *pool.Pool, out *node.Node, outPort *port.Port, in *node.Node, inPort *port.Port, filter *port.Filter) *Link {
	return &Link{
		ID: id, Output: out, OutputPort: outPort, Input: in, InputPort: inPort,
		filter: filter, pool: p, state: wire.LinkInit,
	}
}

func (l *Link) State() wire.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Error() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errMsg
}

func (l *Link) SetOnStateChange(cb StateChangeFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStateChange = cb
}

func (l *Link) setStateLocked(s wire.LinkState, errMsg string) {
	old := l.state
	if old == s {
		return
	}
	l.state = s
	l.errMsg = errMsg
	nlog.Infof("link %s: %s -> %s", l.ID, old, s)
	if l.onStateChange != nil {
		l.onStateChange(l, old, s, errMsg)
	}
}

func (l *Link) fail(msg string) error {
	l.setStateLocked(wire.LinkError, msg)
	return fmt.Errorf("%s", msg)
}

// Check runs negotiate → allocate → start, in order, re-reading node
// states after each sub-step; if either node's state changed under a
// sub-step it restarts from the top, bounded by maxCheckRestarts since the
// state machine is monotone (§4.3 Re-entrancy).
func (l *Link) Check() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed || l.state == wire.LinkError || l.state == wire.LinkUnlinked {
		return
	}
	for i := 0; i < maxCheckRestarts; i++ {
		oBefore, iBefore := l.Output.State(), l.Input.State()

		if err := l.negotiate(); err != nil {
			return
		}
		if err := l.allocate(); err != nil {
			return
		}
		if err := l.start(); err != nil {
			return
		}

		oAfter, iAfter := l.Output.State(), l.Input.State()
		if oAfter == oBefore && iAfter == iBefore {
			return
		}
	}
}

// negotiate implements §4.3 Negotiate. Resolves the first Open Question
// (SPEC_FULL.md §3): on an immediate EnumEnd from the output side, restart
// iteration with the next input candidate -- never rewind the input
// iterator, and fail once the input side is exhausted.
func (l *Link) negotiate() error {
	oState, iState := l.Output.State(), l.Input.State()
	if oState != wire.NodeConfigure && iState != wire.NodeConfigure {
		return nil // already past negotiation
	}

	if oState == wire.NodeConfigure && iState == wire.NodeConfigure {
		var chosen port.Format
		found := false
		cursor := 0
		for {
			fIn, next, res := l.InputPort.EnumFormats(l.filter, cursor)
			if res == wire.EnumEnd {
				break
			}
			cursor = next
			fOut, _, outRes := l.OutputPort.EnumFormats(fIn.AsFilter(), 0)
			if outRes == wire.EnumEnd {
				continue // restart output iteration with the next input candidate
			}
			chosen = fOut
			found = true
			break
		}
		if !found {
			return l.fail("no common format")
		}
		if _, res := l.OutputPort.SetFormat(port.Nearest, chosen); res != wire.Ok {
			return l.fail(fmt.Sprintf("set_format rejected on output: %s", res))
		}
		if _, res := l.InputPort.SetFormat(port.Nearest, chosen); res != wire.Ok {
			return l.fail(fmt.Sprintf("set_format rejected on input: %s", res))
		}
		l.Output.SyncState()
		l.Input.SyncState()
		if l.state == wire.LinkInit {
			l.setStateLocked(wire.LinkNegotiating, "")
		}
		return nil
	}

	// Exactly one side is at Configure: copy the other side's already
	// chosen format across (§4.3 step 4, "if only one side is at Configure").
	var from, to *port.Port
	if oState == wire.NodeConfigure {
		from, to = l.InputPort, l.OutputPort
	} else {
		from, to = l.OutputPort, l.InputPort
	}
	f, ok := from.GetFormat()
	if !ok {
		return l.fail("no common format")
	}
	if _, res := to.SetFormat(port.Fixed, f); res != wire.Ok {
		return l.fail(fmt.Sprintf("set_format rejected: %s", res))
	}
	l.Output.SyncState()
	l.Input.SyncState()
	if l.state == wire.LinkInit {
		l.setStateLocked(wire.LinkNegotiating, "")
	}
	return nil
}

// allocate implements §4.3 Allocate once both ports are Ready.
func (l *Link) allocate() error {
	oState, iState := l.Output.State(), l.Input.State()
	if oState != wire.NodeReady || iState != wire.NodeReady {
		return nil
	}

	// Reused-output adoption (§4.3 "If the output already has allocated
	// buffers from a previous link").
	if l.OutputPort.Allocated() {
		region, _ := l.OutputPort.Region().(*pool.Region)
		if res := l.InputPort.SetBuffers(l.OutputPort.Buffers(), false, region); res != wire.Ok {
			return l.fail("use_buffers failed adopting reused output buffers")
		}
		l.afterAllocate()
		return nil
	}

	outInfo, inInfo := l.OutputPort.Info(), l.InputPort.Info()
	outFlags, inFlags := l.OutputPort.Flags, l.InputPort.Flags

	n := bufferCount(outInfo, inInfo)
	minSize := maxI64(outInfo.MinSize, inInfo.MinSize)
	stride := maxI64(outInfo.Stride, inInfo.Stride)
	align := maxI64(outInfo.Align, inInfo.Align)
	metas := unionMetas(outInfo.EnabledMetas, inInfo.EnabledMetas)
	rb := outInfo.Ringbuffer
	if rb == nil {
		rb = inInfo.Ringbuffer
	}

	alloc := func() ([]*buffer.Buffer, *pool.Region, error) {
		return layoutBuffers(l.pool, n, minSize, stride, align, metas, rb)
	}

	switch {
	case outFlags.Has(port.CanAllocBuffers) && inFlags.Has(port.CanUseBuffers):
		bufs, region, err := alloc()
		if err != nil {
			return l.fail(err.Error())
		}
		l.OutputPort.SetBuffers(bufs, true, region)
		l.InputPort.SetBuffers(bufs, false, region)

	case outFlags.Has(port.CanUseBuffers) && inFlags.Has(port.CanAllocBuffers):
		bufs, region, err := alloc()
		if err != nil {
			return l.fail(err.Error())
		}
		l.InputPort.SetBuffers(bufs, true, region)
		l.OutputPort.SetBuffers(bufs, false, region)

	case outFlags.Has(port.CanUseBuffers) && inFlags.Has(port.CanUseBuffers):
		bufs, region, err := alloc()
		if err != nil {
			return l.fail(err.Error())
		}
		l.allocated = true
		l.region = region
		l.OutputPort.SetBuffers(bufs, false, region)
		l.InputPort.SetBuffers(bufs, false, region)

	case outFlags.Has(port.CanAllocBuffers) && inFlags.Has(port.CanAllocBuffers):
		// Arbitrary tie-break: output allocates (§4.3 step 4).
		bufs, region, err := alloc()
		if err != nil {
			return l.fail(err.Error())
		}
		l.OutputPort.SetBuffers(bufs, true, region)
		l.InputPort.SetBuffers(bufs, false, region)

	default:
		return l.fail("no common buffer alloc")
	}

	l.afterAllocate()
	return nil
}

// afterAllocate propagates liveness and used-link accounting, mirroring
// the original daemon setting this->output->node->live and
// this->input->node->live inside do_allocation (SPEC_FULL.md §3).
func (l *Link) afterAllocate() {
	l.Output.SyncState()
	l.Input.SyncState()
	if l.Output.Live() || l.Input.Live() {
		l.Output.SetProps(node.Props{"live": true})
		l.Input.SetProps(node.Props{"live": true})
	}
	l.Output.IncUsedLinks(wire.Output)
	l.Input.IncUsedLinks(wire.Input)
}

// start implements §4.3 Start.
func (l *Link) start() error {
	oState, iState := l.Output.State(), l.Input.State()
	atLeastPaused := func(s wire.NodeState) bool { return s == wire.NodePaused || s == wire.NodeStreaming }
	if !atLeastPaused(oState) || !atLeastPaused(iState) {
		return nil
	}

	if oState == wire.NodeStreaming && iState == wire.NodeStreaming {
		l.setStateLocked(wire.LinkRunning, "")
		return nil
	}
	if oState == wire.NodePaused && iState == wire.NodePaused {
		l.setStateLocked(wire.LinkPaused, "")
		return nil
	}

	// One side streaming, the other merely paused: command the paused
	// side to catch up.
	laggard := l.Output
	if oState == wire.NodeStreaming {
		laggard = l.Input
	}
	if res, _ := laggard.SendCommand(wire.CmdStart); res != wire.Ok && res != wire.AsyncPending {
		return l.fail(fmt.Sprintf("start failed: %s", res))
	}
	l.setStateLocked(wire.LinkPaused, "")
	return nil
}

// OnPortDestroyed implements the "lost port" error path (§4.4, §7): not
// an error, the link transitions to Unlinked and the caller is expected to
// follow up with RequestDestroy.
func (l *Link) OnPortDestroyed() {
	l.mu.Lock()
	l.setStateLocked(wire.LinkUnlinked, "")
	l.mu.Unlock()
}

// RequestDestroy runs the two-phase teardown of §4.4: detach is invoked
// first (the caller's data-loop detach under its own ordering discipline);
// once detach calls the finalize continuation it passes through, the link
// is finalised -- any link-owned pool region freed, and both nodes'
// used-link counts decremented (dropping a node to Idle once both of its
// counts are zero, §3 supplement). Removing the link from the registry is
// left to the caller (graph.DestroyLink).
func (l *Link) RequestDestroy(detach func(finalize func())) {
	detach(l.finalize)
}

// finalize releases only the reference the link itself holds: one taken on
// the shared region when both sides only use buffers (the link allocates
// and owns that region, §4.3 "both use" case). A port that allocated its
// own buffers (CanAllocBuffers) keeps its reference regardless of which
// links to it come and go -- that reference is released when the port's
// own format/buffers are cleared, not when an unrelated link dies.
func (l *Link) finalize() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return
	}
	l.removed = true

	if l.allocated && l.region != nil {
		l.region.Unref()
	}

	l.Output.DecUsedLinks(wire.Output)
	l.Input.DecUsedLinks(wire.Input)
	l.setStateLocked(wire.LinkUnlinked, "")
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// bufferCount applies the per-side parameter maxima of §4.5/§8 property 9
// (max_buffers=0 -> 16) and §8 property 10/§9 (a ringbuffer meta on either
// side forces exactly 1).
func bufferCount(a, b port.AllocInfo) int {
	if a.Ringbuffer != nil || b.Ringbuffer != nil {
		return 1
	}
	amax, bmax := a.MaxBuffers, b.MaxBuffers
	if amax == 0 {
		amax = maxBuffers
	}
	if bmax == 0 {
		bmax = maxBuffers
	}
	n := amax
	if bmax < n {
		n = bmax
	}
	min := a.MinBuffers
	if b.MinBuffers > min {
		min = b.MinBuffers
	}
	if n < min {
		n = min
	}
	if n <= 0 {
		n = 1
	}
	return n
}

func unionMetas(a, b []wire.MetaType) []wire.MetaType {
	seen := map[wire.MetaType]bool{}
	out := make([]wire.MetaType, 0, len(a)+len(b))
	for _, t := range append(append([]wire.MetaType{}, a...), b...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ptrEntrySize is the size of one entry in a buffer region's leading
// ptr_array, sized for a 64-bit pointer/offset table (§4.5 layout).
const ptrEntrySize = 8

// layoutBuffers allocates one pool region and lays out n buffers
// contiguously inside it: [ptr_array | buf0 metas data | buf1 ... ], each
// buffer rounded up to a 64-byte boundary, headers zero-initialised and
// ringbuffers initialised with minsize (§4.5, §8 S2/S6, §9).
func layoutBuffers(p *pool.Pool, n int, minSize, stride, align int64, metas []wire.MetaType, rb *wire.RingbufferParam) ([]*buffer.Buffer, *pool.Region, error) {
	var metaSize int64
	for _, t := range metas {
		metaSize += buffer.MetaSize(t)
	}
	perBuffer := cos.RoundUpN(metaSize+minSize, 64)
	ptrArraySize := int64(n) * ptrEntrySize
	total := ptrArraySize + int64(n)*perBuffer

	region, err := p.Alloc(total)
	if err != nil {
		return nil, nil, fmt.Errorf("buffer allocation: %w", err)
	}

	bufs := make([]*buffer.Buffer, n)
	offset := ptrArraySize
	for i := 0; i < n; i++ {
		b := &buffer.Buffer{ID: i}
		for _, t := range metas {
			sz := buffer.MetaSize(t)
			m := buffer.Meta{Type: t, Mem: buffer.NewPoolRef(region, offset, sz)}
			switch t {
			case wire.MetaHeader:
				buffer.PutHeader(m, wire.HeaderMeta{})
			case wire.MetaRingbuffer:
				capacity := uint32(0)
				if rb != nil {
					capacity = uint32(rb.MinSize)
				}
				buffer.InitRingbuffer(m, capacity)
			}
			b.Metas = append(b.Metas, m)
			offset += sz
		}
		dataSize := perBuffer - metaSize
		dataMem := buffer.NewPoolRef(region, offset, dataSize)
		b.Datas = []buffer.DataBlock{{Mem: dataMem, Chunk: buffer.Chunk{Size: dataSize, Stride: stride}}}
		offset += dataSize
		bufs[i] = b
	}
	_ = align // alignment is satisfied by the 64-byte buffer rounding; no per-block realignment needed at these sizes
	return bufs, region, nil
}
