// Package graph is the top-level façade wiring the registry, the control
// and data loops, and links together: it is where a client's "create
// node", "create link", "destroy" requests land (§2 Data flow).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package graph

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/553481221/pipewire/link"
	"github.com/553481221/pipewire/loop"
	"github.com/553481221/pipewire/metrics"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/pool"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/registry"
	"github.com/553481221/pipewire/wire"
)

// Graph owns the one registry and one control loop a daemon process has
// (§9 "Global state" -- modelled as explicit dependencies, not
// singletons) plus the data loops nodes are distributed across.
type Graph struct {
	Pool      *pool.Pool
	Registry  *registry.Registry
	Control   *loop.ControlLoop
	dataLoops []*loop.DataLoop
	metrics   *metrics.Metrics

	mu         sync.Mutex
	nodes      map[string]*node.Node
	nodeLoop   map[string]*loop.DataLoop
	links      map[string]*link.Link
	nodeLinks  map[string][]string // node id -> link ids touching it
	nextLinkID int
}

// New wires a graph around an already-constructed pool, registry, control
// loop, and at least one data loop.
func New(p *pool.Pool, reg *registry.Registry, control *loop.ControlLoop, dataLoops ...*loop.DataLoop) *Graph {
	return &Graph{
		Pool: p, Registry: reg, Control: control, dataLoops: dataLoops,
		nodes: make(map[string]*node.Node), nodeLoop: make(map[string]*loop.DataLoop),
		links: make(map[string]*link.Link), nodeLinks: make(map[string][]string),
	}
}

// SetMetrics wires m into the pool's region-count hook, the control loop's
// tick hook, and every data loop's per-frame hook (§5 Metrics). Optional --
// a graph built without it just runs unmetered.
func (g *Graph) SetMetrics(m *metrics.Metrics) {
	g.metrics = m
	g.Pool.SetOnChange(m.SetPoolRegionsActive)
	g.Control.SetOnTick(m.ControlLoopTick)
	for _, dl := range g.dataLoops {
		dl.SetOnFrame(m.DataLoopFrame)
	}
}

// AddNode attaches n to the given data loop, registers it, and wires its
// event callback to re-run Check on every link touching it whenever its
// state changes (§4.3 "on every relevant event ... either node's state
// change").
func (g *Graph) AddNode(n *node.Node, dl *loop.DataLoop) {
	g.mu.Lock()
	g.nodes[n.ID] = n
	g.nodeLoop[n.ID] = dl
	g.mu.Unlock()

	dl.Attach(n)
	g.Registry.Add(n.ID, "node", map[string]any{"name": n.Name})

	n.SetEventCallback(func(ev node.Event) {
		if ev.Kind == node.EvStateChanged {
			id := n.ID
			g.Control.Defer(func() { g.recheckLinksOf(id) })
		}
		if ev.Kind == node.EvError {
			g.Registry.InfoChanged(n.ID, 1, map[string]any{"error": fmt.Sprint(ev.Err)})
		}
	})
}

func (g *Graph) recheckLinksOf(nodeID string) {
	g.mu.Lock()
	ids := append([]string(nil), g.nodeLinks[nodeID]...)
	g.mu.Unlock()
	for _, id := range ids {
		g.mu.Lock()
		l := g.links[id]
		g.mu.Unlock()
		if l != nil {
			l.Check()
		}
	}
}

// CreateLink creates a link between an output port and an input port and
// schedules its first Check on the control loop (§2 Data flow).
func (g *Graph) CreateLink(outNodeID string, outPortID int, inNodeID string, inPortID int, filter *port.Filter) (*link.Link, error) {
	g.mu.Lock()
	out, ok := g.nodes[outNodeID]
	if !ok {
		g.mu.Unlock()
		return nil, errors.Errorf("graph: no such node %q", outNodeID)
	}
	in, ok := g.nodes[inNodeID]
	if !ok {
		g.mu.Unlock()
		return nil, errors.Errorf("graph: no such node %q", inNodeID)
	}
	g.nextLinkID++
	id := fmt.Sprintf("link-%d", g.nextLinkID)
	g.mu.Unlock()

	outPort, ok := out.Port(wire.Output, outPortID)
	if !ok {
		return nil, errors.Errorf("graph: node %q has no output port %d", outNodeID, outPortID)
	}
	inPort, ok := in.Port(wire.Input, inPortID)
	if !ok {
		return nil, errors.Errorf("graph: node %q has no input port %d", inNodeID, inPortID)
	}

	l := link.New(id, g.Pool, out, outPort, in, inPort, filter)
	l.SetOnStateChange(func(l *link.Link, old, new wire.LinkState, errMsg string) {
		g.Registry.LinkStateChanged(l.ID, old.String(), new.String(), errMsg)
		if g.metrics != nil {
			g.metrics.SetLinkState(l.ID, new)
		}
	})

	g.mu.Lock()
	g.links[id] = l
	g.nodeLinks[outNodeID] = append(g.nodeLinks[outNodeID], id)
	g.nodeLinks[inNodeID] = append(g.nodeLinks[inNodeID], id)
	g.mu.Unlock()

	g.Registry.Add(id, "link", map[string]any{"output": outNodeID, "input": inNodeID})
	g.Control.Defer(l.Check)
	return l, nil
}

// DestroyLink runs the two-phase teardown of §4.4 and removes the link
// from the registry.
func (g *Graph) DestroyLink(id string) {
	g.mu.Lock()
	l, ok := g.links[id]
	if ok {
		delete(g.links, id)
		g.forgetLinkLocked(id)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	// This data loop holds no per-link runtime pointers to detach (it
	// dispatches by re-reading each attached node's state every tick), so
	// the detach half of the two-phase teardown is a direct pass-through;
	// the RequestDestroy API still models the split for a future data
	// loop implementation that does hold such pointers (§4.4).
	l.RequestDestroy(func(finalize func()) { finalize() })
	g.Registry.Remove(id)
}

func (g *Graph) forgetLinkLocked(id string) {
	for nodeID, ids := range g.nodeLinks {
		kept := ids[:0]
		for _, existing := range ids {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		g.nodeLinks[nodeID] = kept
	}
}

// DestroyNode destroys every link touching id (as the "lost port" path of
// §4.4/§7 -- not an error, the link transitions to Unlinked then is torn
// down), removes id's data-loop attachment, and removes it from the
// registry.
func (g *Graph) DestroyNode(id string) {
	g.mu.Lock()
	n := g.nodes[id]
	linkIDs := append([]string(nil), g.nodeLinks[id]...)
	dl := g.nodeLoop[id]
	delete(g.nodes, id)
	delete(g.nodeLoop, id)
	g.mu.Unlock()

	for _, lid := range linkIDs {
		g.mu.Lock()
		l := g.links[lid]
		g.mu.Unlock()
		if l == nil {
			continue
		}
		l.OnPortDestroyed()
		g.DestroyLink(lid)
	}

	// Release any region the node's own ports allocated themselves
	// (CanAllocBuffers): that ownership belongs to the port, not to any
	// link that used to point at it, so it is only released here, on the
	// port's own destruction -- never by a link's finalize.
	if n != nil {
		for _, p := range append(n.Ports(wire.Output), n.Ports(wire.Input)...) {
			if region, ok := p.ClearFormat().(*pool.Region); ok {
				region.Unref()
			}
		}
	}

	if dl != nil {
		dl.Detach(id, nil)
	}
	g.Registry.Remove(id)
}

// Link looks up a link by id.
func (g *Graph) Link(id string) (*link.Link, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.links[id]
	return l, ok
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*node.Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	return n, ok
}
