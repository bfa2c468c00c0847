package loop

import (
	"sync"
	"time"

	"github.com/553481221/pipewire/cmn/atomic"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/wire"
)

// DataLoop is Component G: a single-threaded real-time loop that owns the
// per-frame handoff of buffers for every node attached to it (§3, §5). One
// data loop may serve many nodes; a node belongs to exactly one data loop
// at a time.
type DataLoop struct {
	mu       sync.Mutex
	nodes    map[string]*node.Node
	interval time.Duration
	ticks    atomic.Int64
	done     chan struct{}
	wg       sync.WaitGroup

	onFrame func(nodeID string)
}

// SetOnFrame installs a hook run once per successful Process call this loop
// drives (pipewire_data_loop_frames_total).
func (d *DataLoop) SetOnFrame(fn func(nodeID string)) { d.onFrame = fn }

// NewDataLoop builds a data loop that ticks every interval; interval is
// the period between process_output/process_input invocations for every
// attached streaming node.
func NewDataLoop(interval time.Duration) *DataLoop {
	return &DataLoop{nodes: make(map[string]*node.Node), interval: interval, done: make(chan struct{})}
}

// Attach adds a node to this loop's frame-processing set.
func (d *DataLoop) Attach(n *node.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[n.ID] = n
}

// Detach removes id from this loop's frame-processing set under the
// loop's own ordering discipline: the removal waits for any in-flight tick
// to finish, so no tick can observe a half-removed node, then onDetached
// is invoked once the removal has taken effect (§4.4's two-phase link
// destruction calls this the "data loop detach").
func (d *DataLoop) Detach(id string, onDetached func()) {
	d.mu.Lock()
	delete(d.nodes, id)
	d.mu.Unlock()
	if onDetached != nil {
		onDetached()
	}
}

// Start runs the loop's ticking goroutine.
func (d *DataLoop) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *DataLoop) run() {
	defer d.wg.Done()
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			d.tick()
		case <-d.done:
			return
		}
	}
}

func (d *DataLoop) tick() {
	// Held for the whole tick so Attach/Detach only take effect between ticks.
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, n := range d.nodes {
		if seq, pending := n.PollDrain(); pending {
			n.CompleteAsync(seq, wire.Ok)
		}
		if n.Process == nil || n.State() != wire.NodeStreaming {
			continue
		}
		if res := n.Process(n); res != wire.Ok && res != wire.AsyncPending {
			n.Fail(wireResultError(res))
			continue
		}
		if d.onFrame != nil {
			d.onFrame(n.ID)
		}
	}
	d.ticks.Inc()
}

// Stop signals the loop to exit and waits for it.
func (d *DataLoop) Stop() {
	close(d.done)
	d.wg.Wait()
}

// Ticks reports how many frame ticks this loop has run. The
// pipewire_data_loop_frames_total metric is fed by the onFrame hook, not
// by this counter.
func (d *DataLoop) Ticks() int64 { return d.ticks.Load() }

type resultError wire.Result

func (e resultError) Error() string { return wire.Result(e).String() }

func wireResultError(r wire.Result) error { return resultError(r) }
