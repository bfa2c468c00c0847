package loop_test

import (
	"testing"
	"time"

	"github.com/553481221/pipewire/buffer"
	"github.com/553481221/pipewire/cmn/atomic"
	"github.com/553481221/pipewire/loop"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
	"github.com/stretchr/testify/require"
)

func makeStreamingNode(t *testing.T, onProcess func()) *node.Node {
	t.Helper()
	n := node.New("n1", "test", nil)
	f := port.Format{MediaType: "audio/raw", Rate: 44100, Channels: 2, Format: "s16le"}
	p := port.New(0, wire.Output, port.CanAllocBuffers, []port.Format{f}, port.AllocInfo{MinSize: 64})
	n.AddPort(p)
	_, res := p.SetFormat(port.Fixed, f)
	require.Equal(t, wire.Ok, res)
	require.Equal(t, wire.Ok, p.SetBuffers([]*buffer.Buffer{{ID: 0}}, true, nil))
	n.Process = func(n *node.Node) wire.Result {
		onProcess()
		return wire.Ok
	}
	res2, _ := n.SendCommand(wire.CmdStart)
	require.Equal(t, wire.Ok, res2)
	return n
}

func TestControlLoopPreservesFIFOOrder(t *testing.T) {
	c := loop.NewControlLoop()
	c.Start()
	defer c.Stop()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		c.Defer(func() {
			got = append(got, i)
			if i == 4 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deferred tasks")
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestControlLoopCompleteFiresContinuationOnce(t *testing.T) {
	c := loop.NewControlLoop()
	c.Start()
	defer c.Stop()

	fired := make(chan wire.Result, 2)
	c.Register("node-1", 7, func(r wire.Result) { fired <- r })
	c.Complete("node-1", 7, wire.Ok)
	c.Complete("node-1", 7, wire.Ok) // second completion for the same key is a no-op

	select {
	case r := <-fired:
		require.Equal(t, wire.Ok, r)
	case <-time.After(time.Second):
		t.Fatal("continuation never fired")
	}
	require.Equal(t, 0, c.Pending())

	select {
	case <-fired:
		t.Fatal("continuation fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestControlLoopOnTickFiresPerTask(t *testing.T) {
	c := loop.NewControlLoop()
	var ticks atomic.Int64
	c.SetOnTick(func() { ticks.Add(1) })
	c.Start()
	defer c.Stop()

	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		c.Defer(func() {})
	}
	c.Defer(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for deferred tasks")
	}
	require.EqualValues(t, 4, ticks.Load())
}

func TestDataLoopTicksAttachedNodes(t *testing.T) {
	d := loop.NewDataLoop(5 * time.Millisecond)
	d.Start()
	defer d.Stop()

	processed := make(chan struct{}, 10)
	n := makeStreamingNode(t, func() {
		select {
		case processed <- struct{}{}:
		default:
		}
	})
	d.Attach(n)

	select {
	case <-processed:
	case <-time.After(time.Second):
		t.Fatal("node was never processed")
	}
}

func TestDataLoopTickCompletesPendingDrain(t *testing.T) {
	d := loop.NewDataLoop(5 * time.Millisecond)
	d.Start()
	defer d.Stop()

	n := makeStreamingNode(t, func() {})
	completed := make(chan wire.Result, 1)
	n.SetEventCallback(func(ev node.Event) {
		if ev.Kind == node.EvAsyncComplete {
			completed <- ev.Result
		}
	})
	d.Attach(n)

	_, seq := n.SendCommand(wire.CmdDrain)
	require.NotZero(t, seq)

	select {
	case r := <-completed:
		require.Equal(t, wire.Ok, r)
	case <-time.After(time.Second):
		t.Fatal("drain was never completed")
	}
}

func TestDataLoopFramesInvokeOnFrameHook(t *testing.T) {
	d := loop.NewDataLoop(5 * time.Millisecond)
	framed := make(chan string, 10)
	d.SetOnFrame(func(nodeID string) {
		select {
		case framed <- nodeID:
		default:
		}
	})
	d.Start()
	defer d.Stop()

	n := makeStreamingNode(t, func() {})
	d.Attach(n)

	select {
	case id := <-framed:
		require.Equal(t, "n1", id)
	case <-time.After(time.Second):
		t.Fatal("onFrame hook never fired")
	}
}

func TestDataLoopDetachStopsProcessing(t *testing.T) {
	d := loop.NewDataLoop(5 * time.Millisecond)
	d.Start()
	defer d.Stop()

	var calls atomic.Int64
	n := makeStreamingNode(t, func() { calls.Add(1) })
	d.Attach(n)
	time.Sleep(20 * time.Millisecond)

	detached := make(chan struct{})
	d.Detach(n.ID, func() { close(detached) })
	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("detach callback never fired")
	}

	before := calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, calls.Load(), "a detached node must not be processed")
}
