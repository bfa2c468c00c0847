package link_test

import (
	"testing"

	"github.com/553481221/pipewire/link"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/pool"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
	"github.com/stretchr/testify/require"
)

func rawFmt(rate int) port.Format {
	return port.Format{MediaType: "audio/raw", Rate: rate, Channels: 2, Format: "s16le"}
}

func newLinkedPair(t *testing.T, outFlags, inFlags port.Flags, formats []port.Format) (*link.Link, *pool.Pool, *node.Node, *node.Node) {
	t.Helper()
	p := pool.New()
	out := node.New("src", "testsrc", nil)
	in := node.New("sink", "rawsink", nil)

	outPort := port.New(0, wire.Output, outFlags, formats, port.AllocInfo{MinSize: 1024, MinBuffers: 1, MaxBuffers: 4})
	inPort := port.New(0, wire.Input, inFlags, formats, port.AllocInfo{MinSize: 1024, MinBuffers: 1, MaxBuffers: 4})
	out.AddPort(outPort)
	in.AddPort(inPort)

	l := link.New("l1", p, out, outPort, in, inPort, nil)
	return l, p, out, in
}

func TestLinkReachesRunning(t *testing.T) {
	formats := []port.Format{rawFmt(44100)}
	l, _, out, in := newLinkedPair(t, port.CanAllocBuffers, port.CanUseBuffers, formats)

	l.Check()
	require.Equal(t, wire.NodePaused, out.State())
	require.Equal(t, wire.NodePaused, in.State())
	require.Equal(t, wire.LinkPaused, l.State())

	out.SendCommand(wire.CmdStart)
	in.SendCommand(wire.CmdStart)
	l.Check()

	require.Equal(t, wire.LinkRunning, l.State())
}

func TestLinkAllocatesWhenBothUseOnly(t *testing.T) {
	formats := []port.Format{rawFmt(44100)}
	l, p, _, _ := newLinkedPair(t, port.CanUseBuffers, port.CanUseBuffers, formats)
	l.Check()
	require.Equal(t, 1, p.NumRegions())
	require.NotEmpty(t, l.OutputPort.Buffers())
	require.False(t, l.OutputPort.Allocated())
	require.False(t, l.InputPort.Allocated())
}

func TestLinkErrorsOnNoCommonFormat(t *testing.T) {
	p := pool.New()
	out := node.New("src", "testsrc", nil)
	in := node.New("sink", "rawsink", nil)
	outPort := port.New(0, wire.Output, port.CanAllocBuffers, []port.Format{rawFmt(44100)}, port.AllocInfo{})
	rate := 48000
	inPort := port.New(0, wire.Input, port.CanUseBuffers, []port.Format{rawFmt(48000)}, port.AllocInfo{})
	out.AddPort(outPort)
	in.AddPort(inPort)

	l := link.New("l1", p, out, outPort, in, inPort, &port.Filter{Rate: &rate})
	l.Check()

	require.Equal(t, wire.LinkError, l.State())
	require.Contains(t, l.Error(), "no common format")
	require.Equal(t, wire.NodeConfigure, out.State())
	require.Equal(t, wire.NodeConfigure, in.State())
}

func TestLinkErrorsOnNoCommonAlloc(t *testing.T) {
	formats := []port.Format{rawFmt(44100)}
	l, _, _, _ := newLinkedPair(t, 0, 0, formats)
	l.Check()
	require.Equal(t, wire.LinkError, l.State())
	require.Contains(t, l.Error(), "no common buffer alloc")
}

func TestMaxBuffersZeroFallsBackTo16(t *testing.T) {
	p := pool.New()
	out := node.New("src", "testsrc", nil)
	in := node.New("sink", "rawsink", nil)
	formats := []port.Format{rawFmt(44100)}
	outPort := port.New(0, wire.Output, port.CanAllocBuffers, formats, port.AllocInfo{MinSize: 64, MaxBuffers: 0})
	inPort := port.New(0, wire.Input, port.CanUseBuffers, formats, port.AllocInfo{MinSize: 64, MaxBuffers: 0})
	out.AddPort(outPort)
	in.AddPort(inPort)

	l := link.New("l1", p, out, outPort, in, inPort, nil)
	l.Check()
	require.Len(t, outPort.Buffers(), 16)
}

func TestRingbufferForcesSingleBuffer(t *testing.T) {
	p := pool.New()
	out := node.New("src", "testsrc", nil)
	in := node.New("sink", "rawsink", nil)
	formats := []port.Format{rawFmt(44100)}
	rbParam := &wire.RingbufferParam{MinSize: 4096}
	outPort := port.New(0, wire.Output, port.CanAllocBuffers, formats, port.AllocInfo{MinSize: 64, MaxBuffers: 4, Ringbuffer: rbParam, EnabledMetas: []wire.MetaType{wire.MetaRingbuffer}})
	inPort := port.New(0, wire.Input, port.CanUseBuffers, formats, port.AllocInfo{MinSize: 64, MaxBuffers: 4, EnabledMetas: []wire.MetaType{wire.MetaRingbuffer}})
	out.AddPort(outPort)
	in.AddPort(inPort)

	l := link.New("l1", p, out, outPort, in, inPort, nil)
	l.Check()

	bufs := outPort.Buffers()
	require.Len(t, bufs, 1)
	m := bufs[0].FindMeta(wire.MetaRingbuffer)
	require.NotNil(t, m)
}

func TestDestroyFreesLinkOwnedRegion(t *testing.T) {
	formats := []port.Format{rawFmt(44100)}
	l, p, _, _ := newLinkedPair(t, port.CanUseBuffers, port.CanUseBuffers, formats)
	l.Check()
	require.Equal(t, 1, p.NumRegions())

	l.RequestDestroy(func(finalize func()) { finalize() })
	require.Equal(t, wire.LinkUnlinked, l.State())
	require.Equal(t, 0, p.NumRegions())
}
