package port_test

import (
	"testing"

	"github.com/553481221/pipewire/buffer"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
	"github.com/stretchr/testify/require"
)

func rawFormat(rate int) port.Format {
	return port.Format{MediaType: "audio/raw", Rate: rate, Channels: 2, Format: "s16le"}
}

func newTestPort() *port.Port {
	return port.New(0, wire.Input, port.CanUseBuffers, []port.Format{rawFormat(44100), rawFormat(48000)}, port.AllocInfo{MinSize: 4096, MinBuffers: 1, MaxBuffers: 4})
}

func TestEnumFormatsTerminatesWithEnumEnd(t *testing.T) {
	p := newTestPort()
	var cursor int
	var res wire.Result
	count := 0
	for {
		_, next, r := p.EnumFormats(nil, cursor)
		res = r
		if r == wire.EnumEnd {
			break
		}
		cursor = next
		count++
		require.Less(t, count, 100, "enum_formats must terminate")
	}
	require.Equal(t, wire.EnumEnd, res)
	require.Equal(t, 2, count)
}

func TestSetFormatRoundTrip(t *testing.T) {
	p := newTestPort()
	f, res := p.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, res)
	got, ok := p.GetFormat()
	require.True(t, ok)
	require.Equal(t, f, got)
	require.Equal(t, wire.NodeReady, p.State())
}

func TestSetFormatTwiceIsNoOp(t *testing.T) {
	p := newTestPort()
	_, res1 := p.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, res1)
	_, res2 := p.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, res2)
	require.Equal(t, wire.NodeReady, p.State())
}

func TestSetFormatNearestPicksClosestCandidate(t *testing.T) {
	p := newTestPort()
	rate := 48000
	filter := port.Format{MediaType: "audio/raw", Rate: rate}
	chosen, res := p.SetFormat(port.Nearest, filter)
	require.Equal(t, wire.Ok, res)
	require.Equal(t, 48000, chosen.Rate)
	require.Equal(t, 2, chosen.Channels)
}

func TestSetFormatRejectsUnknownCandidate(t *testing.T) {
	p := newTestPort()
	_, res := p.SetFormat(port.Fixed, rawFormat(96000))
	require.Equal(t, wire.InvalidArguments, res)
}

func TestUseBuffersThenNullRestoresReady(t *testing.T) {
	p := newTestPort()
	_, res := p.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, res)

	require.Equal(t, wire.Ok, p.SetBuffers([]*buffer.Buffer{{ID: 0}}, false, nil))
	require.Equal(t, wire.NodePaused, p.State())

	res = p.SetBuffers(nil, false, nil)
	require.Equal(t, wire.Ok, res)
	require.Equal(t, wire.NodeReady, p.State())
	require.Empty(t, p.Buffers())
}

func TestClearFormatClearsBuffers(t *testing.T) {
	p := newTestPort()
	p.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, p.SetBuffers([]*buffer.Buffer{{ID: 0}}, false, nil))
	p.ClearFormat()
	_, ok := p.GetFormat()
	require.False(t, ok)
	require.Equal(t, wire.NodeConfigure, p.State())
	require.Empty(t, p.Buffers())
}

func TestClearFormatReturnsOwnedRegionOnlyWhenAllocated(t *testing.T) {
	region := "opaque-region" // port treats the region as an opaque value (any), so any value stands in for a *pool.Region

	allocating := newTestPort()
	allocating.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, allocating.SetBuffers([]*buffer.Buffer{{ID: 0}}, true, region))
	require.Equal(t, region, allocating.ClearFormat())

	using := newTestPort()
	using.SetFormat(port.Fixed, rawFormat(44100))
	require.Equal(t, wire.Ok, using.SetBuffers([]*buffer.Buffer{{ID: 0}}, false, region))
	require.Nil(t, using.ClearFormat())
}

func TestReuseBufferUnknownIdIsInvalid(t *testing.T) {
	p := newTestPort()
	require.Equal(t, wire.InvalidBufferId, p.ReuseBuffer(999))
}
