// Package testsrc implements a live audio test source: a sine/square wave
// generator exposing one output port, grounded on the original daemon's
// audiotestsrc.c element (wave/freq/volume/live properties, pts/seq
// computed per output buffer).
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package testsrc

import (
	"encoding/binary"
	"math"

	"github.com/553481221/pipewire/buffer"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/wire"
)

// Wave selects the generated waveform (audiotestsrc.c supports several;
// this implementation ships the two simplest).
type Wave int

const (
	WaveSine Wave = iota
	WaveSquare
)

// Source is a live (or non-live) audio test source node.
type Source struct {
	*node.Node

	Wave   Wave
	Freq   float64
	Volume float64

	rate     int
	channels int
	outPort  *port.Port

	seq             uint64
	samplesProduced uint64
}

// New builds a test source with one output port declaring raw audio at
// rate/channels, CanAllocBuffers, and a Header meta on every buffer.
func New(id string, rate, channels int, wave Wave, freq, volume float64, live bool) *Source {
	n := node.New(id, "testsrc", node.Props{"wave": wave, "freq": freq, "volume": volume, "live": live})
	f := port.Format{MediaType: "audio/raw", Rate: rate, Channels: channels, Format: "s16le"}
	bpf := int64(channels) * 2
	p := port.New(0, wire.Output, port.CanAllocBuffers, []port.Format{f}, port.AllocInfo{
		MinSize: bpf * 1024, Stride: bpf, MinBuffers: 2, MaxBuffers: 8,
		EnabledMetas: []wire.MetaType{wire.MetaHeader},
	})
	n.AddPort(p)

	s := &Source{Node: n, Wave: wave, Freq: freq, Volume: volume, rate: rate, channels: channels, outPort: p}
	if live {
		n.SetProps(node.Props{"live": true})
	}
	n.Process = s.process
	return s
}

// process fills the next output buffer in rotation with one block of
// generated samples and stamps its Header meta (§8 S1, S5).
func (s *Source) process(n *node.Node) wire.Result {
	bufs := s.outPort.Buffers()
	if len(bufs) == 0 {
		return wire.NoBuffers
	}
	b := bufs[int(s.seq%uint64(len(bufs)))]

	bpf := int64(s.channels) * 2
	var nFrames int64
	if len(b.Datas) > 0 {
		data := b.Datas[0].Mem.Bytes()
		nFrames = int64(len(data)) / bpf
		s.fill(data, nFrames)
		b.Datas[0].Chunk = buffer.Chunk{Offset: 0, Size: nFrames * bpf, Stride: bpf}
	}

	if m := b.FindMeta(wire.MetaHeader); m != nil {
		start := s.Node.StartTime()
		pts := start + int64(float64(s.samplesProduced)*1e9/float64(s.rate))
		buffer.PutHeader(*m, wire.HeaderMeta{Seq: s.seq, PTS: pts})
	}

	s.seq++
	s.samplesProduced += uint64(nFrames)
	n.Emit(node.Event{Kind: node.EvHaveOutput, BufferID: b.ID})
	return wire.Ok
}

func (s *Source) fill(data []byte, nFrames int64) {
	for i := int64(0); i < nFrames; i++ {
		t := float64(s.samplesProduced+uint64(i)) / float64(s.rate)
		var v float64
		switch s.Wave {
		case WaveSquare:
			if math.Sin(2*math.Pi*s.Freq*t) >= 0 {
				v = 1
			} else {
				v = -1
			}
		default:
			v = math.Sin(2 * math.Pi * s.Freq * t)
		}
		sample := int16(v * s.Volume * 32767)
		off := int(i) * s.channels * 2
		for c := 0; c < s.channels; c++ {
			binary.LittleEndian.PutUint16(data[off+c*2:], uint16(sample))
		}
	}
}
