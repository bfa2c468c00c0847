package graph_test

import (
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/553481221/pipewire/buffer"
	"github.com/553481221/pipewire/graph"
	"github.com/553481221/pipewire/loop"
	"github.com/553481221/pipewire/metrics"
	"github.com/553481221/pipewire/node"
	"github.com/553481221/pipewire/nodes/rawsink"
	"github.com/553481221/pipewire/nodes/testsrc"
	"github.com/553481221/pipewire/pool"
	"github.com/553481221/pipewire/port"
	"github.com/553481221/pipewire/registry"
	"github.com/553481221/pipewire/wire"
)

func newTestGraph() (*graph.Graph, *loop.DataLoop) {
	p := pool.New()
	reg := registry.New()
	control := loop.NewControlLoop()
	dl := loop.NewDataLoop(2 * time.Millisecond)
	g := graph.New(p, reg, control, dl)
	control.Start()
	dl.Start()
	return g, dl
}

func scrape(m *metrics.Metrics) string {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	return rec.Body.String()
}

var rawFormat = port.Format{MediaType: "audio/raw", Rate: 44100, Channels: 2, Format: "s16le"}

// newRingbufferNode builds a minimal one-port node declaring a ringbuffer
// meta with the given minimum size, for scenarios that need a ringbuffer
// port shape neither nodes/testsrc nor nodes/rawsink expose.
func newRingbufferNode(id string, dir wire.Direction, minSize int64) *node.Node {
	n := node.New(id, "ringbuffer-probe", nil)
	p := port.New(0, dir, port.CanAllocBuffers, []port.Format{rawFormat}, port.AllocInfo{
		MinSize: minSize, MinBuffers: 1, MaxBuffers: 1,
		EnabledMetas: []wire.MetaType{wire.MetaRingbuffer},
		Ringbuffer:   &wire.RingbufferParam{MinSize: minSize},
	})
	n.AddPort(p)
	n.Process = func(*node.Node) wire.Result { return wire.Ok }
	return n
}

var _ = Describe("graph end to end", func() {

	// S1: an unfiltered link between a live test source and a raw sink
	// reaches Running, and after ten process calls every buffer's chunk
	// stride is bpf == 2*channels. The running data loop also calls
	// Process here, so header seq numbering is checked in nodes/testsrc's
	// tests instead, where nothing else drives the source.
	It("reaches Running and fills buffers with a stride of 2*channels (S1)", func() {
		g, dl := newTestGraph()
		src := testsrc.New("n1", 44100, 2, testsrc.WaveSine, 440.0, 1.0, true)
		sink := rawsink.New("n2", []port.Format{rawFormat}, false)
		g.AddNode(src.Node, dl)
		g.AddNode(sink.Node, dl)

		_, err := g.CreateLink("n1", 0, "n2", 0, nil)
		Expect(err).NotTo(HaveOccurred())

		l, ok := g.Link("link-1")
		Expect(ok).To(BeTrue())
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkPaused))

		res, _ := src.SendCommand(wire.CmdStart)
		Expect(res).To(Equal(wire.Ok))
		res, _ = sink.SendCommand(wire.CmdStart)
		Expect(res).To(Equal(wire.Ok))

		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkRunning))

		outPort, _ := src.Port(wire.Output, 0)
		for i := 0; i < 10; i++ {
			Expect(src.Process(src.Node)).To(Equal(wire.Ok))
		}
		bufs := outPort.Buffers()
		Expect(bufs).NotTo(BeEmpty())
		for _, b := range bufs {
			Expect(b.Datas[0].Chunk.Stride).To(Equal(int64(2 * 2)))
		}
	})

	// S2: both sides declare only CanUseBuffers -- the link allocates a
	// single pool region, released after destruction.
	It("allocates a single pool region when both sides only use buffers (S2)", func() {
		g, dl := newTestGraph()
		src := testsrc.New("n1", 44100, 2, testsrc.WaveSine, 440.0, 1.0, false)
		sink := rawsink.New("n2", []port.Format{rawFormat}, false)
		outPort, _ := src.Port(wire.Output, 0)
		outPort.Flags = port.CanUseBuffers
		g.AddNode(src.Node, dl)
		g.AddNode(sink.Node, dl)

		_, err := g.CreateLink("n1", 0, "n2", 0, nil)
		Expect(err).NotTo(HaveOccurred())
		l, _ := g.Link("link-1")
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkPaused))
		Expect(g.Pool.NumRegions()).To(Equal(1))

		g.DestroyLink("link-1")
		Eventually(g.Pool.NumRegions, time.Second, 5*time.Millisecond).Should(Equal(0))
	})

	// S3: a filter that only accepts 48000 Hz against a 44100 Hz source
	// fails negotiation with "no common format"; both nodes stay in
	// Configure.
	It("fails negotiation on an incompatible filter (S3)", func() {
		g, dl := newTestGraph()
		src := testsrc.New("n1", 44100, 2, testsrc.WaveSine, 440.0, 1.0, false)
		sink := rawsink.New("n2", []port.Format{{MediaType: "audio/raw", Rate: 48000, Channels: 2, Format: "s16le"}}, false)
		g.AddNode(src.Node, dl)
		g.AddNode(sink.Node, dl)

		rate := 48000
		_, err := g.CreateLink("n1", 0, "n2", 0, &port.Filter{Rate: &rate})
		Expect(err).NotTo(HaveOccurred())
		l, _ := g.Link("link-1")

		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkError))
		Expect(l.Error()).To(ContainSubstring("no common format"))
		Expect(src.State()).To(Equal(wire.NodeConfigure))
		Expect(sink.State()).To(Equal(wire.NodeConfigure))
	})

	// S4: destroying the sink's input port mid-run drops the link to
	// Unlinked and the source to Idle once the teardown completes. The
	// source's own output port allocated the shared buffers
	// (CanAllocBuffers); destroying the unrelated input side must not
	// release that allocation out from under the still-live source.
	It("transitions Running to Unlinked when a port is destroyed (S4)", func() {
		g, dl := newTestGraph()
		src := testsrc.New("n1", 44100, 2, testsrc.WaveSine, 440.0, 1.0, true)
		sink := rawsink.New("n2", []port.Format{rawFormat}, false)
		g.AddNode(src.Node, dl)
		g.AddNode(sink.Node, dl)

		_, err := g.CreateLink("n1", 0, "n2", 0, nil)
		Expect(err).NotTo(HaveOccurred())
		l, _ := g.Link("link-1")
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkPaused))

		src.SendCommand(wire.CmdStart)
		sink.SendCommand(wire.CmdStart)
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkRunning))

		outPort, _ := src.Port(wire.Output, 0)
		Expect(outPort.Allocated()).To(BeTrue())
		regionBefore := outPort.Region()

		g.DestroyNode("n2")
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkUnlinked))
		Eventually(src.State, time.Second, 5*time.Millisecond).Should(Equal(wire.NodeIdle))

		Expect(outPort.Allocated()).To(BeTrue())
		Expect(outPort.Region()).To(Equal(regionBefore))
		Expect(outPort.Buffers()).NotTo(BeEmpty())
		Expect(src.Process(src.Node)).To(Equal(wire.Ok))
	})

	// S6: ringbuffer metas on both sides with minsize=4096 force
	// n_buffers==1, with the ringbuffer initialised to capacity 4096 and
	// both indices at zero.
	It("forces a single ringbuffer-backed buffer (S6)", func() {
		g, dl := newTestGraph()
		src := newRingbufferNode("n1", wire.Output, 4096)
		sink := newRingbufferNode("n2", wire.Input, 4096)
		g.AddNode(src, dl)
		g.AddNode(sink, dl)

		_, err := g.CreateLink("n1", 0, "n2", 0, nil)
		Expect(err).NotTo(HaveOccurred())
		l, _ := g.Link("link-1")
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkPaused))

		outPort, _ := src.Port(wire.Output, 0)
		bufs := outPort.Buffers()
		Expect(bufs).To(HaveLen(1))
		m := bufs[0].FindMeta(wire.MetaRingbuffer)
		Expect(m).NotTo(BeNil())
		rb := buffer.GetRingbuffer(*m)
		Expect(rb.Capacity).To(Equal(uint32(4096)))
		Expect(rb.ReadIndex).To(Equal(uint32(0)))
		Expect(rb.WriteIndex).To(Equal(uint32(0)))
	})

	// A graph with metrics wired exposes live pool and link-state series,
	// not permanently-zero registered-but-inert collectors.
	It("reports live pool and link state metrics once SetMetrics is wired (S7)", func() {
		g, dl := newTestGraph()
		met := metrics.New()
		g.SetMetrics(met)

		src := testsrc.New("n1", 44100, 2, testsrc.WaveSine, 440.0, 1.0, false)
		sink := rawsink.New("n2", []port.Format{rawFormat}, false)
		g.AddNode(src.Node, dl)
		g.AddNode(sink.Node, dl)

		_, err := g.CreateLink("n1", 0, "n2", 0, nil)
		Expect(err).NotTo(HaveOccurred())
		l, _ := g.Link("link-1")
		Eventually(l.State, time.Second, 5*time.Millisecond).Should(Equal(wire.LinkPaused))

		Eventually(func() string { return scrape(met) }, time.Second, 5*time.Millisecond).
			Should(ContainSubstring("pipewire_pool_regions_active 1"))
		Expect(scrape(met)).To(ContainSubstring(`pipewire_link_state{link_id="link-1"} 3`))
	})
})
