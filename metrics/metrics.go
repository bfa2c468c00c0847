// Package metrics registers the daemon's prometheus collectors (§5
// Metrics): control-loop ticks, data-loop frames per node, link state per
// link, and active pool regions.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/553481221/pipewire/wire"
)

// Metrics owns one independent prometheus registry per daemon process,
// mirroring this module's preference for explicit dependencies over
// package-level globals (§9 Global state).
type Metrics struct {
	reg *prometheus.Registry

	controlLoopTicks prometheus.Counter
	dataLoopFrames   *prometheus.CounterVec
	linkState        *prometheus.GaugeVec
	poolRegions      prometheus.Gauge
}

// New registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		controlLoopTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "pipewire_control_loop_ticks_total",
			Help: "Number of tasks drained off the control loop's queue.",
		}),
		dataLoopFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipewire_data_loop_frames_total",
			Help: "Number of process() invocations per node.",
		}, []string{"node_id"}),
		linkState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipewire_link_state",
			Help: "Current link.State() as a numeric wire.LinkState value.",
		}, []string{"link_id"}),
		poolRegions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pipewire_pool_regions_active",
			Help: "Number of currently-live shared-memory pool regions.",
		}),
	}
}

// ControlLoopTick increments the control-loop tick counter; called once
// per task the control loop drains.
func (m *Metrics) ControlLoopTick() { m.controlLoopTicks.Inc() }

// DataLoopFrame increments the per-node frame counter; called once per
// successful Process call a data loop drives.
func (m *Metrics) DataLoopFrame(nodeID string) { m.dataLoopFrames.WithLabelValues(nodeID).Inc() }

// SetLinkState publishes a link's current state as a gauge; called from a
// link's state-change callback.
func (m *Metrics) SetLinkState(linkID string, s wire.LinkState) {
	m.linkState.WithLabelValues(linkID).Set(float64(s))
}

// SetPoolRegionsActive publishes the pool's current live-region count;
// called after every Alloc/Unref that changes it.
func (m *Metrics) SetPoolRegionsActive(n int) { m.poolRegions.Set(float64(n)) }

// Handler serves the registry's collected metrics in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
