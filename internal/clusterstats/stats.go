// Package clusterstats exposes the manager's Prometheus metrics: routed
// messages, transferred objects, barrier latency, and per-module queue
// depth (spec §2 "Share" column calls out PortManager/ObjectCache's 10%
// as the counting surface this package instruments).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package clusterstats

import "github.com/prometheus/client_golang/prometheus"

type Stats struct {
	MessagesRouted   *prometheus.CounterVec
	ObjectsTransferred prometheus.Counter
	BarrierLatency   prometheus.Histogram
	QueueDepth       *prometheus.GaugeVec
	InTransitObjects prometheus.Gauge
}

func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vistle", Subsystem: "cluster", Name: "messages_routed_total",
			Help: "Control messages routed by the ClusterManager, by type.",
		}, []string{"type"}),
		ObjectsTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vistle", Subsystem: "datamgr", Name: "objects_transferred_total",
			Help: "Objects fully resolved by DataManager.",
		}),
		BarrierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vistle", Subsystem: "cluster", Name: "barrier_latency_seconds",
			Help: "Time from BARRIER broadcast to release.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vistle", Subsystem: "cluster", Name: "module_queue_depth",
			Help: "Pending messages in a module's send queue.",
		}, []string{"module"}),
		InTransitObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vistle", Subsystem: "datamgr", Name: "in_transit_objects",
			Help: "Objects ref'd on the sender, not yet confirmed received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.MessagesRouted, s.ObjectsTransferred, s.BarrierLatency, s.QueueDepth, s.InTransitObjects)
	}
	return s
}
