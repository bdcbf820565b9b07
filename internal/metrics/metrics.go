// Package metrics registers the master's Prometheus collectors. It
// only registers and updates them; exposing them over HTTP is the
// optional gateway's job (out of scope here).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every gauge/counter the control loops update.
type Collectors struct {
	HeartbeatsTotal prometheus.Counter
	RedirectsTotal  prometheus.Counter
	RepairsTotal    prometheus.Counter
	RepairFailures  prometheus.Counter
	LiveServers     prometheus.Gauge
	LeasesActive    prometheus.Gauge
}

// New creates and registers the master's collectors against reg. Pass
// prometheus.DefaultRegisterer in production; tests should pass a
// fresh prometheus.NewRegistry() to avoid collisions across cases.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfsmaster",
			Name:      "heartbeats_total",
			Help:      "Chunk server heartbeats received by this node.",
		}),
		RedirectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfsmaster",
			Name:      "redirects_total",
			Help:      "Requests redirected to the current leader.",
		}),
		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfsmaster",
			Name:      "repairs_total",
			Help:      "Chunk replicas successfully repaired.",
		}),
		RepairFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfsmaster",
			Name:      "repair_failures_total",
			Help:      "Chunk repair attempts that failed this cycle.",
		}),
		LiveServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gfsmaster",
			Name:      "live_servers",
			Help:      "Chunk servers currently considered live.",
		}),
		LeasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gfsmaster",
			Name:      "leases_active",
			Help:      "File leases currently outstanding.",
		}),
	}
	reg.MustRegister(
		c.HeartbeatsTotal,
		c.RedirectsTotal,
		c.RepairsTotal,
		c.RepairFailures,
		c.LiveServers,
		c.LeasesActive,
	)
	return c
}
