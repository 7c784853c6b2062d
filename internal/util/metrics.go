package util

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type collectors struct {
	registry *prometheus.Registry
	peers    prometheus.Gauge
	frames   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	resends  prometheus.Counter
	remaps   prometheus.Counter
	warnings *prometheus.CounterVec
}

var metrics = newCollectors()

func newCollectors() *collectors {
	c := &collectors{
		registry: prometheus.NewRegistry(),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphsync",
			Name:      "peers",
			Help:      "Connected peers.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsync",
			Name:      "frames_total",
			Help:      "Replication frames by direction.",
		}, []string{"dir"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsync",
			Name:      "bytes_total",
			Help:      "Replication bytes by direction.",
		}, []string{"dir"}),
		resends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphsync",
			Name:      "resends_total",
			Help:      "Frames deferred to a later send pass.",
		}),
		remaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphsync",
			Name:      "remaps_total",
			Help:      "Handle remaps initiated or applied.",
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsync",
			Name:      "decode_warnings_total",
			Help:      "Recovered decode anomalies by kind.",
		}, []string{"kind"}),
	}
	c.registry.MustRegister(c.peers, c.frames, c.bytes, c.resends, c.remaps, c.warnings)
	return c
}

// MetricsHandler serves the replication collectors in the prometheus
// exposition format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
