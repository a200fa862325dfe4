package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ObjMeta"

var (
	Registry = prometheus.NewRegistry()

	GRPCMetrics = grpcprometheus.NewServerMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = namespace
		},
	)

	LiveObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "catalog",
		Name:      "live_objects",
		Help:      "number of metadata records held by this shard",
	})

	LockRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lock",
		Name:      "requests_total",
		Help:      "region lock requests by result",
	}, []string{"result"})

	IOBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "regionio",
		Name:      "bytes_total",
		Help:      "bytes moved between storage files and buffers",
	}, []string{"op"})

	RemoteForwards = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "forwards_total",
		Help:      "requests forwarded to the owner shard",
	}, []string{"op", "result"})

	RemoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "forward_seconds",
		Help:      "latency of forwarded requests",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"op"})

	CheckpointDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "checkpoint",
		Name:      "duration_seconds",
		Help:      "time spent writing or restoring a checkpoint",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)

func init() {
	GRPCMetrics.EnableHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = namespace
		},
	)
	Registry.MustRegister(
		GRPCMetrics,
		LiveObjects,
		LockRequests,
		IOBytes,
		RemoteForwards,
		RemoteLatency,
		CheckpointDuration,
	)
}
