// Package metrics exposes vicore's operational counters and gauges over
// Prometheus, with labels keyed by queue id rather than HTTP route/backend.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VIMetrics holds every vicore Prometheus collector.
type VIMetrics struct {
	registry *prometheus.Registry

	rxRingDepth  *prometheus.GaugeVec
	txRingDepth  *prometheus.GaugeVec
	evqDepth     *prometheus.GaugeVec

	packetsReceived *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec

	rollovers *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	overruns  *prometheus.CounterVec
	reinits   *prometheus.CounterVec

	txCompletions *prometheus.CounterVec
	txKicks       *prometheus.CounterVec
	wouldBlocks   *prometheus.CounterVec

	afxdpFreeFrames *prometheus.GaugeVec
}

// MetricsConfig configures the VIMetrics registry.
type MetricsConfig struct {
	Namespace            string
	HistogramBuckets     []float64
	CollectionInterval   time.Duration
	ExposeGoMetrics      bool
	ExposeProcessMetrics bool
}

// DefaultMetricsConfig returns sensible defaults for the vi-bench CLI.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:            "vicore",
		HistogramBuckets:     prometheus.DefBuckets,
		CollectionInterval:   15 * time.Second,
		ExposeGoMetrics:      true,
		ExposeProcessMetrics: true,
	}
}

// NewVIMetrics builds and registers every collector.
func NewVIMetrics(config MetricsConfig) *VIMetrics {
	registry := prometheus.NewRegistry()
	if config.Namespace == "" {
		config.Namespace = "vicore"
	}

	m := &VIMetrics{registry: registry}
	m.initialize(config)
	m.register()

	if config.ExposeGoMetrics {
		registry.MustRegister(prometheus.NewGoCollector())
	}
	if config.ExposeProcessMetrics {
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	return m
}

func (m *VIMetrics) initialize(config MetricsConfig) {
	m.rxRingDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: "rx", Name: "ring_depth",
		Help: "Outstanding entries on an RX fill/free ring",
	}, []string{"queue_id", "ring"})

	m.txRingDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: "tx", Name: "ring_depth",
		Help: "Outstanding descriptors on a TX ring",
	}, []string{"queue_id"})

	m.evqDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: "evq", Name: "pointer_bytes",
		Help: "Current event queue pointer, in bytes",
	}, []string{"queue_id"})

	m.packetsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "rx", Name: "packets_total",
		Help: "Total packets received per queue",
	}, []string{"queue_id"})

	m.packetsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "tx", Name: "packets_total",
		Help: "Total packets transmitted per queue",
	}, []string{"queue_id"})

	m.bytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "tx", Name: "bytes_total",
		Help: "Total bytes transmitted per queue",
	}, []string{"queue_id"})

	m.rollovers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "rx", Name: "rollovers_total",
		Help: "Superbuffer rollovers observed per queue",
	}, []string{"queue_id"})

	m.refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "rx", Name: "mapping_refreshes_total",
		Help: "Control-plane mapping refreshes triggered by a stale generation",
	}, []string{"queue_id"})

	m.overruns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "queue", Name: "overruns_total",
		Help: "Detected ring overruns per queue",
	}, []string{"queue_id", "kind"})

	m.reinits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "queue", Name: "reinits_total",
		Help: "Queue reinit calls per queue",
	}, []string{"queue_id"})

	m.txCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "tx", Name: "completions_total",
		Help: "TX completion events reconciled per queue",
	}, []string{"queue_id"})

	m.txKicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "tx", Name: "kicks_total",
		Help: "Kernel kicks issued for a simulated AF_XDP TX ring",
	}, []string{"queue_id"})

	m.wouldBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace, Subsystem: "queue", Name: "would_block_total",
		Help: "Operations that returned ErrWouldBlock per queue",
	}, []string{"queue_id", "op"})

	m.afxdpFreeFrames = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace, Subsystem: "afxdp", Name: "free_frames",
		Help: "Free UMEM frames available per simulated AF_XDP engine",
	}, []string{"queue_id"})
}

func (m *VIMetrics) register() {
	m.registry.MustRegister(
		m.rxRingDepth, m.txRingDepth, m.evqDepth,
		m.packetsReceived, m.packetsSent, m.bytesSent,
		m.rollovers, m.refreshes, m.overruns, m.reinits,
		m.txCompletions, m.txKicks, m.wouldBlocks,
		m.afxdpFreeFrames,
	)
}

// SetRXRingDepth records a fill/free ring's pending count for queueID.
func (m *VIMetrics) SetRXRingDepth(queueID uint8, ring string, depth int) {
	m.rxRingDepth.WithLabelValues(queueIDLabel(queueID), ring).Set(float64(depth))
}

// SetTXRingDepth records outstanding TX descriptors for queueID.
func (m *VIMetrics) SetTXRingDepth(queueID uint8, depth int) {
	m.txRingDepth.WithLabelValues(queueIDLabel(queueID)).Set(float64(depth))
}

// SetEVQPointer records an event queue's current byte pointer.
func (m *VIMetrics) SetEVQPointer(queueID uint8, ptr uint32) {
	m.evqDepth.WithLabelValues(queueIDLabel(queueID)).Set(float64(ptr))
}

// RecordPacketsReceived increments the RX packet counter for queueID by n.
func (m *VIMetrics) RecordPacketsReceived(queueID uint8, n int) {
	m.packetsReceived.WithLabelValues(queueIDLabel(queueID)).Add(float64(n))
}

// RecordPacketSent increments the TX packet/byte counters for queueID.
func (m *VIMetrics) RecordPacketSent(queueID uint8, bytes int) {
	m.packetsSent.WithLabelValues(queueIDLabel(queueID)).Inc()
	m.bytesSent.WithLabelValues(queueIDLabel(queueID)).Add(float64(bytes))
}

// RecordRollover increments the rollover counter for queueID.
func (m *VIMetrics) RecordRollover(queueID uint8) {
	m.rollovers.WithLabelValues(queueIDLabel(queueID)).Inc()
}

// RecordRefresh increments the mapping-refresh counter for queueID.
func (m *VIMetrics) RecordRefresh(queueID uint8) {
	m.refreshes.WithLabelValues(queueIDLabel(queueID)).Inc()
}

// RecordOverrun increments the overrun counter for queueID/kind.
func (m *VIMetrics) RecordOverrun(queueID uint8, kind string) {
	m.overruns.WithLabelValues(queueIDLabel(queueID), kind).Inc()
}

// RecordReinit increments the reinit counter for queueID.
func (m *VIMetrics) RecordReinit(queueID uint8) {
	m.reinits.WithLabelValues(queueIDLabel(queueID)).Inc()
}

// RecordTXCompletion increments the TX completion counter for queueID.
func (m *VIMetrics) RecordTXCompletion(queueID uint8) {
	m.txCompletions.WithLabelValues(queueIDLabel(queueID)).Inc()
}

// RecordKick increments the kick counter for queueID.
func (m *VIMetrics) RecordKick(queueID uint8) {
	m.txKicks.WithLabelValues(queueIDLabel(queueID)).Inc()
}

// RecordWouldBlock increments the ErrWouldBlock counter for queueID/op.
func (m *VIMetrics) RecordWouldBlock(queueID uint8, op string) {
	m.wouldBlocks.WithLabelValues(queueIDLabel(queueID), op).Inc()
}

// SetAFXDPFreeFrames records the current free-frame count for queueID.
func (m *VIMetrics) SetAFXDPFreeFrames(queueID uint8, count int) {
	m.afxdpFreeFrames.WithLabelValues(queueIDLabel(queueID)).Set(float64(count))
}

// Registry returns the underlying Prometheus registry.
func (m *VIMetrics) Registry() *prometheus.Registry { return m.registry }

func queueIDLabel(id uint8) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[id>>4], hex[id&0xf]})
}

// Server serves the /metrics and /health endpoints for a VIMetrics registry.
type Server struct {
	metrics *VIMetrics
	server  *http.Server
}

// NewServer builds a metrics HTTP server bound to addr.
func NewServer(metrics *VIMetrics, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return &Server{metrics: metrics, server: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server until it errors or is shut down.
func (s *Server) Start() error { return s.server.ListenAndServe() }

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
