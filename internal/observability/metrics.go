package observability

import (
	"net/http"
	"sync"

	"github.com/danmuck/tracectl/internal/target"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	linkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "link",
			Name:      "bytes_total",
			Help:      "Bytes moved over the host link.",
		},
		[]string{"direction"},
	)
	linkSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracectl",
			Subsystem: "link",
			Name:      "sessions_total",
			Help:      "Host link sessions by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(linkBytes, linkSessions)
	})
}

// RecordLinkBytes counts n bytes in direction "tx" or "rx".
func RecordLinkBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	linkBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordSession(outcome string) {
	RegisterMetrics()
	linkSessions.WithLabelValues(outcome).Inc()
}

// EngineCollector exposes target counters at scrape time.
type EngineCollector struct {
	t     *target.Target
	descs map[string]*prometheus.Desc
}

var engineMetrics = []struct {
	name, help string
	counter    bool
	value      func(target.Stats) float64
}{
	{"tx_records_total", "Trace records committed.", true, func(s target.Stats) float64 { return float64(s.TX.Records) }},
	{"tx_dropped_total", "Trace record attempts that failed.", true, func(s target.Stats) float64 { return float64(s.TX.Dropped) }},
	{"tx_drained_bytes_total", "Trace bytes handed to the transport.", true, func(s target.Stats) float64 { return float64(s.TX.Drained) }},
	{"tx_used_bytes", "Committed trace bytes waiting to drain.", false, func(s target.Stats) float64 { return float64(s.TX.Used) }},
	{"rx_frames_total", "Command frames dispatched.", true, func(s target.Stats) float64 { return float64(s.RX.Frames) }},
	{"rx_checksum_errors_total", "Command frames with a bad checksum.", true, func(s target.Stats) float64 { return float64(s.RX.ChecksumErrs) }},
	{"rx_overruns_total", "Command frames longer than the frame buffer.", true, func(s target.Stats) float64 { return float64(s.RX.Overruns) }},
	{"rx_bad_payloads_total", "Command frames with a malformed payload.", true, func(s target.Stats) float64 { return float64(s.RX.BadPayloads) }},
	{"rx_ingress_drops_total", "Command bytes dropped on a full ring.", true, func(s target.Stats) float64 { return float64(s.RX.IngressDrops) }},
	{"dictionary_entries", "Registered dictionary entries.", false, func(s target.Stats) float64 { return float64(s.Dictionary) }},
	{"probes_pending", "Test probe values waiting to be consumed.", false, func(s target.Stats) float64 { return float64(s.Probes) }},
}

func NewEngineCollector(t *target.Target) *EngineCollector {
	c := &EngineCollector{t: t, descs: make(map[string]*prometheus.Desc, len(engineMetrics))}
	for _, m := range engineMetrics {
		c.descs[m.name] = prometheus.NewDesc(prometheus.BuildFQName("tracectl", "engine", m.name), m.help, nil, nil)
	}
	return c
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.t.Stats()
	for _, m := range engineMetrics {
		vt := prometheus.GaugeValue
		if m.counter {
			vt = prometheus.CounterValue
		}
		ch <- prometheus.MustNewConstMetric(c.descs[m.name], vt, m.value(s))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
