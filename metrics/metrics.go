// Package metrics exposes Prometheus collectors for the transport's
// completion throughput and queue depth, in the spirit of
// other_examples' mahendrapaipuri-ceems/pkg/collector/rdma.go (which
// collects RDMA QP/CQ/MR counters by shelling out to the rdma CLI) —
// here the same shapes come directly from the transport.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder wraps the collectors this module updates. A nil *Recorder is a
// valid no-op receiver for every method, so components that don't wire
// metrics (most tests) pay nothing.
type Recorder struct {
	completions *prometheus.CounterVec
	cqDepth     prometheus.Gauge
	connected   prometheus.Gauge
}

// NewRecorder creates and registers the collectors against reg. Pass
// prometheus.NewRegistry() for an isolated registry, or nil to use the
// default global one.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdma_completions_total",
			Help: "Work-request completions observed by the polling loop, by kind and tag.",
		}, []string{"kind", "tag"}),
		cqDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdma_cq_depth",
			Help: "Entries drained from the shared completion queue in the most recent poll batch.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdma_endpoints_connected",
			Help: "Number of endpoints currently in the CONNECTED state.",
		}),
	}
	reg.MustRegister(r.completions, r.cqDepth, r.connected)
	return r
}

// ObserveCompletion increments the completion counter for kind/tag.
func (r *Recorder) ObserveCompletion(kind string, tag uint64) {
	if r == nil {
		return
	}
	r.completions.WithLabelValues(kind, itoa(tag)).Inc()
}

// SetCQDepth records the size of the most recently drained poll batch.
func (r *Recorder) SetCQDepth(n int) {
	if r == nil {
		return
	}
	r.cqDepth.Set(float64(n))
}

// IncConnected/DecConnected track the number of CONNECTED endpoints.
func (r *Recorder) IncConnected() {
	if r == nil {
		return
	}
	r.connected.Inc()
}

func (r *Recorder) DecConnected() {
	if r == nil {
		return
	}
	r.connected.Dec()
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
