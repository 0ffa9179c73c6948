// internal/monitoring/metrics.go
package monitoring

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Parhamfakhar1/lumix-attention/internal/core"
)

const namespace = "lumix_attention"

// Result labels for the forward-pass counter.
const (
	ResultOK        = "ok"
	ResultShape     = "shape_error"
	ResultNumerical = "numerical_error"
	ResultError     = "error"
)

// Metrics records forward passes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	forwardTotal    *prometheus.CounterVec
	forwardDuration prometheus.Histogram
	tokensTotal     prometheus.Counter
	parameters      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		forwardTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_total",
			Help:      "Attention forward passes by result.",
		}, []string{"result"}),
		forwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Wall time of successful attention forward passes.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_tokens_total",
			Help:      "Query positions (batch*seq_q) processed by successful forward passes.",
		}),
		parameters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parameters",
			Help:      "Parameter count of the attention module.",
		}),
	}

	for _, c := range []prometheus.Collector{m.forwardTotal, m.forwardDuration, m.tokensTotal, m.parameters} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveForward records one forward pass over tokens query positions.
func (m *Metrics) ObserveForward(d time.Duration, tokens int, err error) {
	if m == nil {
		return
	}
	result := Classify(err)
	m.forwardTotal.WithLabelValues(result).Inc()
	if result != ResultOK {
		return
	}
	m.forwardDuration.Observe(d.Seconds())
	m.tokensTotal.Add(float64(tokens))
}

// SetParameters publishes the module's parameter count.
func (m *Metrics) SetParameters(n int) {
	if m == nil {
		return
	}
	m.parameters.Set(float64(n))
}

// Classify maps an attention error to its result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, core.ErrShape):
		return ResultShape
	case errors.Is(err, core.ErrNumerical):
		return ResultNumerical
	default:
		return ResultError
	}
}
