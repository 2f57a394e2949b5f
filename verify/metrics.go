// ABOUTME: Prometheus sink counting violations by check and kind
// ABOUTME: Lets long-running hosts export verifier findings as metrics

package verify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirkon/errors"
)

// MetricsSink counts recorded violations
type MetricsSink struct {
	violations *prometheus.CounterVec
}

// NewMetricsSink creates the counter and registers it with reg
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	s := &MetricsSink{
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heapcheck",
			Name:      "violations_total",
			Help:      "Structural heap violations found by verification passes.",
		}, []string{"check", "kind"}),
	}
	if err := reg.Register(s.violations); err != nil {
		return nil, errors.Wrap(err, "register violations counter")
	}
	return s, nil
}

// Record increments the counter of v's check and kind
func (s *MetricsSink) Record(v *Violation) {
	s.violations.WithLabelValues(v.Check, v.Kind.String()).Inc()
}

// Counter exposes the underlying counter vector
func (s *MetricsSink) Counter() *prometheus.CounterVec {
	return s.violations
}
