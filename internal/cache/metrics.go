package cache

import "github.com/prometheus/client_golang/prometheus"

// outcome labels recorded against every cache call, matching spec.md §4.1's
// enumerated outcomes.
const (
	outcomeHit      = "hit"
	outcomeMiss     = "miss"
	outcomeNoMatch  = "no_match"
	outcomeAdd      = "add"
	outcomeReplace  = "replace"
	outcomeExisting = "existing"
	outcomeEvict    = "evict"
	outcomeDelete   = "delete"
	outcomeError    = "error"
)

// metrics is the counter family the cache emits on every call. It is safe
// for concurrent use (prometheus counters are) and cheap to pass by value
// since its fields are already pointers to shared collectors.
type metrics struct {
	calls *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tansu",
			Subsystem: "cache",
			Name:      "calls_total",
			Help:      "Cached metadata store calls by method, outcome, and error kind.",
		}, []string{"method", "outcome", "error_kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.calls)
	}
	return m
}

func (m *metrics) record(method, outcome, errKind string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, outcome, errKind).Inc()
}
