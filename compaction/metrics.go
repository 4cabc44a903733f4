package compaction

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters the compaction engine exposes, registered the
// way the node registers its own cache and sync metrics.
type Metrics struct {
	BuildsStarted         prometheus.Counter
	BuildsCompleted       prometheus.Counter
	BuildsCorrupted       prometheus.Counter
	ConfirmationsRecorded prometheus.Counter
	StatesPromoted        prometheus.Counter
	ApplyFailures         prometheus.Counter
}

// NewMetrics registers a fresh set of compaction metrics under reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BuildsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compaction",
			Name:      "builds_started",
			Help:      "Number of snapshot builds started.",
		}),
		BuildsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compaction",
			Name:      "builds_completed",
			Help:      "Number of snapshot builds that finished without being discarded as corrupt.",
		}),
		BuildsCorrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compaction",
			Name:      "builds_corrupted",
			Help:      "Number of snapshot builds discarded after a failed block disconnect.",
		}),
		ConfirmationsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compaction",
			Name:      "confirmations_recorded",
			Help:      "Number of coinbase confirmation tags recorded.",
		}),
		StatesPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compaction",
			Name:      "states_promoted",
			Help:      "Number of states promoted from tentative to confirmed.",
		}),
		ApplyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "compaction",
			Name:      "apply_failures",
			Help:      "Number of failed attempts to apply a state to the chainstate.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.BuildsStarted, m.BuildsCompleted, m.BuildsCorrupted,
		m.ConfirmationsRecorded, m.StatesPromoted, m.ApplyFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
