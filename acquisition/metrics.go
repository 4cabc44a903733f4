package acquisition

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters and gauges exposed while a node acquires a
// state from its peers, registered the way the compaction engine
// registers its own build counters.
type Metrics struct {
	OffersReceived  prometheus.Counter
	ChunksReceived  prometheus.Counter
	ChunkMismatches prometheus.Counter
	PeersTimedOut   prometheus.Counter
	ChunksNeeded    prometheus.Gauge
	ChunksInTransit prometheus.Gauge
	ChunksStored    prometheus.Gauge
}

// NewMetrics registers a fresh set of acquisition metrics under reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		OffersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acquisition",
			Name:      "offers_received",
			Help:      "Number of STATE_OFFER messages received.",
		}),
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acquisition",
			Name:      "chunks_received",
			Help:      "Number of STATE_CHUNK messages received and stored successfully.",
		}),
		ChunkMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acquisition",
			Name:      "chunk_mismatches",
			Help:      "Number of received chunks whose content hash did not match.",
		}),
		PeersTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acquisition",
			Name:      "peers_timed_out",
			Help:      "Number of peers marked TIMEOUT for delivering a mismatching chunk.",
		}),
		ChunksNeeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acquisition",
			Name:      "chunks_needed",
			Help:      "Number of chunks in the committed state still NEEDED.",
		}),
		ChunksInTransit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acquisition",
			Name:      "chunks_in_transit",
			Help:      "Number of chunks in the committed state currently IN_TRANSIT.",
		}),
		ChunksStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acquisition",
			Name:      "chunks_stored",
			Help:      "Number of chunks in the committed state already STORED.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.OffersReceived, m.ChunksReceived, m.ChunkMismatches, m.PeersTimedOut,
		m.ChunksNeeded, m.ChunksInTransit, m.ChunksStored,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
