package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rnshub"

// hubCollector reads hub state at scrape time.
type hubCollector struct {
	deps Dependencies

	candidates    *prometheus.Desc
	eligible      *prometheus.Desc
	candidateHops *prometheus.Desc
	paths         *prometheus.Desc
	announces     *prometheus.Desc
	history       *prometheus.Desc
	subscribers   *prometheus.Desc
	eventsDropped *prometheus.Desc
}

func newHubCollector(deps Dependencies) *hubCollector {
	return &hubCollector{
		deps: deps,
		candidates: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "propagation", "candidates"),
			"Propagation nodes stored in the registry, stale ones included.",
			nil, nil,
		),
		eligible: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "propagation", "eligible"),
			"Propagation nodes that are fresh and reachable.",
			nil, nil,
		),
		candidateHops: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "propagation", "candidate_hops"),
			"Live hop count of each eligible propagation node.",
			[]string{"destination"}, nil,
		),
		paths: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "mesh", "paths"),
			"Entries in the routing table.",
			nil, nil,
		),
		announces: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "mesh", "announces_total"),
			"Announces seen by the transport, by outcome.",
			[]string{"result"}, nil,
		),
		history: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "history", "records_total"),
			"Announce history writes, by outcome.",
			[]string{"result"}, nil,
		),
		subscribers: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "events", "subscribers"),
			"Connected event stream clients.",
			nil, nil,
		),
		eventsDropped: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "events", "dropped_total"),
			"Events skipped because a subscriber buffer was full.",
			nil, nil,
		),
	}
}

func (c *hubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.candidates
	ch <- c.eligible
	ch <- c.candidateHops
	ch <- c.paths
	ch <- c.announces
	ch <- c.history
	ch <- c.subscribers
	ch <- c.eventsDropped
}

func (c *hubCollector) Collect(ch chan<- prometheus.Metric) {
	ranked := c.deps.Registry.Ranked()
	ch <- prometheus.MustNewConstMetric(c.candidates, prometheus.GaugeValue, float64(c.deps.Registry.Len()))
	ch <- prometheus.MustNewConstMetric(c.eligible, prometheus.GaugeValue, float64(len(ranked)))
	for _, cand := range ranked {
		if cand.Hops == nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.candidateHops, prometheus.GaugeValue, float64(*cand.Hops), cand.Destination)
	}

	st := c.deps.Transport.Stats()
	ch <- prometheus.MustNewConstMetric(c.paths, prometheus.GaugeValue, float64(st.Paths))
	ch <- prometheus.MustNewConstMetric(c.announces, prometheus.CounterValue, float64(st.Received), "received")
	ch <- prometheus.MustNewConstMetric(c.announces, prometheus.CounterValue, float64(st.Rejected), "rejected")
	ch <- prometheus.MustNewConstMetric(c.announces, prometheus.CounterValue, float64(st.Dispatched), "dispatched")

	if c.deps.HistoryStats != nil {
		hs := c.deps.HistoryStats()
		ch <- prometheus.MustNewConstMetric(c.history, prometheus.CounterValue, float64(hs.Written), "written")
		ch <- prometheus.MustNewConstMetric(c.history, prometheus.CounterValue, float64(hs.Dropped), "dropped")
		ch <- prometheus.MustNewConstMetric(c.history, prometheus.CounterValue, float64(hs.Failed), "failed")
	}

	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(c.deps.Events.Clients()))
	ch <- prometheus.MustNewConstMetric(c.eventsDropped, prometheus.CounterValue, float64(c.deps.Events.Dropped()))
}
