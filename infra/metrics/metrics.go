// Package metrics holds the Prometheus collectors for the degraded-mode
// stores and the outbox relay. A nil *Collectors is valid and records
// nothing, so components can run without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderpipe"

type Collectors struct {
	writes    *prometheus.CounterVec
	reads     *prometheus.CounterVec
	backfills *prometheus.CounterVec
	replays   *prometheus.CounterVec
	expired   *prometheus.CounterVec
	pending   *prometheus.GaugeVec
	relayed   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg when non-nil.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Writes by path taken (remote or fallback).",
		}, []string{"store", "path"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_reads_total",
			Help:      "Reads by source that satisfied them (remote, ledger, miss).",
		}, []string{"store", "source"}),
		backfills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_backfills_total",
			Help:      "Read-triggered writes of ledger values back to the remote store.",
		}, []string{"store", "result"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_replays_total",
			Help:      "Reconciler replay attempts by result.",
		}, []string{"store", "result"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_expired_total",
			Help:      "Buffered entries dropped after their ttl.",
		}, []string{"store"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_entries",
			Help:      "Entries currently buffered in the fallback ledger.",
		}, []string{"store"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Outbox records relayed to Kafka by result.",
		}, []string{"topic", "result"}),
	}

	if reg != nil {
		reg.MustRegister(c.writes, c.reads, c.backfills, c.replays, c.expired, c.pending, c.relayed)
	}
	return c
}

func (c *Collectors) Write(store, path string) {
	if c == nil {
		return
	}
	c.writes.WithLabelValues(store, path).Inc()
}

func (c *Collectors) Read(store, source string) {
	if c == nil {
		return
	}
	c.reads.WithLabelValues(store, source).Inc()
}

func (c *Collectors) Backfill(store string, ok bool) {
	if c == nil {
		return
	}
	c.backfills.WithLabelValues(store, result(ok)).Inc()
}

func (c *Collectors) Replay(store string, ok bool) {
	if c == nil {
		return
	}
	c.replays.WithLabelValues(store, result(ok)).Inc()
}

func (c *Collectors) Expired(store string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.expired.WithLabelValues(store).Add(float64(n))
}

func (c *Collectors) Pending(store string, n int) {
	if c == nil {
		return
	}
	c.pending.WithLabelValues(store).Set(float64(n))
}

func (c *Collectors) Relayed(topic string, ok bool) {
	if c == nil {
		return
	}
	c.relayed.WithLabelValues(topic, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
