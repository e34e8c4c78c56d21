// Package metrics holds the prometheus collectors of the custody service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wallet"

type Metrics struct {
	signs         *prometheus.CounterVec
	signLatency   *prometheus.HistogramVec
	polls         *prometheus.CounterVec
	activeWatches prometheus.Gauge
	transitions   *prometheus.CounterVec
	staleUpdates  prometheus.Counter
	submissions   *prometheus.CounterVec
	rpcRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		signs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_total",
			Help:      "Signing attempts by key kind and result",
		}, []string{"kind", "result"}),
		signLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sign_duration_seconds",
			Help:      "Time spent producing a signature",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"kind"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_polls_total",
			Help:      "Transaction status polls by result",
		}, []string{"result"}),
		activeWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_active",
			Help:      "Number of transactions currently being watched",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transitions_total",
			Help:      "Accepted ledger state transitions by new phase",
		}, []string{"phase"}),
		staleUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_stale_updates_total",
			Help:      "Ledger updates discarded because they would move a record backwards",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_submissions_total",
			Help:      "Transaction submissions by category and result",
		}, []string{"category", "result"}),
		rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_requests_total",
			Help:      "Access node requests by operation and result",
		}, []string{"op", "result"}),
	}

	if reg != nil {
		var errs []error
		for _, c := range []prometheus.Collector{
			m.signs, m.signLatency, m.polls, m.activeWatches,
			m.transitions, m.staleUpdates, m.submissions, m.rpcRequests,
		} {
			if err := reg.Register(c); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveSign(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.signs.WithLabelValues(kind, result(err)).Inc()
	m.signLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// ObservePoll records one status poll. result is ok, error or terminal.
func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

func (m *Metrics) WatchStarted() {
	if m == nil {
		return
	}
	m.activeWatches.Inc()
}

func (m *Metrics) WatchStopped() {
	if m == nil {
		return
	}
	m.activeWatches.Dec()
}

func (m *Metrics) Transition(phase string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(phase).Inc()
}

func (m *Metrics) StaleUpdate() {
	if m == nil {
		return
	}
	m.staleUpdates.Inc()
}

func (m *Metrics) Submission(category string, err error) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(category, result(err)).Inc()
}

func (m *Metrics) Request(op string, err error) {
	if m == nil {
		return
	}
	m.rpcRequests.WithLabelValues(op, result(err)).Inc()
}
