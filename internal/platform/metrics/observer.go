// Package metrics exports database handle events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"litedb/internal/platform/sqlite"
)

const namespace = "litedb"

// Observer implements sqlite.Observer on top of Prometheus collectors.
type Observer struct {
	lockWait     prometheus.Histogram
	txDuration   *prometheus.HistogramVec
	txTotal      *prometheus.CounterVec
	statements   *prometheus.CounterVec
	statementErr *prometheus.CounterVec
}

var _ sqlite.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them in reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_lock_wait_seconds",
			Help:      "Time spent waiting for the write lock.",
			// from 10us to ~40s
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
		}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time between entering and leaving a transaction scope.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"mode", "state"}),
		txTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Finished transaction scopes by mode and outcome.",
		}, []string{"mode", "state"}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_total",
			Help:      "Statements passed to the engine by leading keyword.",
		}, []string{"kind"}),
		statementErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_errors_total",
			Help:      "Failed statements by leading keyword and error class.",
		}, []string{"kind", "class"}),
	}

	for _, c := range []prometheus.Collector{o.lockWait, o.txDuration, o.txTotal, o.statements, o.statementErr} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// LockAcquired implements sqlite.Observer.
func (o *Observer) LockAcquired(wait time.Duration) {
	o.lockWait.Observe(wait.Seconds())
}

// TxFinished implements sqlite.Observer.
func (o *Observer) TxFinished(mode sqlite.TxLockMode, state sqlite.TxState, d time.Duration) {
	o.txTotal.WithLabelValues(string(mode), state.String()).Inc()
	o.txDuration.WithLabelValues(string(mode), state.String()).Observe(d.Seconds())
}

// StatementExecuted implements sqlite.Observer.
func (o *Observer) StatementExecuted(kind string, err error) {
	o.statements.WithLabelValues(kind).Inc()
	if err != nil {
		o.statementErr.WithLabelValues(kind, errorClass(err)).Inc()
	}
}

func errorClass(err error) string {
	switch {
	case sqlite.IsBusy(err):
		return "busy"
	case sqlite.IsConstraint(err):
		return "constraint"
	case sqlite.IsInterrupted(err):
		return "interrupted"
	default:
		return "other"
	}
}
