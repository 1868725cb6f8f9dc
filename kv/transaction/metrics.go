package transaction

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haeinsa",
			Subsystem: "txn",
			Name:      "finished_total",
			Help:      "Counter of finished transactions by outcome.",
		}, []string{"type"})

	commitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "haeinsa",
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Bucketed histogram of commit time (s) of transactions reaching the commit point.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		})

	recoveryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haeinsa",
			Subsystem: "recovery",
			Name:      "resolved_total",
			Help:      "Counter of lock resolutions by result.",
		}, []string{"type"})

	lockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "haeinsa",
			Subsystem: "recovery",
			Name:      "lock_wait_duration_seconds",
			Help:      "Bucketed histogram of time (s) spent waiting on live locks.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		})

	sweepCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "haeinsa",
			Subsystem: "sweeper",
			Name:      "locks_total",
			Help:      "Counter of locks seen by the background sweeper.",
		}, []string{"type"})
)

var (
	txnCounterCommit   = txnCounter.WithLabelValues("commit")
	txnCounterEmpty    = txnCounter.WithLabelValues("empty")
	txnCounterConflict = txnCounter.WithLabelValues("conflict")
	txnCounterAbort    = txnCounter.WithLabelValues("abort")

	recoveryCounterStabilize    = recoveryCounter.WithLabelValues("stabilize")
	recoveryCounterRollback     = recoveryCounter.WithLabelValues("rollback")
	recoveryCounterWaitTimeout  = recoveryCounter.WithLabelValues("wait_timeout")
	recoveryCounterInconsistent = recoveryCounter.WithLabelValues("inconsistent")

	sweepCounterScanned  = sweepCounter.WithLabelValues("scanned")
	sweepCounterResolved = sweepCounter.WithLabelValues("resolved")
	sweepCounterFailed   = sweepCounter.WithLabelValues("failed")
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(commitDuration)
	prometheus.MustRegister(recoveryCounter)
	prometheus.MustRegister(lockWaitDuration)
	prometheus.MustRegister(sweepCounter)
}
