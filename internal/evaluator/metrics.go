package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var evaluationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_evaluations",
	Help: "Number of messages evaluated, by outcome and reason",
}, []string{"outcome", "reason"})

var evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "spamguard_evaluation_duration_sec",
	Help:    "Time spent evaluating one message",
	Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
})

var triggeredCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_triggered_signals",
	Help: "Number of times each signal contributed to a score",
}, []string{"rule"})

var trackedWindows = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "spamguard_tracked_windows",
	Help: "Number of user activity windows held in memory",
})

var evictedWindows = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_evicted_windows",
	Help: "Number of idle activity windows evicted",
})

var lateResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_late_evaluations",
	Help: "Number of evaluations that finished after their caller stopped waiting, by outcome",
}, []string{"outcome"})
