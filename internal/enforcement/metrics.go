package enforcement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_enforcement_actions",
	Help: "Number of enforcement actions by outcome",
}, []string{"action", "status"})

var breakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "spamguard_enforcement_breaker_open",
	Help: "1 while the enforcement circuit breaker is open",
})
