package riot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winpredict_riot_requests_total",
		Help: "Riot API responses by status code",
	}, []string{"status"})

	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winpredict_riot_throttled_total",
		Help: "Number of 429 responses honoured with Retry-After",
	})

	rateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winpredict_riot_rate_waits_total",
		Help: "Times a request waited for the two-minute window",
	})

	transientRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winpredict_riot_transient_retries_total",
		Help: "Retries after 5xx or network failures",
	})
)
