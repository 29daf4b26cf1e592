package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winpredict_crawl_matches_total",
		Help: "Matches written to the dataset",
	})

	matchesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winpredict_crawl_matches_skipped_total",
		Help: "Matches skipped, by reason",
	}, []string{"reason"})

	snapshotsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winpredict_crawl_snapshots_total",
		Help: "Snapshots extracted, by minute",
	}, []string{"minute"})

	frontierSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "winpredict_crawl_frontier_size",
		Help: "Players waiting in the frontier",
	})

	checkpointsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winpredict_crawl_checkpoints_total",
		Help: "Checkpoints persisted",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "winpredict_crawl_fetch_seconds",
		Help:    "Time to fetch a match and its timeline",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)
