package predict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winpredict_predictions_total",
		Help: "Predictions served by model family",
	}, []string{"family"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winpredict_prediction_fallbacks_total",
		Help: "Predictions answered by the heuristic after a classifier failure",
	}, []string{"family"})
)
