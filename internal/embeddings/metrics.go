package embeddings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	embedTexts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestd_embeddings_texts_total",
		Help: "Texts embedded successfully.",
	})

	embedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestd_embeddings_errors_total",
		Help: "Failed embedding requests.",
	})

	embedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestd_embeddings_duration_seconds",
		Help:    "Embedding request latency.",
		Buckets: prometheus.DefBuckets,
	})
)
