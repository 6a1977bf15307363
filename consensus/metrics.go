package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hashesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "powledger",
		Name:      "hashes_total",
		Help:      "Block header hashes computed by the miner.",
	})

	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powledger",
		Name:      "builds_total",
		Help:      "Mining rounds by outcome.",
	}, []string{"outcome"})
)
