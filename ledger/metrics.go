package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "powledger",
		Name:      "chain_height",
		Help:      "Height of the active chain tip.",
	})

	blocksAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "powledger",
		Name:      "blocks_accepted_total",
		Help:      "Blocks stored by SubmitBlock, including side-branch blocks.",
	})

	blocksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "powledger",
		Name:      "blocks_rejected_total",
		Help:      "Blocks rejected by SubmitBlock by rule kind.",
	}, []string{"kind"})

	reorgsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "powledger",
		Name:      "reorgs_total",
		Help:      "Active chain reorganizations.",
	})

	pendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "powledger",
		Name:      "pending_transactions",
		Help:      "Transactions waiting to be mined.",
	})
)
