package dailycode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Successful mints partitioned by how they were triggered.
	mintsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_code_mints_total",
			Help: "Number of daily codes minted",
		},
		[]string{"kind"},
	)

	// Inserts that lost a race against another writer.
	collisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daily_code_collisions_total",
			Help: "Number of mint attempts rejected by a unique constraint",
		},
	)

	mintFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_code_mint_failures_total",
			Help: "Number of mints that failed, by reason",
		},
		[]string{"reason"},
	)

	secondsUntilReset = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daily_code_seconds_until_reset",
			Help: "Seconds until the next daily code reset",
		},
	)
)

const (
	mintKindCreate     = "create"
	mintKindRegenerate = "regenerate"
)
