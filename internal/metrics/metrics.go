package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UnitsTotal    *prometheus.CounterVec
	UnitRetries   *prometheus.CounterVec
	AssetsTotal   *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	AssetBytes    *prometheus.CounterVec

	initOnce sync.Once
)

// Init registers the harvest metrics. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		UnitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_units_total",
				Help: "Total number of processed work units.",
			},
			[]string{"source", "status"}, // status: completed, failed, skipped
		)

		UnitRetries = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_unit_retries_total",
				Help: "Total number of transient-failure retries.",
			},
			[]string{"source"},
		)

		AssetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_assets_total",
				Help: "Total number of asset download attempts reaching a terminal state.",
			},
			[]string{"source", "status"}, // status: downloaded, failed, skipped
		)

		FetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Duration of work unit fetches.",
				Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
			},
			[]string{"source"},
		)

		AssetBytes = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_asset_bytes_total",
				Help: "Total bytes of downloaded assets.",
			},
			[]string{"source"},
		)
	})
}
