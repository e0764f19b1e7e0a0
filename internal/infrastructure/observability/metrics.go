package observability

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository calls by method and outcome
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Bid attempts by result: accepted or the rejection reason
	BidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Total number of bid attempts by result",
		},
		[]string{"result"},
	)

	LedgerMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_mutations_total",
			Help: "Total number of balance credits and debits by entry kind",
		},
		[]string{"kind"},
	)

	SettledLots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settled_lots_total",
			Help: "Total number of lots resolved by settlement",
		},
		[]string{"outcome"},
	)

	SettlementRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlements_total",
			Help: "Total number of auction settlement attempts by result",
		},
		[]string{"result"},
	)

	SettlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auction_settlement_duration_seconds",
			Help:    "Duration of a single auction settlement in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// InitMetrics registers the collectors and serves them on addr.
func InitMetrics(addr string) {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		BidsTotal,
		LedgerMutations,
		SettledLots,
		SettlementRuns,
		SettlementDuration,
	)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
}
