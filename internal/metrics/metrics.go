package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	QuoteAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ammswap_quote_attempts_total",
			Help: "Fee tier quote reads by tier and outcome.",
		},
		[]string{"fee", "outcome"},
	)
	QuoteLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ammswap_quote_latency_seconds",
			Help:    "Time to resolve a quote across fee tiers.",
			Buckets: prometheus.DefBuckets,
		},
	)
	QuoteFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ammswap_quote_fallbacks_total",
			Help: "Quotes served from a tier other than the requested one.",
		},
	)
	NoLiquidity = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ammswap_quote_no_liquidity_total",
			Help: "Quote requests where every fee tier failed.",
		},
	)
	TxSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ammswap_tx_submissions_total",
			Help: "Transaction pipeline outcomes by kind and terminal state.",
		},
		[]string{"kind", "state"},
	)
	RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ammswap_rpc_latency_seconds",
			Help:    "Chain RPC round-trip latency by method.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
	RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ammswap_rpc_errors_total",
			Help: "Chain RPC failures by method.",
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		QuoteAttempts,
		QuoteLatency,
		QuoteFallbacks,
		NoLiquidity,
		TxSubmissions,
		RPCLatency,
		RPCErrors,
	)
}
