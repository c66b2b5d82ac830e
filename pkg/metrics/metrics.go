package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MatchingRuns counts engine runs by trigger source (manual/scheduled)
var MatchingRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "loanmatch_matching_runs_total",
		Help: "Total number of matching engine runs",
	},
	[]string{"trigger"},
)

// MatchesCreated counts matched loan pairs recorded by the engine
var MatchesCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "loanmatch_matches_created_total",
		Help: "Total number of matched loan pairs recorded",
	},
)

// LoansOriginated counts loans originated after a successful match
var LoansOriginated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "loanmatch_loans_originated_total",
		Help: "Total number of loans originated",
	},
)

// ItemErrors counts per-application failures isolated during a run
var ItemErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "loanmatch_item_errors_total",
		Help: "Total number of per-application errors collected during runs",
	},
)

// RunDuration records the latency distribution of full engine runs
var RunDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "loanmatch_run_duration_seconds",
		Help:    "Duration in seconds of a full matching run",
		Buckets: prometheus.DefBuckets,
	},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loanmatch_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "loanmatch_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(MatchingRuns, MatchesCreated, LoansOriginated, ItemErrors, RunDuration)
	prometheus.MustRegister(DBOpenConns, DBInUseConns)
}
