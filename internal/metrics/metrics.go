package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TxnBegun counts transactions started.
	TxnBegun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvccdb_txn_begun_total",
		Help: "Total number of transactions started",
	})
	// TxnFinished counts transactions by outcome (committed, rolled_back).
	TxnFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvccdb_txn_finished_total",
			Help: "Total number of finished transactions by outcome",
		},
		[]string{"outcome"},
	)
	// TxnActive is the number of transactions begun and not yet finished in this process.
	TxnActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvccdb_txn_active",
		Help: "Transactions currently in flight in this process",
	})
	// TxnConflicts counts writes rejected with a write-write conflict.
	TxnConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvccdb_txn_conflicts_total",
		Help: "Total number of write-write conflicts",
	})
	// GCRuns counts garbage collection passes.
	GCRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvccdb_gc_runs_total",
		Help: "Total number of version garbage collection passes",
	})
	// GCVersionsDeleted counts version records removed by garbage collection.
	GCVersionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvccdb_gc_versions_deleted_total",
		Help: "Total number of version records removed by garbage collection",
	})
	// RecoveredTxns counts in-flight transactions rolled back by crash recovery.
	RecoveredTxns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvccdb_recovered_txns_total",
		Help: "Total number of crash-time transactions rolled back on recovery",
	})
	// SQLStatements counts executed SQL statements by kind and status.
	SQLStatements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mvccdb_sql_statements_total",
			Help: "Total number of SQL statements executed",
		},
		[]string{"kind", "status"},
	)
)

// Outcome labels for TxnFinished.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Handler exposes all metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
