package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerEntriesTotal, creditsMovedTotal, insufficientBalanceTotal) }

var ledgerEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Ledger entries appended, labeled by entry type.",
	},
	[]string{"type"},
)

var creditsMovedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_credits_total",
		Help: "Absolute credits moved through the ledger per direction and pool.",
	},
	[]string{"direction", "pool"}, // direction: debit|credit; pool: recurring|reserve|unlimited
)

var insufficientBalanceTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ledger_insufficient_balance_total",
		Help: "Debits rejected because the account could not cover them.",
	},
)

func IncLedgerEntry(entryType string) {
	ledgerEntriesTotal.WithLabelValues(norm(entryType)).Inc()
}

func AddCredits(direction, pool string, amount int64) {
	if amount <= 0 {
		return
	}
	creditsMovedTotal.WithLabelValues(norm(direction), norm(pool)).Add(float64(amount))
}

func IncInsufficientBalance() { insufficientBalanceTotal.Inc() }
