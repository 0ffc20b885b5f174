package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsFinishedTotal, itemsProcessedTotal, batchDurationSeconds, jobsRunning) }

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "batch_jobs_finished_total",
		Help: "Total number of batch jobs that reached a terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed', 'cancelled'
)

var itemsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "work_items_processed_total",
		Help: "Total number of work items processed, labeled by outcome.",
	},
	[]string{"status"}, // 'done', 'failed'
)

var batchDurationSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Wall time of one batch, all items resolved.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	},
)

var jobsRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "batch_jobs_running",
		Help: "Number of batch jobs currently processing in this process.",
	},
)

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncWorkItem(status string) {
	itemsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveBatchDuration(seconds float64) {
	batchDurationSeconds.Observe(seconds)
}

func IncJobsRunning() { jobsRunning.Inc() }
func DecJobsRunning() { jobsRunning.Dec() }
