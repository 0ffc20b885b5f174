package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo, pgPoolConns, jobCacheLookups) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "content_batch_build_info",
			Help: "Always 1; labels carry the running version and commit.",
		},
		[]string{"version", "commit"},
	)

	pgPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pg_pool_connections",
			Help: "pgxpool connections by state.",
		},
		[]string{"state"}, // total | idle | in_use
	)

	jobCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_cache_lookups_total",
			Help: "Redis lookups in front of a repository, by outcome.",
		},
		[]string{"cache", "result"}, // result: hit | miss | error
	)
)

func SetBuildInfo(version, commit string) {
	if commit == "" {
		commit = "unknown"
	}
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func SetDBPoolStats(total, idle, inUse int32) {
	pgPoolConns.WithLabelValues("total").Set(float64(total))
	pgPoolConns.WithLabelValues("idle").Set(float64(idle))
	pgPoolConns.WithLabelValues("in_use").Set(float64(inUse))
}

func IncCacheRequest(cacheName, result string) {
	jobCacheLookups.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
