package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pool-level operational metrics, exposed through the ops /metrics endpoint.
var (
	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chandragen_pool_workers",
		Help: "Current number of workers registered in the pool.",
	})
	workersSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chandragen_workers_spawned_total",
		Help: "Total worker processes spawned.",
	})
	workersStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chandragen_workers_stopped_total",
		Help: "Total worker processes stopped by the supervisor.",
	})
	workersDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chandragen_workers_dead_total",
		Help: "Total dead workers detected and removed during reconciliation.",
	})
	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chandragen_jobs_retried_total",
		Help: "Total orphaned job claims retried after a worker death.",
	})
	scaleUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chandragen_pool_scale_up_total",
		Help: "Total scale-up decisions taken by the autoscaler.",
	})
	scaleDowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chandragen_pool_scale_down_total",
		Help: "Total scale-down decisions taken by the autoscaler.",
	})
)
