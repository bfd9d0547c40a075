package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var replicationRegisterOnce sync.Once

// Replication task metrics, built as Prometheus CounterVec, HistogramVec
// and Gauge collectors.
var (
	// ReplicationTasksTotal counts task outcomes by destination family and
	// terminal status (completed, failed).
	ReplicationTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepstore_replication_tasks_total",
			Help: "Replication tasks by destination family and outcome",
		},
		[]string{"family", "outcome"},
	)

	// ReplicationBytesTransferred counts bytes successfully written to a
	// destination, by family.
	ReplicationBytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepstore_replication_bytes_transferred_total",
			Help: "Bytes transferred to replication destinations",
		},
		[]string{"family"},
	)

	// ReplicationTaskDuration observes end-to-end task duration in seconds.
	ReplicationTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepstore_replication_task_duration_seconds",
			Help:    "Replication task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// ReplicationRetriesTotal counts retry attempts by classified error kind.
	ReplicationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepstore_replication_retries_total",
			Help: "Replication retry attempts by error kind",
		},
		[]string{"kind"},
	)

	// ReplicationQueueDepth is a gauge tracking tasks currently in flight in
	// the worker harness.
	ReplicationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bleepstore_replication_queue_depth",
			Help: "Tasks currently being processed by the worker harness",
		},
	)
)

// RegisterReplication registers the replication-domain collectors with the
// default Prometheus registry. Repeated calls register them only once.
func RegisterReplication() {
	replicationRegisterOnce.Do(func() {
		prometheus.MustRegister(
			ReplicationTasksTotal,
			ReplicationBytesTransferred,
			ReplicationTaskDuration,
			ReplicationRetriesTotal,
			ReplicationQueueDepth,
		)
	})
}
