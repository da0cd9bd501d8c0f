package dataplane

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tracdap/trac-core/internal/util/metrics"
)

var (
	objectOpDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataplane_object_op_duration_seconds",
		Help:    "the length of time a create/update/read call took to complete",
		Buckets: metrics.LatencyBuckets,
	}, append(append([]string{}, metrics.ObjectLabels...), "op"))
	objectOpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataplane_object_op_errors_total",
		Help: "the number of create/update/read calls that returned an error",
	}, append(append([]string{}, metrics.ObjectLabels...), "op"))
)

// observeOp records the outcome of a single object lifecycle call,
// labelled by the same tenant/object_type/op triple across every
// operation so dashboards can slice latency and error rate the same
// way regardless of which RPC produced them.
func observeOp(tenant, objectType, op string, start time.Time, err error) {
	objectOpDurations.WithLabelValues(tenant, objectType, op).Observe(time.Since(start).Seconds())
	if err != nil {
		objectOpErrors.WithLabelValues(tenant, objectType, op).Inc()
	}
}
