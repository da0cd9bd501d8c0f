package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tracdap/trac-core/internal/util/metrics"
)

var (
	bucketWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_bucket_writes_total",
		Help: "the number of Write calls made against a bucket",
	}, metrics.BucketLabels)
	bucketReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_bucket_reads_total",
		Help: "the number of OpenRead calls made against a bucket",
	}, metrics.BucketLabels)
)
