// Package metrics declares the shared label sets and latency bucket
// scheme used by every component's promauto metric vectors, so that
// dashboards built against one component's metrics line up with another.
package metrics

// LatencyBuckets is the shared histogram bucket scheme for operation
// durations across the data plane, from sub-millisecond to a minute.
var LatencyBuckets = []float64{
	.001, .002, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

// ObjectLabels is attached to metrics scoped to a single object's
// lifecycle (create/update/read).
var ObjectLabels = []string{"tenant", "object_type"}

// CodecLabels is attached to metrics scoped to a codec operation.
var CodecLabels = []string{"codec"}

// BucketLabels is attached to metrics scoped to a storage bucket.
var BucketLabels = []string{"bucket"}
