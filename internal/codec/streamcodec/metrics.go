package streamcodec

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tracdap/trac-core/internal/util/metrics"
)

var (
	decodeDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codec_decode_duration_seconds",
		Help:    "the length of time DecodeStream took to consume an entire input stream",
		Buckets: metrics.LatencyBuckets,
	}, metrics.CodecLabels)
	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codec_decode_errors_total",
		Help: "the number of DecodeStream calls that returned an error",
	}, metrics.CodecLabels)
	encodesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codec_encode_started_total",
		Help: "the number of EncodeStream calls started",
	}, metrics.CodecLabels)
)

func observeDecode(format Format, start time.Time, err error) {
	decodeDurations.WithLabelValues(format.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		decodeErrors.WithLabelValues(format.String()).Inc()
	}
}
