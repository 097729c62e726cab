package metrics

import (
	"time"

	"github.com/marmos91/dittohttp/pkg/content/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace   = "dittohttp"
	s3Subsystem = "s3_store"
)

// s3StoreCollector backs the S3 content store's instrumentation hooks.
//
// A GET on the file server maps to HeadObject + GetObject, a PUT to either
// PutObject or a multipart upload, so the per-call series read directly as
// request cost on the backend.
type s3StoreCollector struct {
	calls      *prometheus.CounterVec   // api, outcome
	latency    *prometheus.HistogramVec // api
	payload    *prometheus.CounterVec   // direction
	multipart  *prometheus.CounterVec   // event
	inProgress prometheus.Gauge
}

// NewS3Metrics returns the collector for the S3 store, or nil while metrics
// are disabled so the store keeps its no-op hooks. Call it once per process.
func NewS3Metrics() s3.S3Metrics {
	if !IsEnabled() {
		return nil
	}
	return newS3Metrics(GetRegistry())
}

func newS3Metrics(reg prometheus.Registerer) *s3StoreCollector {
	f := promauto.With(reg)

	return &s3StoreCollector{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: s3Subsystem,
			Name:      "api_calls_total",
			Help:      "S3 API calls made by the content store, by call and outcome (ok or error). Missing keys count as ok.",
		}, []string{"api", "outcome"}),

		// 5ms .. ~20s; part uploads of a large PUT sit at the top end.
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: s3Subsystem,
			Name:      "api_call_seconds",
			Help:      "Latency of S3 API calls made by the content store.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 13),
		}, []string{"api"}),

		payload: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: s3Subsystem,
			Name:      "payload_bytes_total",
			Help:      "File bytes read from (direction=read) or written to (direction=write) the bucket.",
		}, []string{"direction"}),

		multipart: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: s3Subsystem,
			Name:      "multipart_uploads_total",
			Help:      "Multipart upload events for large PUT bodies: initiated, completed or aborted.",
		}, []string{"event"}),

		inProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: s3Subsystem,
			Name:      "multipart_uploads_in_progress",
			Help:      "Multipart uploads initiated and not yet completed or aborted.",
		}),
	}
}

func (c *s3StoreCollector) ObserveOperation(api string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.calls.WithLabelValues(api, outcome).Inc()
	c.latency.WithLabelValues(api).Observe(d.Seconds())
}

func (c *s3StoreCollector) RecordBytes(direction string, n int64) {
	if n > 0 {
		c.payload.WithLabelValues(direction).Add(float64(n))
	}
}

func (c *s3StoreCollector) RecordMultipartUpload(event string) {
	c.multipart.WithLabelValues(event).Inc()
	switch event {
	case "initiated":
		c.inProgress.Inc()
	case "completed", "aborted":
		c.inProgress.Dec()
	}
}
