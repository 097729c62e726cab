package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestS3CollectorCallsByOutcome(t *testing.T) {
	c := newS3Metrics(prometheus.NewRegistry())

	c.ObserveOperation("PutObject", 20*time.Millisecond, nil)
	c.ObserveOperation("PutObject", 30*time.Millisecond, errors.New("slow down"))
	c.ObserveOperation("GetObject", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("PutObject", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("PutObject", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.calls.WithLabelValues("GetObject", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}

func TestS3CollectorPayloadBytes(t *testing.T) {
	c := newS3Metrics(prometheus.NewRegistry())

	c.RecordBytes("write", 1024)
	c.RecordBytes("write", 1024)
	c.RecordBytes("read", 10)
	c.RecordBytes("read", 0)

	assert.Equal(t, 2048.0, testutil.ToFloat64(c.payload.WithLabelValues("write")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.payload.WithLabelValues("read")))
}

func TestS3CollectorMultipartInProgress(t *testing.T) {
	c := newS3Metrics(prometheus.NewRegistry())

	c.RecordMultipartUpload("initiated")
	c.RecordMultipartUpload("initiated")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inProgress))

	c.RecordMultipartUpload("completed")
	c.RecordMultipartUpload("aborted")

	assert.Equal(t, 0.0, testutil.ToFloat64(c.inProgress))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.multipart.WithLabelValues("initiated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.multipart.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.multipart.WithLabelValues("aborted")))
}

func TestNewS3MetricsDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry initialized by another test")
	}
	assert.Nil(t, NewS3Metrics())
}
