package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsRecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	m.RecordRequest("GET", 200, 5*time.Millisecond)
	m.RecordRequest("GET", 200, 7*time.Millisecond)
	m.RecordRequest("PUT", 201, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("PUT", "201")))
}

func TestHTTPMetricsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	m.RecordRequestStart("PUT")
	m.RecordRequestStart("PUT")
	m.RecordRequestEnd("PUT")
	m.SetQueueDepth(3)
	m.SetLockEntries(2)
	m.SetActiveConnections(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("PUT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lockEntries))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.activeConnections))
}

func TestHTTPMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	m.RecordRequest("GET", 404, time.Millisecond)
	m.RecordBytesTransferred("read", 10)
	m.RecordLockWait("read", time.Microsecond)
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 10)
}
