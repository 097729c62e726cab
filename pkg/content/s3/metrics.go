package s3

import "time"

// S3Metrics receives instrumentation from the S3 content store.
//
// Operation names are the S3 API calls: "GetObject", "HeadObject",
// "PutObject", "DeleteObject", "CreateMultipartUpload", "UploadPart",
// "CompleteMultipartUpload" and "AbortMultipartUpload".
type S3Metrics interface {
	// ObserveOperation records one S3 API call and its outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records file bytes moved in direction "read" or "write".
	RecordBytes(direction string, bytes int64)

	// RecordMultipartUpload records a multipart upload lifecycle event:
	// "initiated", "completed" or "aborted".
	RecordMultipartUpload(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordMultipartUpload(string)                  {}
