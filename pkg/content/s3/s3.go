package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittohttp/pkg/content"
)

const (
	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024
)

// S3ContentStore implements StreamingContentStore on an S3 bucket.
//
// The ContentID is used directly as the object key, after an optional
// prefix, so the bucket contents are the served files.
//
// Writes smaller than the part size use a single PutObject. Larger writes
// through OpenWriter are uploaded as a multipart upload, which S3 only makes
// visible on completion.
//
// Thread Safety:
// Safe for concurrent use by multiple goroutines. Concurrent writes to the
// same ContentID are last-write-wins.
type S3ContentStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	partSize  int64
	metrics   S3Metrics
}

// S3ContentStoreConfig contains configuration for S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "www/" results in keys like "www/index.html"
	KeyPrefix string

	// PartSize is the size of each part for multipart uploads (default: 10MB)
	// Must be between 5MB and 5GB
	PartSize int64

	// Metrics receives per-operation instrumentation (optional)
	Metrics S3Metrics
}

// NewS3ContentStore creates a new S3-based content store.
//
// The bucket must already exist. This function does not create it.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3ContentStore: Initialized S3 content store
//   - error: Returns error if bucket access fails or context is cancelled
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}
	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		metrics:   m,
	}, nil
}

// observe records an S3 call that started at start. Not-found results are
// expected lookups, not failures.
func (s *S3ContentStore) observe(operation string, start time.Time, err error) {
	if isNotFound(err) {
		err = nil
	}
	s.metrics.ObserveOperation(operation, time.Since(start), err)
}

// objectKey validates id and returns its full object key.
func (s *S3ContentStore) objectKey(id content.ContentID) (string, error) {
	if err := content.ValidateID(id); err != nil {
		return "", err
	}
	return s.keyPrefix + string(id), nil
}

// ============================================================================
// ContentStore Interface Implementation
// ============================================================================

// ReadContent streams the object body. The caller must close it.
func (s *S3ContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := s.objectKey(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.observe("GetObject", start, err)
	if err != nil {
		return nil, mapError(id, "get object", err)
	}

	return &countingBody{ReadCloser: result.Body, metrics: s.metrics}, nil
}

// GetContentSize returns the object size using a HEAD request.
func (s *S3ContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key, err := s.objectKey(id)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.observe("HeadObject", start, err)
	if err != nil {
		return 0, mapError(id, "head object", err)
	}

	if result.ContentLength == nil {
		return 0, fmt.Errorf("content length not available for %s", id)
	}

	return uint64(*result.ContentLength), nil
}

// ContentExists checks for the object with a HEAD request.
func (s *S3ContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key, err := s.objectKey(id)
	if err != nil {
		return false, err
	}

	start := time.Now()
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.observe("HeadObject", start, err)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapError(id, "check object existence", err)
	}

	return true, nil
}

// ============================================================================
// WritableContentStore Interface Implementation
// ============================================================================

// WriteContent uploads data as a single object.
func (s *S3ContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := s.objectKey(id)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	s.observe("PutObject", start, err)
	if err != nil {
		return mapError(id, "put object", err)
	}

	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

// Delete removes the object. S3 reports success for missing keys.
func (s *S3ContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := s.objectKey(id)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	s.observe("DeleteObject", start, err)
	if err != nil && !isNotFound(err) {
		return mapError(id, "delete object", err)
	}

	return nil
}

// ============================================================================
// StreamingContentStore Interface Implementation
// ============================================================================

// OpenWriter returns a writer that buffers up to one part in memory.
//
// Once the buffer exceeds the part size a multipart upload is started and
// each full part is uploaded as it fills. Commit completes the upload, or
// uses a single PutObject if no part was ever sent.
func (s *S3ContentStore) OpenWriter(ctx context.Context, id content.ContentID) (content.ContentWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := s.objectKey(id)
	if err != nil {
		return nil, err
	}

	return &multipartWriter{
		ctx:   ctx,
		store: s,
		id:    id,
		key:   key,
	}, nil
}

type multipartWriter struct {
	ctx   context.Context
	store *S3ContentStore
	id    content.ContentID
	key   string

	buf      bytes.Buffer
	uploadID *string
	parts    []types.CompletedPart
	done     bool
}

func (w *multipartWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("content %s: write after commit or abort", w.id)
	}

	n, _ := w.buf.Write(p)
	for int64(w.buf.Len()) >= w.store.partSize {
		if err := w.flushPart(w.buf.Next(int(w.store.partSize))); err != nil {
			return n, err
		}
	}
	return n, nil
}

// flushPart uploads one part, starting the multipart upload if needed.
func (w *multipartWriter) flushPart(part []byte) error {
	s := w.store

	if w.uploadID == nil {
		start := time.Now()
		out, err := s.client.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(w.key),
		})
		s.observe("CreateMultipartUpload", start, err)
		if err != nil {
			return mapError(w.id, "create multipart upload", err)
		}
		w.uploadID = out.UploadId
		s.metrics.RecordMultipartUpload("initiated")
	}

	partNumber := int32(len(w.parts) + 1)
	start := time.Now()
	out, err := s.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(w.key),
		UploadId:      w.uploadID,
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(part),
		ContentLength: aws.Int64(int64(len(part))),
	})
	s.observe("UploadPart", start, err)
	if err != nil {
		return mapError(w.id, "upload part", err)
	}
	s.metrics.RecordBytes("write", int64(len(part)))

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	return nil
}

func (w *multipartWriter) Commit() error {
	if w.done {
		return fmt.Errorf("content %s: writer already finished", w.id)
	}
	w.done = true

	if w.uploadID == nil {
		return w.store.WriteContent(w.ctx, w.id, w.buf.Bytes())
	}

	if w.buf.Len() > 0 {
		if err := w.flushPart(w.buf.Bytes()); err != nil {
			_ = w.abortUpload()
			return err
		}
	}

	start := time.Now()
	_, err := w.store.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.store.bucket),
		Key:             aws.String(w.key),
		UploadId:        w.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	w.store.observe("CompleteMultipartUpload", start, err)
	if err != nil {
		_ = w.abortUpload()
		return mapError(w.id, "complete multipart upload", err)
	}
	w.store.metrics.RecordMultipartUpload("completed")
	return nil
}

func (w *multipartWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.buf.Reset()
	return w.abortUpload()
}

func (w *multipartWriter) abortUpload() error {
	if w.uploadID == nil {
		return nil
	}
	// Use a fresh context so cleanup still runs after the request context ends
	start := time.Now()
	_, err := w.store.client.AbortMultipartUpload(context.WithoutCancel(w.ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.store.bucket),
		Key:      aws.String(w.key),
		UploadId: w.uploadID,
	})
	w.store.observe("AbortMultipartUpload", start, err)
	if err != nil {
		return mapError(w.id, "abort multipart upload", err)
	}
	w.store.metrics.RecordMultipartUpload("aborted")
	return nil
}

// countingBody reports bytes read from an object body.
type countingBody struct {
	io.ReadCloser
	metrics S3Metrics
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.metrics.RecordBytes("read", int64(n))
	}
	return n, err
}

// ============================================================================
// Error Mapping
// ============================================================================

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return true
		}
	}
	return false
}

func mapError(id content.ContentID, op string, err error) error {
	switch {
	case isNotFound(err):
		return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	case isAccessDenied(err):
		return fmt.Errorf("content %s: %w: %v", id, content.ErrAccessDenied, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("failed to %s: %w", op, err)
	default:
		return fmt.Errorf("failed to %s: %w: %v", op, content.ErrUnavailable, err)
	}
}

var _ content.StreamingContentStore = (*S3ContentStore)(nil)
