package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/marmos91/dittohttp/internal/logger"
	protocol "github.com/marmos91/dittohttp/internal/protocol/http"
	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/marmos91/dittohttp/pkg/lock"
)

// HTTPConnection serves a single request on one client connection.
type HTTPConnection struct {
	server *HTTPAdapter
	conn   net.Conn
	br     *bufio.Reader
}

func NewHTTPConnection(server *HTTPAdapter, conn net.Conn) *HTTPConnection {
	return &HTTPConnection{
		server: server,
		conn:   conn,
		br:     bufio.NewReaderSize(conn, protocol.MaxHeadSize),
	}
}

// result describes what was sent back, for logging and metrics.
type result struct {
	method string
	uri    string
	status int
	reqID  int64
	bytes  int64
}

// Serve reads one request, answers it, drains whatever else the client sent
// and closes the connection. Panics are recovered so a single misbehaving
// connection cannot take down a worker, except lock pairing violations,
// which are re-raised once the connection is closed.
func (c *HTTPConnection) Serve(ctx context.Context) {
	defer func() {
		r := recover()
		_ = c.conn.Close()
		if r == nil {
			return
		}
		if lock.IsFatal(r) {
			logger.Error("Lock pairing violation serving %s: %v", c.conn.RemoteAddr().String(), r)
			panic(r)
		}
		logger.Error("Panic in connection handler from %s: %v",
			c.conn.RemoteAddr().String(), r)
	}()

	clientAddr := c.conn.RemoteAddr().String()

	if err := c.setReadDeadline(c.server.config.ReadTimeout); err != nil {
		logger.Warn("Failed to set deadline for %s: %v", clientAddr, err)
	}

	startTime := time.Now()
	res, err := c.handleRequest(ctx)
	duration := time.Since(startTime)

	c.server.metrics.RecordRequest(res.method, res.status, duration)

	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			logger.Debug("Connection from %s timed out: %v", clientAddr, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			logger.Debug("Connection from %s cancelled: %v", clientAddr, err)
		default:
			logger.Debug("Error handling request from %s: %v", clientAddr, err)
		}
	}

	logger.Debug("%s %s -> %d (%d bytes, %v) from %s",
		res.method, res.uri, res.status, res.bytes, duration, clientAddr)

	c.drain()
}

// handleRequest parses the request and dispatches it. The returned result is
// always filled in, even when err is not nil.
func (c *HTTPConnection) handleRequest(ctx context.Context) (result, error) {
	// ========================================================================
	// Step 1: Parse the request head
	// ========================================================================

	req, err := protocol.ReadRequest(c.br)
	if err != nil {
		res := result{method: protocol.MethodNone, status: protocol.StatusCode(err)}
		return res, c.respondStatus(res, err)
	}

	res := result{method: req.Method, uri: req.URI, reqID: req.RequestID}

	c.server.metrics.RecordRequestStart(req.Method)
	defer c.server.metrics.RecordRequestEnd(req.Method)

	// ========================================================================
	// Step 2: Reject what can be answered without touching a file
	// ========================================================================

	if req.Method != protocol.MethodGet && req.Method != protocol.MethodPut {
		res.status = protocol.StatusNotImplemented
		return res, c.respondStatus(res, nil)
	}

	if req.Version != protocol.Version {
		res.status = protocol.StatusVersionNotSupported
		return res, c.respondStatus(res, nil)
	}

	// ========================================================================
	// Step 3: Serve under the per-file lock
	// ========================================================================

	switch req.Method {
	case protocol.MethodGet:
		if req.HasBody() {
			res.status = protocol.StatusBadRequest
			return res, c.respondStatus(res, nil)
		}
		return c.handleGet(ctx, req, res)
	default:
		return c.handlePut(ctx, req, res)
	}
}

// handleGet streams the file while holding a reader lock on the target.
func (c *HTTPConnection) handleGet(ctx context.Context, req *protocol.Request, res result) (result, error) {
	locks := c.server.locks
	key := req.URI

	waitStart := time.Now()
	locks.AcquireRead(key)
	defer locks.ReleaseRead(key)
	c.server.metrics.RecordLockWait("read", time.Since(waitStart))
	c.server.metrics.SetLockEntries(locks.Len())

	store := c.server.store
	id := content.ContentID(req.Name())

	size, err := store.GetContentSize(ctx, id)
	if err != nil {
		res.status = statusForError(err)
		return res, c.respondStatus(res, err)
	}

	reader, err := store.ReadContent(ctx, id)
	if err != nil {
		res.status = statusForError(err)
		return res, c.respondStatus(res, err)
	}
	defer reader.Close()

	// Audit once the response is sent, still under the lock, so the audit
	// order matches the order in which requests held the file.
	res.status = protocol.StatusOK
	defer c.auditResult(&res)

	if err := c.setWriteDeadline(); err != nil {
		return res, err
	}
	if err := protocol.WriteHeader(c.conn, protocol.StatusOK, int64(size)); err != nil {
		return res, fmt.Errorf("write header: %w", err)
	}

	n, err := io.CopyN(c.conn, reader, int64(size))
	res.bytes = n
	c.server.metrics.RecordBytesTransferred("read", n)
	if err != nil {
		// Headers are already sent; the client sees a short body
		return res, fmt.Errorf("send %s: %w", id, err)
	}

	return res, nil
}

// handlePut stores the request body while holding a writer lock on the
// target.
func (c *HTTPConnection) handlePut(ctx context.Context, req *protocol.Request, res result) (result, error) {
	locks := c.server.locks
	key := req.URI

	waitStart := time.Now()
	locks.AcquireWrite(key)
	defer locks.ReleaseWrite(key)
	c.server.metrics.RecordLockWait("write", time.Since(waitStart))
	c.server.metrics.SetLockEntries(locks.Len())

	store := c.server.store
	id := content.ContentID(req.Name())

	existed, err := store.ContentExists(ctx, id)
	if err != nil {
		res.status = statusForError(err)
		return res, c.respondStatus(res, err)
	}

	n, err := c.storeBody(ctx, id, req.ContentLength)
	res.bytes = n
	if err != nil {
		res.status = statusForError(err)
		return res, c.respondStatus(res, err)
	}
	c.server.metrics.RecordBytesTransferred("write", n)

	res.status = protocol.StatusOK
	if !existed {
		res.status = protocol.StatusCreated
	}
	return res, c.respondStatus(res, nil)
}

// storeBody copies exactly length bytes from the client into the store.
// Nothing is published unless all bytes arrive.
func (c *HTTPConnection) storeBody(ctx context.Context, id content.ContentID, length int64) (int64, error) {
	body := io.LimitReader(c.br, length)

	streaming, ok := c.server.store.(content.StreamingContentStore)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return int64(len(data)), fmt.Errorf("read body: %w", err)
		}
		if int64(len(data)) < length {
			return int64(len(data)), shortBody(length, int64(len(data)))
		}
		return length, c.server.store.WriteContent(ctx, id, data)
	}

	w, err := streaming.OpenWriter(ctx, id)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, body)
	if err == nil && n < length {
		err = shortBody(length, n)
	}
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			logger.Warn("Failed to abort write of %s: %v", id, abortErr)
		}
		return n, err
	}

	return n, w.Commit()
}

func shortBody(want, got int64) error {
	return &protocol.StatusError{
		Code: protocol.StatusBadRequest,
		Err:  fmt.Errorf("%w: body ended after %d of %d bytes", protocol.ErrBadRequest, got, want),
	}
}

// respondStatus sends a phrase-only response and writes the audit line.
func (c *HTTPConnection) respondStatus(res result, cause error) error {
	if cause != nil && res.status == protocol.StatusInternalServerError {
		logger.Error("%s %s failed: %v", res.method, res.uri, cause)
	}

	defer c.auditResult(&res)

	if err := c.setWriteDeadline(); err != nil {
		return err
	}
	if err := protocol.WriteStatus(c.conn, res.status); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return cause
}

func (c *HTTPConnection) auditResult(res *result) {
	if err := c.server.audit.Log(res.method, res.uri, res.status, res.reqID); err != nil {
		logger.Warn("Failed to write audit log: %v", err)
	}
}

// drain half-closes the connection and discards client bytes until EOF or
// the drain timeout, so the client never sees a reset before reading the
// response.
func (c *HTTPConnection) drain() {
	if tcp, ok := c.conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	if err := c.setReadDeadline(c.server.config.DrainTimeout); err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, c.br)
}

func (c *HTTPConnection) setReadDeadline(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	return c.conn.SetReadDeadline(time.Now().Add(timeout))
}

func (c *HTTPConnection) setWriteDeadline() error {
	if c.server.config.WriteTimeout <= 0 {
		return nil
	}
	return c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
}

// statusForError maps content store errors to response codes.
func statusForError(err error) int {
	var se *protocol.StatusError
	switch {
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, content.ErrContentNotFound):
		return protocol.StatusNotFound
	case errors.Is(err, content.ErrAccessDenied),
		errors.Is(err, content.ErrInvalidContentID),
		errors.Is(err, os.ErrPermission):
		return protocol.StatusForbidden
	default:
		return protocol.StatusInternalServerError
	}
}
