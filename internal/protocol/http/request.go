package http

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxHeadSize is the largest request head (request line plus header fields
// plus the terminating blank line) the server accepts.
const MaxHeadSize = 2048

const (
	MethodGet = "GET"
	MethodPut = "PUT"

	// MethodNone is recorded in the audit log when no request line could be
	// parsed.
	MethodNone = "NONE"

	// Version is the only protocol version served.
	Version = "HTTP/1.1"
)

// headTerminator ends the request head.
var headTerminator = []byte("\r\n\r\n")

// requestLineRe matches the first line of a request. The target is limited
// to a single path segment of at most 63 characters drawn from a
// conservative alphabet.
var requestLineRe = regexp.MustCompile(`^([a-zA-Z]{0,8}) (/[a-zA-Z0-9.-]{1,63}) (HTTP/[0-9]\.[0-9])$`)

var (
	// ErrBadRequest is returned for requests that cannot be parsed.
	ErrBadRequest = errors.New("bad request")

	// ErrHeadTooLarge is returned when no blank line appears within
	// MaxHeadSize bytes.
	ErrHeadTooLarge = errors.New("request head too large")
)

// Request is a parsed request head.
type Request struct {
	// Method as sent by the client. May be empty or unsupported.
	Method string

	// URI is the request target including the leading "/".
	URI string

	// Version is the protocol version string, e.g. "HTTP/1.1".
	Version string

	// ContentLength is the declared body size. Zero if absent.
	ContentLength int64

	// RequestID is the value of the Request-Id header. Zero if absent.
	RequestID int64

	// Pipelined is the number of bytes that arrived after the head in the
	// same read and are waiting in the reader.
	Pipelined int
}

// Name returns the target without its leading "/".
func (r *Request) Name() string {
	return strings.TrimPrefix(r.URI, "/")
}

// HasBody reports whether the client sent or declared body bytes.
func (r *Request) HasBody() bool {
	return r.ContentLength > 0 || r.Pipelined > 0
}

// ReadRequest reads and parses a request head from br.
//
// The body, if any, is left unread in br. br must have a buffer of at least
// MaxHeadSize bytes.
//
// Returns:
//   - *Request: The parsed head
//   - error: A *StatusError with code 400 for malformed or oversized heads,
//     wrapping ErrBadRequest or ErrHeadTooLarge and the underlying cause
func ReadRequest(br *bufio.Reader) (*Request, error) {
	// ========================================================================
	// Step 1: Read the head up to the blank line
	// ========================================================================

	head, err := readHead(br)
	if err != nil {
		return nil, &StatusError{Code: StatusBadRequest, Err: err}
	}

	// ========================================================================
	// Step 2: Parse the request line
	// ========================================================================

	lines := strings.Split(string(head), "\r\n")

	m := requestLineRe.FindStringSubmatch(lines[0])
	if m == nil {
		return nil, &StatusError{
			Code: StatusBadRequest,
			Err:  fmt.Errorf("%w: malformed request line %q", ErrBadRequest, lines[0]),
		}
	}

	req := &Request{
		Method:    m[1],
		URI:       m[2],
		Version:   m[3],
		Pipelined: br.Buffered(),
	}

	// ========================================================================
	// Step 3: Parse the header fields
	// ========================================================================

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if err := req.parseHeader(line); err != nil {
			return nil, &StatusError{Code: StatusBadRequest, Err: err}
		}
	}

	return req, nil
}

// readHead returns the head without its terminating blank line.
func readHead(br *bufio.Reader) ([]byte, error) {
	head := make([]byte, 0, 256)

	for len(head) < MaxHeadSize {
		b, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: reading head: %w", ErrBadRequest, err)
		}
		head = append(head, b)

		if b == '\n' && bytes.HasSuffix(head, headTerminator) {
			return head[:len(head)-len(headTerminator)], nil
		}
	}

	return nil, fmt.Errorf("%w: no blank line within %d bytes", ErrHeadTooLarge, MaxHeadSize)
}

func (r *Request) parseHeader(line string) error {
	name, value, ok := strings.Cut(line, ":")
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: malformed header %q", ErrBadRequest, line)
	}
	value = strings.TrimSpace(value)

	switch {
	case strings.EqualFold(name, "Content-Length"):
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: invalid Content-Length %q", ErrBadRequest, value)
		}
		r.ContentLength = n

	case strings.EqualFold(name, "Request-Id"):
		// Unparsable IDs are logged as 0 rather than rejected
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			r.RequestID = n
		}
	}

	return nil
}
