package http

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) (*Request, *bufio.Reader, error) {
	t.Helper()
	br := bufio.NewReaderSize(strings.NewReader(raw), MaxHeadSize)
	req, err := ReadRequest(br)
	return req, br, err
}

func TestReadRequestGet(t *testing.T) {
	req, _, err := parse(t, "GET /foo.txt HTTP/1.1\r\nRequest-Id: 7\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, "/foo.txt", req.URI)
	assert.Equal(t, "foo.txt", req.Name())
	assert.Equal(t, Version, req.Version)
	assert.Equal(t, int64(7), req.RequestID)
	assert.Equal(t, int64(0), req.ContentLength)
	assert.False(t, req.HasBody())
}

func TestReadRequestPutLeavesBody(t *testing.T) {
	req, br, err := parse(t, "PUT /a.bin HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")
	require.NoError(t, err)

	assert.Equal(t, MethodPut, req.Method)
	assert.Equal(t, int64(5), req.ContentLength)
	assert.Equal(t, 5, req.Pipelined)
	assert.True(t, req.HasBody())

	body, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestReadRequestNoHeaders(t *testing.T) {
	req, _, err := parse(t, "GET /x HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/x", req.URI)
	assert.Equal(t, int64(0), req.RequestID)
}

func TestReadRequestHeaderNamesCaseInsensitive(t *testing.T) {
	req, _, err := parse(t, "PUT /x HTTP/1.1\r\ncontent-length: 3\r\nrequest-id: 42\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, int64(3), req.ContentLength)
	assert.Equal(t, int64(42), req.RequestID)
}

func TestReadRequestIgnoresUnknownHeaders(t *testing.T) {
	req, _, err := parse(t, "GET /x HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "/x", req.URI)
}

func TestReadRequestKeepsOtherVersions(t *testing.T) {
	req, _, err := parse(t, "GET /x HTTP/1.0\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.0", req.Version)
}

func TestReadRequestInvalidRequestIDIsZero(t *testing.T) {
	req, _, err := parse(t, "GET /x HTTP/1.1\r\nRequest-Id: abc\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, int64(0), req.RequestID)
}

func TestReadRequestBadRequests(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"Empty", ""},
		{"Unterminated", "GET /x HTTP/1.1\r\n"},
		{"NoSlash", "GET x HTTP/1.1\r\n\r\n"},
		{"Nested", "GET /a/b HTTP/1.1\r\n\r\n"},
		{"BadChars", "GET /a_b HTTP/1.1\r\n\r\n"},
		{"LongMethod", "DELETEALL /x HTTP/1.1\r\n\r\n"},
		{"LongURI", "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n"},
		{"BadVersion", "GET /x HTTP/11\r\n\r\n"},
		{"ExtraSpace", "GET  /x HTTP/1.1\r\n\r\n"},
		{"MalformedHeader", "GET /x HTTP/1.1\r\nNoColon\r\n\r\n"},
		{"NegativeLength", "PUT /x HTTP/1.1\r\nContent-Length: -1\r\n\r\n"},
		{"NonNumericLength", "PUT /x HTTP/1.1\r\nContent-Length: ten\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parse(t, tt.raw)
			require.Error(t, err)
			assert.Equal(t, StatusBadRequest, StatusCode(err))
			assert.True(t, errors.Is(err, ErrBadRequest), "got %v", err)
		})
	}
}

func TestReadRequestHeadTooLarge(t *testing.T) {
	raw := "GET /x HTTP/1.1\r\nX-Pad: " + strings.Repeat("p", MaxHeadSize) + "\r\n\r\n"

	_, _, err := parse(t, raw)
	require.Error(t, err)
	assert.Equal(t, StatusBadRequest, StatusCode(err))
	assert.ErrorIs(t, err, ErrHeadTooLarge)
}

func TestReadRequestMaximalURI(t *testing.T) {
	uri := "/" + strings.Repeat("a", 63)
	req, _, err := parse(t, "GET "+uri+" HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, uri, req.URI)
}
