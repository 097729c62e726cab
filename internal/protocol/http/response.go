package http

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Status codes produced by the server.
const (
	StatusOK                  = 200
	StatusCreated             = 201
	StatusBadRequest          = 400
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
	StatusVersionNotSupported = 505
)

var statusText = map[int]string{
	StatusOK:                  "OK",
	StatusCreated:             "Created",
	StatusBadRequest:          "Bad Request",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusVersionNotSupported: "Version Not Supported",
}

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

// StatusError carries the status code a failure should be answered with.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return strconv.Itoa(e.Code) + " " + StatusText(e.Code)
	}
	return fmt.Sprintf("%d %s: %v", e.Code, StatusText(e.Code), e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the status code from err, defaulting to 500.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusInternalServerError
}

// WriteHeader writes a status line and a Content-Length header followed by
// the blank line. The caller writes exactly contentLength body bytes next.
func WriteHeader(w io.Writer, code int, contentLength int64) error {
	_, err := fmt.Fprintf(w, "%s %d %s\r\nContent-Length: %d\r\n\r\n",
		Version, code, StatusText(code), contentLength)
	return err
}

// WriteStatus writes a complete response whose body is the reason phrase
// followed by a newline.
func WriteStatus(w io.Writer, code int) error {
	body := StatusText(code) + "\n"
	if err := WriteHeader(w, code, int64(len(body))); err != nil {
		return err
	}
	_, err := io.WriteString(w, body)
	return err
}
