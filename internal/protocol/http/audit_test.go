package http

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(&buf)

	require.NoError(t, audit.Log(MethodGet, "/a.txt", StatusOK, 1))
	require.NoError(t, audit.Log(MethodNone, "", StatusBadRequest, 0))

	assert.Equal(t, "GET,/a.txt,200,1\nNONE,,400,0\n", buf.String())
}

func TestAuditLoggerNilWriter(t *testing.T) {
	audit := NewAuditLogger(nil)
	assert.NoError(t, audit.Log(MethodPut, "/b", StatusCreated, 2))
}

func TestAuditLoggerConcurrentLinesIntact(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(&buf)

	const goroutines, perGoroutine = 8, 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_ = audit.Log(MethodPut, "/shared.txt", StatusOK, int64(i))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, goroutines*perGoroutine)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "PUT,/shared.txt,200,"), "corrupt line %q", line)
	}
}
