package e2e

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"testing"
)

// TestGetMissingFile tests that an unknown name yields 404
func TestGetMissingFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		resp := tc.Get("missing.txt")

		if resp.Status != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", resp.Status)
		}
		if string(resp.Body) != "Not Found\n" {
			t.Errorf("Unexpected body %q", resp.Body)
		}

		lines := tc.AuditLines(1)
		want := fmt.Sprintf("GET,/missing.txt,404,%d", resp.RequestID)
		if len(lines) != 1 || lines[0] != want {
			t.Errorf("Expected audit %q, got %v", want, lines)
		}
	})
}

// TestPutThenGet tests creating a file and reading it back
func TestPutThenGet(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		data := []byte("Hello, DittoHTTP!")

		put := tc.Put("hello.txt", data)
		if put.Status != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", put.Status)
		}
		if string(put.Body) != "Created\n" {
			t.Errorf("Unexpected body %q", put.Body)
		}

		get := tc.Get("hello.txt")
		if get.Status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", get.Status)
		}
		if !bytes.Equal(get.Body, data) {
			t.Errorf("Content mismatch: got %q, want %q", get.Body, data)
		}

		lines := tc.AuditLines(2)
		if len(lines) != 2 {
			t.Fatalf("Expected 2 audit lines, got %v", lines)
		}
		if lines[0] != fmt.Sprintf("PUT,/hello.txt,201,%d", put.RequestID) {
			t.Errorf("Unexpected PUT audit line %q", lines[0])
		}
		if lines[1] != fmt.Sprintf("GET,/hello.txt,200,%d", get.RequestID) {
			t.Errorf("Unexpected GET audit line %q", lines[1])
		}
	})
}

// TestOverwriteFile tests that a second PUT replaces the content with 200
func TestOverwriteFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		first := []byte("a much longer first version of the file")
		second := []byte("short")

		if resp := tc.Put("doc.txt", first); resp.Status != http.StatusCreated {
			t.Fatalf("Expected 201 on first PUT, got %d", resp.Status)
		}

		resp := tc.Put("doc.txt", second)
		if resp.Status != http.StatusOK {
			t.Fatalf("Expected 200 on overwrite, got %d", resp.Status)
		}
		if string(resp.Body) != "OK\n" {
			t.Errorf("Unexpected body %q", resp.Body)
		}

		get := tc.Get("doc.txt")
		if !bytes.Equal(get.Body, second) {
			t.Errorf("Old content survived overwrite: got %q", get.Body)
		}
	})
}

// TestEmptyFile tests storing and fetching a zero-length file
func TestEmptyFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if resp := tc.Put("empty", []byte{}); resp.Status != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", resp.Status)
		}

		get := tc.Get("empty")
		if get.Status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", get.Status)
		}
		if len(get.Body) != 0 {
			t.Errorf("Expected empty body, got %d bytes", len(get.Body))
		}
	})
}

// TestLargeFile tests a payload far larger than any internal buffer
func TestLargeFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		data := randomData(t, 8*1024*1024)

		if resp := tc.Put("large.bin", data); resp.Status != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", resp.Status)
		}

		get := tc.Get("large.bin")
		if get.Status != http.StatusOK {
			t.Fatalf("Expected 200, got %d", get.Status)
		}
		if !bytes.Equal(get.Body, data) {
			t.Errorf("Large file content mismatch (%d bytes read)", len(get.Body))
		}
	})
}

// TestRejectedTargets tests names the server refuses to serve
func TestRejectedTargets(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		// Dot names map outside the served directory
		resp := tc.Get("..")
		if resp.Status != http.StatusForbidden {
			t.Errorf("GET /..: expected 403, got %d", resp.Status)
		}

		// Nested paths do not match the request line grammar
		resp = tc.Get("dir/file")
		if resp.Status != http.StatusBadRequest {
			t.Errorf("GET /dir/file: expected 400, got %d", resp.Status)
		}
	})
}

// TestUnsupportedMethod tests that methods other than GET and PUT yield 501
func TestUnsupportedMethod(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		resp, err := tc.Send(http.MethodDelete, "file.txt", nil)
		if err != nil {
			t.Fatalf("DELETE failed: %v", err)
		}
		if resp.Status != http.StatusNotImplemented {
			t.Fatalf("Expected 501, got %d", resp.Status)
		}

		lines := tc.AuditLines(1)
		if len(lines) != 1 {
			t.Fatalf("Expected 1 audit line, got %v", lines)
		}
		fields := auditFields(t, lines[0])
		if fields[0] != "DELETE" || fields[2] != "501" || fields[3] != strconv.FormatInt(resp.RequestID, 10) {
			t.Errorf("Unexpected audit line %q", lines[0])
		}
	})
}

// TestS3RoundTrip tests GET and PUT against an S3 bucket, including a body
// large enough for a multipart upload
func TestS3RoundTrip(t *testing.T) {
	runOnS3Configs(t, func(t *testing.T, tc *TestContext) {
		if resp := tc.Get("absent"); resp.Status != http.StatusNotFound {
			t.Errorf("Expected 404 for missing object, got %d", resp.Status)
		}

		small := []byte("stored in S3")
		if resp := tc.Put("small.txt", small); resp.Status != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", resp.Status)
		}
		if get := tc.Get("small.txt"); !bytes.Equal(get.Body, small) {
			t.Errorf("Content mismatch: got %q", get.Body)
		}

		large := randomData(t, 12*1024*1024)
		if resp := tc.Put("large.bin", large); resp.Status != http.StatusCreated {
			t.Fatalf("Expected 201 for multipart PUT, got %d", resp.Status)
		}
		if get := tc.Get("large.bin"); !bytes.Equal(get.Body, large) {
			t.Errorf("Multipart content mismatch (%d bytes read)", len(get.Body))
		}
	})
}
