package e2e

import (
	"crypto/rand"
	"strings"
	"testing"
)

// runOnAllConfigs is a helper that runs a test on all configurations
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	configs := AllConfigurations()

	for _, config := range configs {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// runOnS3Configs runs a test on the S3 configurations, skipping when
// Localstack is not reachable
func runOnS3Configs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping S3 tests in short mode")
	}
	if !CheckLocalstackAvailable(t) {
		t.Skip("Localstack not available")
	}

	helper := NewLocalstackHelper(t)
	defer helper.Cleanup()

	for _, config := range S3Configurations() {
		t.Run(config.Name, func(t *testing.T) {
			SetupS3Config(t, config, helper)

			tc := NewTestContext(t, config)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// randomData returns size random bytes
func randomData(t testing.TB, size int) []byte {
	t.Helper()

	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("Failed to generate random data: %v", err)
	}
	return data
}

// auditFields splits an audit line into method, URI, status and request ID
func auditFields(t testing.TB, line string) []string {
	t.Helper()

	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		t.Fatalf("Malformed audit line %q", line)
	}
	return fields
}
