package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittohttp/pkg/content"
)

// StoreTestSuite is a test suite for WritableContentStore implementations.
// It tests the interface contract, not implementation details, making it reusable
// across different implementations (memory, filesystem, badger, S3).
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func() content.WritableContentStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh store instance
	// for each test. This ensures test isolation.
	NewStore func() content.WritableContentStore
}

// Run executes all tests in the suite. Streaming tests run only when the
// store implements StreamingContentStore.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("InvalidIDs", suite.RunInvalidIDTests)
	t.Run("StreamingOperations", suite.RunStreamingTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
