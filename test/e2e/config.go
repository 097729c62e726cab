package e2e

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittohttp/pkg/content"
	contentbadger "github.com/marmos91/dittohttp/pkg/content/badger"
	contentfs "github.com/marmos91/dittohttp/pkg/content/fs"
	contentmemory "github.com/marmos91/dittohttp/pkg/content/memory"
	contents3 "github.com/marmos91/dittohttp/pkg/content/s3"
	"github.com/marmos91/dittohttp/pkg/lock"
)

// ContentStoreType represents the type of content store
type ContentStoreType string

const (
	ContentMemory     ContentStoreType = "memory"
	ContentFilesystem ContentStoreType = "filesystem"
	ContentBadger     ContentStoreType = "badger"
	ContentS3         ContentStoreType = "s3"
)

// TestContextProvider is an interface for providing test context dependencies
type TestContextProvider interface {
	CreateTempDir(prefix string) string
	GetConfig() *TestConfig
	GetPort() int
}

// TestConfig holds the configuration for a test run
type TestConfig struct {
	Name         string
	ContentStore ContentStoreType
	LockPolicy   lock.Policy
	Threads      int

	// S3-specific fields (set by localstack setup)
	s3Client *s3.Client
	s3Bucket string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.ContentStore, tc.LockPolicy)
}

// CreateContentStore creates a content store based on the configuration
func (tc *TestConfig) CreateContentStore(ctx context.Context, testCtx TestContextProvider) (content.WritableContentStore, error) {
	switch tc.ContentStore {
	case ContentMemory:
		store, err := contentmemory.NewMemoryContentStore(ctx, contentmemory.MemoryContentStoreConfig{})
		if err != nil {
			return nil, fmt.Errorf("failed to create memory content store: %w", err)
		}
		return store, nil

	case ContentFilesystem:
		store, err := contentfs.NewFSContentStore(ctx, contentfs.FSContentStoreConfig{
			Path: testCtx.CreateTempDir("dittohttp-content-*"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
		}
		return store, nil

	case ContentBadger:
		store, err := contentbadger.NewBadgerContentStore(ctx, contentbadger.BadgerContentStoreConfig{
			Path: filepath.Join(testCtx.CreateTempDir("dittohttp-badger-*"), "content.db"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger content store: %w", err)
		}
		return store, nil

	case ContentS3:
		// S3 requires localstack setup
		config := testCtx.GetConfig()
		if config.s3Client == nil {
			return nil, fmt.Errorf("S3 client not initialized (localstack not running?)")
		}

		store, err := contents3.NewS3ContentStore(ctx, contents3.S3ContentStoreConfig{
			Client:    config.s3Client,
			Bucket:    config.s3Bucket,
			KeyPrefix: fmt.Sprintf("e2e-%d/", testCtx.GetPort()),
			PartSize:  5 * 1024 * 1024, // 5MB parts
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 content store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown content store type: %s", tc.ContentStore)
	}
}

// AllConfigurations returns all test configurations that run without
// external services
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:         "memory-nway",
			ContentStore: ContentMemory,
			LockPolicy:   lock.PolicyNWay,
			Threads:      4,
		},
		{
			Name:         "filesystem-nway",
			ContentStore: ContentFilesystem,
			LockPolicy:   lock.PolicyNWay,
			Threads:      4,
		},
		{
			Name:         "filesystem-readers",
			ContentStore: ContentFilesystem,
			LockPolicy:   lock.PolicyReaders,
			Threads:      8,
		},
		{
			Name:         "filesystem-writers",
			ContentStore: ContentFilesystem,
			LockPolicy:   lock.PolicyWriters,
			Threads:      8,
		},
		{
			Name:         "badger-nway",
			ContentStore: ContentBadger,
			LockPolicy:   lock.PolicyNWay,
			Threads:      4,
		},
	}
}

// S3Configurations returns configurations that use S3 (requires localstack)
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:         "s3-nway",
			ContentStore: ContentS3,
			LockPolicy:   lock.PolicyNWay,
			Threads:      4,
		},
	}
}

// GetConfiguration returns a specific configuration by name
func GetConfiguration(name string) *TestConfig {
	for _, config := range AllConfigurations() {
		if config.Name == name {
			return config
		}
	}
	for _, config := range S3Configurations() {
		if config.Name == name {
			return config
		}
	}
	return nil
}
