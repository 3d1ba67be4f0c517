package creative

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the asset storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv builds the asset store from environment variables.
//
//   - CREATIVE_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the fs store (default "data")
//   - CREATIVE_S3_BUCKET (required for s3), CREATIVE_S3_REGION or
//     AWS_REGION, CREATIVE_S3_ENDPOINT, CREATIVE_S3_PREFIX
//   - CREATIVE_GCS_BUCKET (required for gcs), CREATIVE_GCS_PREFIX
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("CREATIVE_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "creatives"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("creative: unsupported storage type %q", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("CREATIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("creative: CREATIVE_S3_BUCKET is required for s3 storage")
	}
	region := os.Getenv("CREATIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("CREATIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("CREATIVE_S3_PREFIX"),
	})
}
