//go:build gcp

package creative

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("CREATIVE_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("creative: CREATIVE_GCS_BUCKET is required for gcs storage")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("CREATIVE_GCS_PREFIX"),
	})
}
