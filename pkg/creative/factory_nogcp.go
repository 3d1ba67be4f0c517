//go:build !gcp

package creative

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	_ = ctx
	return nil, fmt.Errorf("creative: gcs storage requires the gcp build tag")
}
