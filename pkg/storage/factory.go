package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/signportal/pkg/config"
)

// New builds the BlobStore selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (BlobStore, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.LocalDir, logger)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.UploadTimeout, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
