package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/quarryai/quarry/internal/config"
)

// Store keeps uploaded source files until ingestion consumes them.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

func New(cfg config.FileStoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "local":
		return newLocalStore(cfg)
	case "s3":
		return newS3Store(cfg.S3)
	}
	return nil, fmt.Errorf("unsupported file store type: %s", cfg.Type)
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("file key is required")
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid file key")
	}
	return nil
}
