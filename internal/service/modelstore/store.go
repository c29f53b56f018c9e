// Package modelstore downloads network files from an S3-compatible bucket
// before the detector loads them.
package modelstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"headcount/internal/config"
	"headcount/internal/logger"
)

// ObjectGetter is the part of the minio client the store needs.
type ObjectGetter interface {
	FGetObject(ctx context.Context, bucket, object, filePath string, opts miniogo.GetObjectOptions) error
}

type Store struct {
	client ObjectGetter
	bucket string
	logger *logger.Logger
}

// New returns nil when no endpoint is configured.
func New(cfg config.ModelStoreConfig, logger *logger.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, logger), nil
}

func NewWithClient(client ObjectGetter, bucket string, logger *logger.Logger) *Store {
	return &Store{client: client, bucket: bucket, logger: logger}
}

// Ensure downloads object to path unless path already exists. An empty object
// name is a no-op.
func (s *Store) Ensure(ctx context.Context, object, path string) error {
	if object == "" || path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		s.logger.Debug("Model file %s already present", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	s.logger.Info("Downloading %s/%s to %s", s.bucket, object, path)
	if err := s.client.FGetObject(ctx, s.bucket, object, path, miniogo.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s: %w", object, err)
	}
	return nil
}

// Fetch makes sure the model and its config are on disk.
func Fetch(ctx context.Context, cfg *config.Config, logger *logger.Logger) error {
	store, err := New(cfg.ModelStore, logger)
	if err != nil || store == nil {
		return err
	}
	if err := store.Ensure(ctx, cfg.ModelStore.ModelObject, cfg.ModelPath); err != nil {
		return err
	}
	return store.Ensure(ctx, cfg.ModelStore.ConfigObject, cfg.ConfigPath)
}
