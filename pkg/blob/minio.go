package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// Store wraps a MinIO bucket as the chunk payload store. Objects are
// write-once; locators are presigned GET URLs bounded by locatorTTL.
type Store struct {
	client     *minio.Client
	bucket     string
	locatorTTL time.Duration
}

func NewStore(client *minio.Client, bucket string, locatorTTL time.Duration) *Store {
	return &Store{
		client:     client,
		bucket:     bucket,
		locatorTTL: locatorTTL,
	}
}

func (s *Store) Upload(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "video/webm",
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("path", path).Msg("failed to upload chunk payload")
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

func (s *Store) ResolveLocator(ctx context.Context, path string) (string, error) {
	// Presigning alone does not verify existence, so stat first; a missing
	// object must fail resolution rather than produce a dead URL.
	if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, s.locatorTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return u.String(), nil
}

// List returns the object paths under prefix with their modification time.
func (s *Store) List(ctx context.Context, prefix string) (map[string]time.Time, error) {
	objects := make(map[string]time.Time)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		objects[info.Key] = info.LastModified
	}
	return objects, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
}
